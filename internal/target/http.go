package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"batchable/internal/batcher"
)

// HTTPTarget POSTs each batch as JSON to a URL
type HTTPTarget struct {
	url     string
	headers map[string]string
	client  *http.Client
	breaker *Breaker
	logger  zerolog.Logger
}

// NewHTTPTarget creates a new HTTPTarget
func NewHTTPTarget(url string, headers map[string]string, timeout time.Duration, breaker *Breaker, logger zerolog.Logger) *HTTPTarget {
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{}, logger)
	}
	return &HTTPTarget{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
		logger:  logger,
	}
}

// HandleBatch sends the batch. Any non-2xx status fails the batch.
func (t *HTTPTarget) HandleBatch(ctx context.Context, batch *batcher.Batch) error {
	err := t.breaker.Do(func() error {
		return t.post(ctx, batch)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("%s: %w", t.url, err)
	}
	return err
}

func (t *HTTPTarget) post(ctx context.Context, batch *batcher.Batch) error {
	body, err := json.Marshal(NewPayload(batch))
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Batch-Id", batch.ID)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	// drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)

	t.logger.Debug().
		Str("url", t.url).
		Str("batchId", batch.ID).
		Int("status", resp.StatusCode).
		Msg("batch posted")
	return nil
}

// Type returns "http"
func (t *HTTPTarget) Type() string { return "http" }

// Close releases idle connections
func (t *HTTPTarget) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
