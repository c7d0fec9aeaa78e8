package target

import (
	"context"

	"github.com/rs/zerolog"

	"batchable/internal/batcher"
)

// LogTarget writes every batch to the log
type LogTarget struct {
	logger zerolog.Logger
}

// NewLogTarget creates a new LogTarget
func NewLogTarget(logger zerolog.Logger) *LogTarget {
	return &LogTarget{logger: logger}
}

// HandleBatch logs the batch
func (t *LogTarget) HandleBatch(ctx context.Context, batch *batcher.Batch) error {
	t.logger.Info().
		Str("handler", string(batch.Key)).
		Str("batchId", batch.ID).
		Str("trigger", string(batch.Trigger)).
		Int("items", batch.Len()).
		Interface("payload", batch.Items).
		Msg("batch")
	return nil
}

// Type returns "log"
func (t *LogTarget) Type() string { return "log" }

// Close does nothing
func (t *LogTarget) Close() error { return nil }
