package target

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchable/internal/batcher"
	"batchable/internal/config"
	"batchable/internal/plugin"
)

func testBatch() *batcher.Batch {
	return &batcher.Batch{
		ID:        "b-1",
		Key:       "users.delete",
		Items:     []any{"a", "b"},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Trigger:   batcher.TriggerSize,
	}
}

func TestHTTPTarget_PostsPayload(t *testing.T) {
	var got Payload
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tgt := NewHTTPTarget(srv.URL, map[string]string{"Authorization": "Bearer x"}, time.Second, nil, zerolog.Nop())
	require.NoError(t, tgt.HandleBatch(context.Background(), testBatch()))

	assert.Equal(t, "users.delete", got.Handler)
	assert.Equal(t, "b-1", got.BatchID)
	assert.Equal(t, "size", got.Trigger)
	assert.Equal(t, []any{"a", "b"}, got.Items)
	assert.Equal(t, "Bearer x", gotHeader)
}

func TestHTTPTarget_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	tgt := NewHTTPTarget(srv.URL, nil, time.Second, nil, zerolog.Nop())
	err := tgt.HandleBatch(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPTarget_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := NewBreaker(BreakerConfig{Enabled: true, FailureThreshold: 2, RecoveryTimeout: time.Hour}, zerolog.Nop())
	tgt := NewHTTPTarget(srv.URL, nil, time.Second, cb, zerolog.Nop())

	for i := 0; i < 2; i++ {
		require.Error(t, tgt.HandleBatch(context.Background(), testBatch()))
	}
	err := tgt.HandleBatch(context.Background(), testBatch())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreaker_Recovery(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 1}, zerolog.Nop())
	b.now = func() time.Time { return now }

	fail := errors.New("down")
	assert.Equal(t, fail, b.Do(func() error { return fail }))
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	assert.ErrorIs(t, b.Do(func() error { called = true; return nil }), ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{Enabled: true, FailureThreshold: 3, RecoveryTimeout: time.Second, HalfOpenMaxRequests: 2}, zerolog.Nop())
	b.now = func() time.Time { return now }

	fail := errors.New("down")
	for i := 0; i < 3; i++ {
		b.Do(func() error { return fail })
	}
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(time.Second)
	b.Do(func() error { return fail })
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_HalfOpenLimitsTrialsInFlight(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxRequests: 2}, zerolog.Nop())
	b.now = func() time.Time { return now }

	b.Do(func() error { return errors.New("down") })
	require.Equal(t, BreakerOpen, b.State())
	now = now.Add(time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Do(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	close(release)
	wg.Wait()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_Disabled(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1}, zerolog.Nop())
	for i := 0; i < 5; i++ {
		b.Do(func() error { return errors.New("down") })
	}
	assert.Equal(t, BreakerClosed, b.State())
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaTarget_Publishes(t *testing.T) {
	w := &fakeWriter{}
	tgt := NewKafkaTargetWithWriter("batches", w, zerolog.Nop())

	require.NoError(t, tgt.HandleBatch(context.Background(), testBatch()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "users.delete", string(w.msgs[0].Key))

	var p Payload
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &p))
	assert.Equal(t, "b-1", p.BatchID)
	assert.Len(t, p.Items, 2)

	require.NoError(t, tgt.Close())
	assert.True(t, w.closed)
}

func TestKafkaTarget_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("no leader")}
	tgt := NewKafkaTargetWithWriter("batches", w, zerolog.Nop())

	err := tgt.HandleBatch(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batches")
}

func TestPluginTarget(t *testing.T) {
	m := plugin.NewPluginManager(zerolog.Nop())
	require.NoError(t, m.LoadScript("count.js", `// @handler users.delete
function execute(items, batch) { return items.length === 2; }`))

	tgt := NewPluginTarget("users.delete", m)
	assert.NoError(t, tgt.HandleBatch(context.Background(), testBatch()))

	b := testBatch()
	b.Items = []any{"only"}
	assert.Error(t, tgt.HandleBatch(context.Background(), b))
}

func TestBuild(t *testing.T) {
	cfg := &config.Config{Kafka: &config.KafkaConfig{Brokers: []string{"localhost:9092"}}}
	m := plugin.NewPluginManager(zerolog.Nop())
	require.NoError(t, m.LoadScript("p.js", "// @handler p\nfunction execute(items) { return true; }"))

	tests := []struct {
		name     string
		target   config.TargetConfig
		cfg      *config.Config
		wantType string
		wantErr  bool
	}{
		{name: "log", target: config.TargetConfig{Type: config.TargetLog}, cfg: cfg, wantType: "log"},
		{name: "default", target: config.TargetConfig{}, cfg: cfg, wantType: "log"},
		{name: "http", target: config.TargetConfig{Type: config.TargetHTTP, URL: "http://localhost"}, cfg: cfg, wantType: "http"},
		{name: "kafka", target: config.TargetConfig{Type: config.TargetKafka, Topic: "t"}, cfg: cfg, wantType: "kafka"},
		{name: "kafka without brokers", target: config.TargetConfig{Type: config.TargetKafka, Topic: "t"}, cfg: &config.Config{}, wantErr: true},
		{name: "plugin", target: config.TargetConfig{Type: config.TargetPlugin}, cfg: cfg, wantType: "plugin"},
		{name: "missing plugin", target: config.TargetConfig{Type: config.TargetPlugin, Plugin: "nope"}, cfg: cfg, wantErr: true},
		{name: "unknown", target: config.TargetConfig{Type: "smtp"}, cfg: cfg, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := config.HandlerConfig{Name: "p", Size: 1, Target: tt.target}
			tgt, err := Build(hc, tt.cfg, m, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, tgt.Type())
			assert.NoError(t, tgt.Close())
		})
	}
}
