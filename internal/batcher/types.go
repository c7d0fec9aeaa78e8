package batcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Key identifies one accumulating batch
type Key string

// Trigger names the path that extracted a batch
type Trigger string

const (
	TriggerSize  Trigger = "size"
	TriggerTime  Trigger = "time"
	TriggerDrain Trigger = "drain"
)

var (
	ErrNoTrigger          = errors.New("at least one of size or time threshold must be positive")
	ErrNilHandler         = errors.New("batch handler is nil")
	ErrDuplicateHandler   = errors.New("batch handler already registered")
	ErrUnknownHandler     = errors.New("batch handler not registered")
	ErrTargetUnresolvable = errors.New("batch target cannot handle batches")
)

// Default thresholds used when a handler does not override them
const (
	DefaultSizeThreshold = 10
	DefaultTimeThreshold = 5 * time.Minute
)

// Config holds the thresholds of one key. A non-positive threshold is inactive.
type Config struct {
	SizeThreshold int
	TimeThreshold time.Duration
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		SizeThreshold: DefaultSizeThreshold,
		TimeThreshold: DefaultTimeThreshold,
	}
}

// SizeEnabled returns true if the size trigger is active
func (c Config) SizeEnabled() bool {
	return c.SizeThreshold > 0
}

// TimeEnabled returns true if the time trigger is active
func (c Config) TimeEnabled() bool {
	return c.TimeThreshold > 0
}

// Validate returns ErrNoTrigger if neither trigger is active
func (c Config) Validate() error {
	if !c.SizeEnabled() && !c.TimeEnabled() {
		return fmt.Errorf("size=%d, timeout=%s: %w", c.SizeThreshold, c.TimeThreshold, ErrNoTrigger)
	}
	return nil
}

// Batch is the accumulating unit of one key
type Batch struct {
	ID           string
	Key          Key
	Items        []any
	Config       Config
	Target       any
	CreatedAt    time.Time
	LastAccessAt time.Time
	// Trigger is set when the batch is extracted
	Trigger Trigger
}

// Len returns the number of accumulated items
func (b *Batch) Len() int {
	return len(b.Items)
}

// IsEmpty returns true if the batch holds no items
func (b *Batch) IsEmpty() bool {
	return len(b.Items) == 0
}

// ShouldTriggerBySize reports whether the size threshold has been reached
func (b *Batch) ShouldTriggerBySize() bool {
	return b.Config.SizeEnabled() && len(b.Items) >= b.Config.SizeThreshold
}

// ShouldTriggerByTime reports whether the time threshold has elapsed at now.
// The boundary is inclusive.
func (b *Batch) ShouldTriggerByTime(now time.Time) bool {
	if !b.Config.TimeEnabled() || b.IsEmpty() {
		return false
	}
	return !b.CreatedAt.Add(b.Config.TimeThreshold).After(now)
}

// clone copies the batch so callers never share the items slice with the store
func (b *Batch) clone() *Batch {
	c := *b
	c.Items = make([]any, len(b.Items))
	copy(c.Items, b.Items)
	return &c
}

// Executor consumes an extracted batch
type Executor interface {
	Execute(ctx context.Context, batch *Batch) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, batch *Batch) error

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, batch *Batch) error {
	return f(ctx, batch)
}

// Handler processes the items of a batch. Handlers are the targets captured
// by batches created through a Registry.
type Handler interface {
	HandleBatch(ctx context.Context, batch *Batch) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, batch *Batch) error

// HandleBatch calls f
func (f HandlerFunc) HandleBatch(ctx context.Context, batch *Batch) error {
	return f(ctx, batch)
}

// Typed adapts a callback over a concrete item type. Items that are not of
// type T fail the whole batch.
func Typed[T any](fn func(ctx context.Context, items []T) error) Handler {
	return HandlerFunc(func(ctx context.Context, batch *Batch) error {
		items := make([]T, 0, len(batch.Items))
		for i, item := range batch.Items {
			v, ok := item.(T)
			if !ok {
				var zero T
				return fmt.Errorf("item %d: got %T, want %T", i, item, zero)
			}
			items = append(items, v)
		}
		return fn(ctx, items)
	})
}

// TargetExecutor returns an Executor that runs the Handler captured as the
// batch target
func TargetExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, batch *Batch) error {
		handler, ok := batch.Target.(Handler)
		if !ok || handler == nil {
			return fmt.Errorf("key %s: target %T: %w", batch.Key, batch.Target, ErrTargetUnresolvable)
		}
		return handler.HandleBatch(ctx, batch)
	})
}

// Delivery describes one executed batch
type Delivery struct {
	BatchID   string
	Key       Key
	Trigger   Trigger
	Items     int
	CreatedAt time.Time
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Succeeded returns true if the executor reported no error
func (d Delivery) Succeeded() bool {
	return d.Err == nil
}

// DeliveryObserver is notified after every executed batch
type DeliveryObserver interface {
	OnDelivery(d Delivery)
}
