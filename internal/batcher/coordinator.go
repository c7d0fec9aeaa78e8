package batcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeromicro/go-zero/core/errorx"
)

// Coordinator applies the size and time triggers and hands every extracted
// batch to the executor exactly once. It never mutates the store directly.
type Coordinator struct {
	store      *Store
	executor   Executor
	dispatcher Dispatcher
	observer   DeliveryObserver
	logger     zerolog.Logger

	submitted       atomic.Uint64
	deliveredBySize atomic.Uint64
	deliveredByTime atomic.Uint64
	drained         atomic.Uint64
	failed          atomic.Uint64
}

// Stats holds coordinator counters
type Stats struct {
	Submitted       uint64 `json:"submitted"`
	DeliveredBySize uint64 `json:"deliveredBySize"`
	DeliveredByTime uint64 `json:"deliveredByTime"`
	Drained         uint64 `json:"drained"`
	Failed          uint64 `json:"failed"`
	Pending         int    `json:"pending"`
}

// SweepResult summarizes one sweep. Delivered counts extracted batches.
// Err aggregates execution failures only when execution is inline; with an
// async dispatcher Async is set and failures show up in Stats and the observer.
type SweepResult struct {
	Scanned   int
	Delivered int
	Async     bool
	Err       error
}

// NewCoordinator creates a coordinator over store that executes batches with executor
func NewCoordinator(store *Store, executor Executor, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:      store,
		executor:   executor,
		dispatcher: InlineDispatcher{},
		logger:     logger.With().Str("component", "batcher").Logger(),
	}
}

// SetDispatcher sets where batches are executed. Defaults to inline.
// Not safe for concurrent use, call it before the first Submit.
func (c *Coordinator) SetDispatcher(d Dispatcher) {
	c.dispatcher = d
}

// SetObserver sets the delivery observer.
// Not safe for concurrent use, call it before the first Submit.
func (c *Coordinator) SetObserver(o DeliveryObserver) {
	c.observer = o
}

// Store returns the underlying store
func (c *Coordinator) Store() *Store {
	return c.store
}

// Submit adds item to the batch of key and executes the batch if its size
// threshold is reached. Executor failures are logged and never returned.
func (c *Coordinator) Submit(ctx context.Context, key Key, item any, cfg Config, target any) {
	c.store.Add(key, item, cfg, target)
	c.submitted.Add(1)

	pending, ok := c.store.Peek(key)
	if !ok || !pending.ShouldTriggerBySize() {
		return
	}

	batch, ok := c.store.TakeIf(key, (*Batch).ShouldTriggerBySize)
	if !ok {
		// another submit or the sweep got it first
		return
	}

	c.logger.Debug().
		Str("key", string(key)).
		Str("batchId", batch.ID).
		Int("items", batch.Len()).
		Msg("size threshold reached")

	c.deliveredBySize.Add(1)
	c.dispatch(ctx, batch, TriggerSize, nil)
}

// Sweep executes every batch whose time threshold has elapsed at now.
// A failing key does not stop the sweep; failures are aggregated in the result.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) SweepResult {
	pending := c.store.Snapshot()
	result := SweepResult{Scanned: len(pending)}

	var errs errorx.BatchError
	collect := &errs
	if _, inline := c.dispatcher.(InlineDispatcher); !inline {
		// tasks may finish after this sweep returns
		collect = nil
		result.Async = true
	}
	expired := func(b *Batch) bool { return b.ShouldTriggerByTime(now) }

	for _, snapshot := range pending {
		if !expired(snapshot) {
			continue
		}

		batch, ok := c.store.TakeIf(snapshot.Key, expired)
		if !ok {
			continue
		}

		c.logger.Debug().
			Str("key", string(batch.Key)).
			Str("batchId", batch.ID).
			Int("items", batch.Len()).
			Time("createdAt", batch.CreatedAt).
			Msg("time threshold reached")

		c.deliveredByTime.Add(1)
		result.Delivered++
		c.dispatch(ctx, batch, TriggerTime, collect)
	}

	result.Err = errs.Err()
	return result
}

// Drain executes every pending non-empty batch regardless of thresholds
func (c *Coordinator) Drain(ctx context.Context) int {
	delivered := 0
	for _, snapshot := range c.store.Snapshot() {
		batch, ok := c.store.TakeIfNonEmpty(snapshot.Key)
		if !ok {
			continue
		}
		c.drained.Add(1)
		delivered++
		c.dispatch(ctx, batch, TriggerDrain, nil)
	}
	return delivered
}

// Wait blocks until all dispatched executions have returned
func (c *Coordinator) Wait() {
	c.dispatcher.Wait()
}

// Pending returns snapshots of all pending batches
func (c *Coordinator) Pending() []*Batch {
	return c.store.Snapshot()
}

// Stats returns the current counters
func (c *Coordinator) Stats() Stats {
	return Stats{
		Submitted:       c.submitted.Load(),
		DeliveredBySize: c.deliveredBySize.Load(),
		DeliveredByTime: c.deliveredByTime.Load(),
		Drained:         c.drained.Load(),
		Failed:          c.failed.Load(),
		Pending:         c.store.Len(),
	}
}

// dispatch hands batch to the dispatcher. errs collects the failure when the
// execution runs inline.
func (c *Coordinator) dispatch(ctx context.Context, batch *Batch, trigger Trigger, errs *errorx.BatchError) {
	batch.Trigger = trigger
	c.dispatcher.Dispatch(func() {
		if err := c.execute(ctx, batch, trigger); err != nil && errs != nil {
			errs.Add(fmt.Errorf("key %s: %w", batch.Key, err))
		}
	})
}

// execute runs the executor outside any store lock and reports the outcome
func (c *Coordinator) execute(ctx context.Context, batch *Batch, trigger Trigger) (err error) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch executor panicked: %v", r)
		}

		delivery := Delivery{
			BatchID:   batch.ID,
			Key:       batch.Key,
			Trigger:   trigger,
			Items:     batch.Len(),
			CreatedAt: batch.CreatedAt,
			StartedAt: started,
			Duration:  time.Since(started),
			Err:       err,
		}

		if err != nil {
			c.failed.Add(1)
			c.logger.Error().
				Err(err).
				Str("key", string(batch.Key)).
				Str("batchId", batch.ID).
				Str("trigger", string(trigger)).
				Int("items", batch.Len()).
				Msg("batch execution failed, items dropped")
		} else {
			c.logger.Debug().
				Str("key", string(batch.Key)).
				Str("batchId", batch.ID).
				Str("trigger", string(trigger)).
				Int("items", batch.Len()).
				Dur("duration", delivery.Duration).
				Msg("batch executed")
		}

		if c.observer != nil {
			c.observer.OnDelivery(delivery)
		}
	}()

	if c.executor == nil {
		return fmt.Errorf("batch executor not set")
	}
	return c.executor.Execute(ctx, batch)
}
