package batcher

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// recordingExecutor records every executed batch and fails keys listed in failKeys
type recordingExecutor struct {
	mu       sync.Mutex
	batches  []*Batch
	failKeys map[Key]error
}

func (r *recordingExecutor) Execute(ctx context.Context, batch *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	if err, ok := r.failKeys[batch.Key]; ok {
		return err
	}
	return nil
}

func (r *recordingExecutor) Batches() []*Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Batch, len(r.batches))
	copy(out, r.batches)
	return out
}

type recordingObserver struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (o *recordingObserver) OnDelivery(d Delivery) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries = append(o.deliveries, d)
}

func (o *recordingObserver) Deliveries() []Delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Delivery, len(o.deliveries))
	copy(out, o.deliveries)
	return out
}
