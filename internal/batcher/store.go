package batcher

import (
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the pending batch of every key.
// A single mutex guards the map; critical sections are map operations only.
type Store struct {
	batches map[Key]*Batch
	now     func() time.Time
	newID   func() string
	mu      sync.Mutex
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		batches: make(map[Key]*Batch),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SetClock replaces the clock used for createdAt and lastAccessAt
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Add appends item to the batch of key, creating the batch with cfg and
// target if none is pending. An item equal to one already present is skipped.
// The config and target of an existing batch are never replaced.
func (s *Store) Add(key Key, item any, cfg Config, target any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	batch, ok := s.batches[key]
	if !ok {
		batch = &Batch{
			ID:        s.newID(),
			Key:       key,
			Items:     make([]any, 0, initialCapacity(cfg)),
			Config:    cfg,
			Target:    target,
			CreatedAt: now,
		}
		s.batches[key] = batch
	}
	batch.LastAccessAt = now

	if !containsItem(batch.Items, item) {
		batch.Items = append(batch.Items, item)
	}
}

// Peek returns a copy of the pending batch of key
func (s *Store) Peek(key Key) (*Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[key]
	if !ok {
		return nil, false
	}
	return batch.clone(), true
}

// TakeIfNonEmpty removes and returns the batch of key if it holds at least
// one item. Otherwise the store is left unchanged.
func (s *Store) TakeIfNonEmpty(key Key) (*Batch, bool) {
	return s.TakeIf(key, nil)
}

// TakeIf removes and returns the batch of key if it is non-empty and ready
// returns true for it. ready runs under the store lock and must not block.
func (s *Store) TakeIf(key Key, ready func(*Batch) bool) (*Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[key]
	if !ok || batch.IsEmpty() {
		return nil, false
	}
	if ready != nil && !ready(batch) {
		return nil, false
	}

	delete(s.batches, key)
	return batch, true
}

// Snapshot returns copies of all pending batches
func (s *Store) Snapshot() []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches := make([]*Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		batches = append(batches, batch.clone())
	}
	return batches
}

// Len returns the number of pending batches
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Clear discards every pending batch and returns how many were dropped
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.batches)
	s.batches = make(map[Key]*Batch)
	return n
}

// containsItem compares by value, so maps and slices decoded from JSON are
// matched like scalars
func containsItem(items []any, item any) bool {
	for _, existing := range items {
		if reflect.DeepEqual(existing, item) {
			return true
		}
	}
	return false
}

func initialCapacity(cfg Config) int {
	if cfg.SizeEnabled() && cfg.SizeThreshold <= 1024 {
		return cfg.SizeThreshold
	}
	return 16
}
