package history

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"batchable/internal/batcher"
)

// DefaultSize is the number of deliveries kept when no size is configured
const DefaultSize = 1000

// subscriberBuffer is the channel size of each subscriber
const subscriberBuffer = 64

// Record is the JSON view of a delivery
type Record struct {
	BatchID    string    `json:"batchId"`
	Handler    string    `json:"handler"`
	Trigger    string    `json:"trigger"`
	Items      int       `json:"items"`
	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

// NewRecord converts a delivery into a Record
func NewRecord(d batcher.Delivery) Record {
	r := Record{
		BatchID:    d.BatchID,
		Handler:    string(d.Key),
		Trigger:    string(d.Trigger),
		Items:      d.Items,
		CreatedAt:  d.CreatedAt,
		StartedAt:  d.StartedAt,
		DurationMs: d.Duration.Milliseconds(),
	}
	if d.Err != nil {
		r.Error = d.Err.Error()
	}
	return r
}

// History keeps the most recent deliveries and streams new ones to subscribers
type History struct {
	cache  *lru.Cache[string, Record]
	logger zerolog.Logger

	subscribers map[uint64]chan Record
	nextID      uint64
	mu          sync.RWMutex
}

// New creates a History holding up to size records
func New(size int, logger zerolog.Logger) (*History, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, Record](size)
	if err != nil {
		return nil, err
	}
	return &History{
		cache:       cache,
		logger:      logger.With().Str("component", "history").Logger(),
		subscribers: make(map[uint64]chan Record),
	}, nil
}

// OnDelivery records d and forwards it to subscribers.
// Slow subscribers miss records instead of blocking the executor.
func (h *History) OnDelivery(d batcher.Delivery) {
	record := NewRecord(d)
	h.cache.Add(record.BatchID, record)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- record:
		default:
			h.logger.Warn().
				Uint64("subscriber", id).
				Str("batchId", record.BatchID).
				Msg("subscriber buffer full, dropping record")
		}
	}
}

// Get returns the record of a batch
func (h *History) Get(batchID string) (Record, bool) {
	return h.cache.Peek(batchID)
}

// Recent returns up to n records, newest first. n <= 0 returns all of them.
func (h *History) Recent(n int) []Record {
	keys := h.cache.Keys()
	if n <= 0 || n > len(keys) {
		n = len(keys)
	}

	records := make([]Record, 0, n)
	for i := len(keys) - 1; i >= 0 && len(records) < n; i-- {
		if r, ok := h.cache.Peek(keys[i]); ok {
			records = append(records, r)
		}
	}
	return records
}

// Len returns the number of stored records
func (h *History) Len() int {
	return h.cache.Len()
}

// Subscribe returns a channel receiving every new record and a function
// that ends the subscription and closes the channel
func (h *History) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers
func (h *History) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
