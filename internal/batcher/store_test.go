package batcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddCreatesBatchLazily(t *testing.T) {
	clock := newFakeClock()
	s := NewStore()
	s.SetClock(clock.Now)

	_, ok := s.Peek("k")
	assert.False(t, ok)

	created := clock.Now()
	s.Add("k", "a", Config{SizeThreshold: 3}, "target-1")

	b, ok := s.Peek("k")
	require.True(t, ok)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, Key("k"), b.Key)
	assert.Equal(t, []any{"a"}, b.Items)
	assert.Equal(t, created, b.CreatedAt)
	assert.Equal(t, created, b.LastAccessAt)
	assert.Equal(t, "target-1", b.Target)
}

func TestStore_AddKeepsOrderAndDeduplicates(t *testing.T) {
	clock := newFakeClock()
	s := NewStore()
	s.SetClock(clock.Now)
	cfg := Config{SizeThreshold: 10}

	s.Add("k", "a", cfg, nil)
	clock.Advance(time.Second)
	s.Add("k", "b", cfg, nil)
	clock.Advance(time.Second)
	s.Add("k", "a", cfg, nil)
	s.Add("k", map[string]any{"id": 1.0}, cfg, nil)
	s.Add("k", map[string]any{"id": 1.0}, cfg, nil)
	s.Add("k", nil, cfg, nil)
	s.Add("k", nil, cfg, nil)

	b, ok := s.Peek("k")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b", map[string]any{"id": 1.0}, nil}, b.Items)
	assert.Equal(t, clock.Now(), b.LastAccessAt)
	assert.True(t, b.LastAccessAt.After(b.CreatedAt))
}

func TestStore_FirstConfigAndTargetWin(t *testing.T) {
	s := NewStore()
	s.Add("k", 1, Config{SizeThreshold: 2}, "first")
	s.Add("k", 2, Config{SizeThreshold: 50}, "second")

	b, ok := s.Peek("k")
	require.True(t, ok)
	assert.Equal(t, 2, b.Config.SizeThreshold)
	assert.Equal(t, "first", b.Target)
}

func TestStore_PeekReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Add("k", 1, Config{SizeThreshold: 5}, nil)

	b, _ := s.Peek("k")
	b.Items[0] = 99
	b.Items = append(b.Items, 100)

	again, _ := s.Peek("k")
	assert.Equal(t, []any{1}, again.Items)
}

func TestStore_TakeIfNonEmpty(t *testing.T) {
	s := NewStore()

	_, ok := s.TakeIfNonEmpty("missing")
	assert.False(t, ok)

	s.Add("k", "a", Config{SizeThreshold: 5}, nil)
	b, ok := s.TakeIfNonEmpty("k")
	require.True(t, ok)
	assert.Equal(t, []any{"a"}, b.Items)

	_, ok = s.TakeIfNonEmpty("k")
	assert.False(t, ok, "batch must not be extracted twice")
	assert.Equal(t, 0, s.Len())
}

func TestStore_TakeIfNonEmptyLeavesEmptyBatch(t *testing.T) {
	s := NewStore()
	s.batches["k"] = &Batch{Key: "k", Items: []any{}}

	_, ok := s.TakeIfNonEmpty("k")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_TakeIfChecksPredicate(t *testing.T) {
	s := NewStore()
	s.Add("k", "a", Config{SizeThreshold: 2}, nil)

	_, ok := s.TakeIf("k", (*Batch).ShouldTriggerBySize)
	assert.False(t, ok)

	s.Add("k", "b", Config{SizeThreshold: 2}, nil)
	b, ok := s.TakeIf("k", (*Batch).ShouldTriggerBySize)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, b.Items)
}

func TestStore_Snapshot(t *testing.T) {
	s := NewStore()
	s.Add("a", 1, Config{SizeThreshold: 5}, nil)
	s.Add("b", 2, Config{SizeThreshold: 5}, nil)

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	keys := map[Key]bool{}
	for _, b := range snap {
		keys[b.Key] = true
		b.Items = nil
	}
	assert.True(t, keys["a"])
	assert.True(t, keys["b"])

	b, _ := s.Peek("a")
	assert.Equal(t, []any{1}, b.Items)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Add("a", 1, Config{SizeThreshold: 5}, nil)
	s.Add("b", 2, Config{SizeThreshold: 5}, nil)

	assert.Equal(t, 2, s.Clear())
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentAddNoLostUpdates(t *testing.T) {
	s := NewStore()
	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Add("k", w*perWorker+i, Config{}, nil)
			}
		}(w)
	}
	wg.Wait()

	b, ok := s.Peek("k")
	require.True(t, ok)
	assert.Len(t, b.Items, workers*perWorker)
}

func TestBatch_Triggers(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Batch{
		Items:     []any{"x"},
		Config:    Config{SizeThreshold: 0, TimeThreshold: 5 * time.Minute},
		CreatedAt: created,
	}

	assert.False(t, b.ShouldTriggerBySize(), "disabled size trigger never fires")
	assert.False(t, b.ShouldTriggerByTime(created.Add(5*time.Minute-time.Nanosecond)))
	assert.True(t, b.ShouldTriggerByTime(created.Add(5*time.Minute)))
	assert.True(t, b.ShouldTriggerByTime(created.Add(time.Hour)))

	b.Items = nil
	assert.False(t, b.ShouldTriggerByTime(created.Add(time.Hour)), "empty batch never fires")

	b = &Batch{Items: []any{1, 2}, Config: Config{SizeThreshold: 2, TimeThreshold: -1}}
	assert.True(t, b.ShouldTriggerBySize())
	assert.False(t, b.ShouldTriggerByTime(time.Now().Add(24*time.Hour)))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{SizeThreshold: 1}.Validate())
	assert.NoError(t, Config{TimeThreshold: time.Second}.Validate())
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{}.Validate(), ErrNoTrigger)
	assert.ErrorIs(t, Config{SizeThreshold: -1, TimeThreshold: -time.Second}.Validate(), ErrNoTrigger)
}
