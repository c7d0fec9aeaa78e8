package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeromicro/go-zero/core/threading"
)

// DefaultSweepInterval is the period between two sweeps
const DefaultSweepInterval = 60 * time.Second

// Sweeper periodically asks the coordinator for expired batches.
// Sweeps never overlap: a tick that finds a sweep in progress is skipped.
type Sweeper struct {
	coordinator *Coordinator
	interval    time.Duration
	now         func() time.Time
	clockMu     sync.Mutex
	logger      zerolog.Logger

	running sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper that runs every interval
func NewSweeper(coordinator *Coordinator, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		coordinator: coordinator,
		interval:    interval,
		now:         time.Now,
		logger:      logger.With().Str("component", "sweeper").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetClock replaces the clock passed to each sweep
func (s *Sweeper) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = now
}

// Interval returns the sweep period
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start begins periodic sweeping
func (s *Sweeper) Start() {
	s.wg.Add(1)
	threading.GoSafe(s.loop)

	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
}

// Stop stops the ticker and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("sweeper stopped")
}

// SweepNow runs a sweep immediately. It returns false without sweeping if
// another sweep is in progress.
func (s *Sweeper) SweepNow(ctx context.Context) (SweepResult, bool) {
	if !s.running.TryLock() {
		s.logger.Warn().Msg("previous sweep still running, skipping")
		return SweepResult{}, false
	}
	defer s.running.Unlock()

	s.clockMu.Lock()
	now := s.now()
	s.clockMu.Unlock()

	result := s.coordinator.Sweep(ctx, now)
	if result.Err != nil {
		s.logger.Warn().
			Err(result.Err).
			Int("scanned", result.Scanned).
			Int("delivered", result.Delivered).
			Msg("sweep finished with failures")
	} else if result.Delivered > 0 {
		s.logger.Debug().
			Int("scanned", result.Scanned).
			Int("delivered", result.Delivered).
			Msg("sweep finished")
	}
	return result, true
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.SweepNow(s.ctx)
		}
	}
}
