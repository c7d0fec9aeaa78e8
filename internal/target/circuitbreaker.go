package target

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned while the breaker rejects deliveries
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the state of a Breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig holds circuit breaker settings. Zero values fall back to defaults.
type BreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// Breaker stops deliveries to a destination after consecutive failures.
// After RecoveryTimeout it lets trial deliveries through and closes again
// once HalfOpenMaxRequests of them succeed.
type Breaker struct {
	cfg    BreakerConfig
	now    func() time.Time
	logger zerolog.Logger

	mu        sync.Mutex
	state     BreakerState
	failures  int
	trials    int // admitted while half-open, including in flight
	successes int
	openedAt  time.Time
}

// NewBreaker creates a closed Breaker
func NewBreaker(cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	return &Breaker{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		state:  BreakerClosed,
	}
}

// Do runs fn unless the breaker is open and records its outcome
func (b *Breaker) Do(fn func() error) error {
	if !b.cfg.Enabled {
		return fn()
	}
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	b.record(err == nil)
	return err
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return false
		}
		b.transition(BreakerHalfOpen)
		b.trials++
		return true
	case BreakerHalfOpen:
		if b.trials >= b.cfg.HalfOpenMaxRequests {
			return false
		}
		b.trials++
		return true
	default:
		return true
	}
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.successes++
			if b.successes >= b.cfg.HalfOpenMaxRequests {
				b.transition(BreakerClosed)
			}
		}
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

// transition must be called with mu held
func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.logger.Warn().
		Str("from", string(b.state)).
		Str("to", string(to)).
		Int("failures", b.failures).
		Msg("circuit breaker state changed")
	b.state = to
	b.trials = 0
	b.successes = 0
}
