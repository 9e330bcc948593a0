package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	ErrOpen       = errors.New("circuit open")
	ErrProbeLimit = errors.New("half-open probe limit reached")
)

// Config sizes one breaker. MaxFailures consecutive failures open it; after
// Cooldown it admits up to Probes concurrent calls, and that many successes
// close it again.
type Config struct {
	MaxFailures int
	Cooldown    time.Duration
	Probes      int
}

// Breaker shields a caller from a dependency that has started failing, so a
// polling agent backs off instead of hammering a downed engine.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	probes      int
	logger      *zap.Logger
	now         func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	probeInflight  int
	probeSuccesses int
	openedAt       time.Time
}

func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probes:      cfg.Probes,
		logger:      logger,
		now:         time.Now,
		state:       Closed,
	}
}

// WithClock overrides the wall clock.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Do runs fn under the breaker. It returns ErrOpen while the breaker is
// cooling down, ErrProbeLimit when the half-open probe quota is in flight,
// and otherwise fn's own error.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.observe(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.transition(HalfOpen)
		b.probeInflight = 1
		return nil
	case HalfOpen:
		if b.probeInflight >= b.probes {
			return ErrProbeLimit
		}
		b.probeInflight++
		return nil
	}
	return ErrOpen
}

func (b *Breaker) observe(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if ok {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.transition(Open)
		}
	case HalfOpen:
		b.probeInflight--
		if !ok {
			b.openedAt = b.now()
			b.transition(Open)
			return
		}
		b.probeSuccesses++
		if b.probeSuccesses >= b.probes {
			b.transition(Closed)
		}
	}
}

// transition is called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.probeSuccesses = 0
	if to != HalfOpen {
		b.probeInflight = 0
	}
	b.logger.Info("breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive-failure count while closed.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
	b.failures = 0
	b.probeInflight = 0
	b.probeSuccesses = 0
}
