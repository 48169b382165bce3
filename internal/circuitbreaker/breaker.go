// Package circuitbreaker stops calling a failing dependency for a while so
// that callers fail fast instead of piling up retries against it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/study-hub/internal/logging"
)

// State is the breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned without calling the dependency while the breaker is open
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a breaker
type Config struct {
	Name string
	// ConsecutiveFailures opens the breaker
	ConsecutiveFailures int
	// Cooldown is how long the breaker stays open before letting a trial call through
	Cooldown time.Duration
	// HalfOpenTrials successful trial calls close it again
	HalfOpenTrials int
	Now            func() time.Time
}

// Breaker guards calls to one dependency
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	trials    int
	now       func() time.Time

	mu          sync.Mutex
	state       State
	consecutive int
	inFlight    int
	succeeded   int
	openedAt    time.Time
}

// New creates a closed breaker
func New(cfg Config) *Breaker {
	b := &Breaker{
		name:      cfg.Name,
		threshold: cfg.ConsecutiveFailures,
		cooldown:  cfg.Cooldown,
		trials:    cfg.HalfOpenTrials,
		now:       cfg.Now,
		state:     StateClosed,
	}
	if b.threshold <= 0 {
		b.threshold = 5
	}
	if b.cooldown <= 0 {
		b.cooldown = 30 * time.Second
	}
	if b.trials <= 0 {
		b.trials = 1
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(ctx, err)
	return err
}

func (b *Breaker) before(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.transition(ctx, StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		// only as many calls as trials needed; the rest fail fast
		if b.inFlight+b.succeeded >= b.trials {
			return ErrOpen
		}
		b.inFlight++
	}
	return nil
}

func (b *Breaker) after(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.inFlight--
		if err != nil {
			b.open(ctx)
			return
		}
		b.succeeded++
		if b.succeeded >= b.trials {
			b.consecutive = 0
			b.transition(ctx, StateClosed)
		}
		return
	}

	if err == nil {
		b.consecutive = 0
		return
	}
	b.consecutive++
	if b.state == StateClosed && b.consecutive >= b.threshold {
		b.open(ctx)
	}
}

func (b *Breaker) open(ctx context.Context) {
	b.openedAt = b.now()
	b.transition(ctx, StateOpen)
}

func (b *Breaker) transition(ctx context.Context, to State) {
	from := b.state
	b.state = to
	b.inFlight, b.succeeded = 0, 0

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"circuitBreaker": b.name,
		"from":           from,
		"to":             to,
	})
	if to == StateOpen {
		logger.WithField("consecutiveFailures", b.consecutive).Warn("Circuit breaker opened")
		return
	}
	logger.Info("Circuit breaker state changed")
}

// State returns the current state. An open breaker past its cooldown still
// reports open until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
