package resilience

import (
	"context"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func (s State) String() string { return string(s) }

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// Threshold is the run of consecutive failures that opens the breaker.
	// Default: 5
	Threshold int

	// Cooldown is how long an open breaker rejects calls before it admits
	// trial calls.
	// Default: 30s
	Cooldown time.Duration

	// Trials caps concurrent calls while half-open.
	// Default: 1
	Trials int

	// OnTransition runs under the breaker's lock; it must not call back in.
	OnTransition func(from, to State)

	// Counts reports whether err is held against the breaker. Errors it
	// ignores still reach the caller.
	// Default: any non-nil error
	Counts func(err error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Trials <= 0 {
		c.Trials = 1
	}
	if c.Counts == nil {
		c.Counts = func(err error) bool { return err != nil }
	}
	return c
}

// BreakerSnapshot is a point-in-time view of a CircuitBreaker.
type BreakerSnapshot struct {
	State    State
	Failures int
	OpenedAt time.Time
}

// CircuitBreaker stops calling a backend that keeps failing. Probes against
// a dead remote fail fast with ErrCircuitOpen until Cooldown has passed.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	inflight int
	openedAt time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
}

// Execute runs op unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := op(ctx)
	cb.observe(err)
	return err
}

// State returns the current state. An open breaker whose cooldown has
// passed reports half-open.
func (cb *CircuitBreaker) State() State {
	return cb.Snapshot().State
}

// Snapshot returns the state and failure count together.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cooledLocked()
	return BreakerSnapshot{State: cb.state, Failures: cb.failures, OpenedAt: cb.openedAt}
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveLocked(StateClosed)
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cooledLocked()

	if cb.state == StateOpen {
		return false
	}
	if cb.state == StateHalfOpen {
		if cb.inflight >= cb.cfg.Trials {
			return false
		}
		cb.inflight++
	}
	return true
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.cfg.Counts(err) {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.moveLocked(StateClosed)
		}
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.cfg.Threshold) {
		cb.moveLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) cooledLocked() {
	if cb.state != StateOpen {
		return
	}
	if cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		cb.moveLocked(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) moveLocked(to State) {
	from := cb.state
	cb.state = to
	cb.inflight = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if to == StateClosed {
		cb.failures = 0
	}
	if from != to && cb.cfg.OnTransition != nil {
		cb.cfg.OnTransition(from, to)
	}
}
