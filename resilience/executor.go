package resilience

import (
	"context"
	"time"
)

// guard wraps an operation.
type guard interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Executor runs an operation through the configured guards in a fixed
// order: rate limiter, bulkhead, circuit breaker, retry, timeout. Each
// retry attempt gets its own timeout, and the breaker sees one outcome per
// call, after retries.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an Executor. With no options it calls op directly.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.rateLimiter = rl }
}

func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithTimeout bounds each attempt to d.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = NewTimeout(TimeoutConfig{Timeout: d}) }
}

// CircuitBreaker returns the configured breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.circuitBreaker
}

// Execute runs op through the guards.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	run := op
	// Innermost first.
	for _, g := range []guard{e.timeoutGuard(), e.retryGuard(), e.breakerGuard(), e.bulkheadGuard(), e.limiterGuard()} {
		if g == nil {
			continue
		}
		inner := run
		run = func(ctx context.Context) error { return g.Execute(ctx, inner) }
	}
	return run(ctx)
}

// The accessors below keep typed nil pointers out of the guard slice.

func (e *Executor) timeoutGuard() guard {
	if e.timeout == nil {
		return nil
	}
	return e.timeout
}

func (e *Executor) retryGuard() guard {
	if e.retry == nil {
		return nil
	}
	return e.retry
}

func (e *Executor) breakerGuard() guard {
	if e.circuitBreaker == nil {
		return nil
	}
	return e.circuitBreaker
}

func (e *Executor) bulkheadGuard() guard {
	if e.bulkhead == nil {
		return nil
	}
	return e.bulkhead
}

func (e *Executor) limiterGuard() guard {
	if e.rateLimiter == nil {
		return nil
	}
	return e.rateLimiter
}
