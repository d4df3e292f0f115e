package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the wait grows between attempts.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay by Multiplier each attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear adds InitialDelay each attempt.
	BackoffLinear
	// BackoffConstant always waits InitialDelay.
	BackoffConstant
)

// RetryConfig configures Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps any single wait, before jitter.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier grows exponential backoff.
	// Default: 2.0
	Multiplier float64

	Strategy BackoffStrategy

	// Jitter adds up to 25% to each wait.
	Jitter bool

	// RetryIf reports whether err is worth another attempt.
	// Default: every non-nil error
	RetryIf func(err error) bool

	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry re-runs an operation with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a Retry.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}

	return &Retry{config: config}
}

// Config returns the effective configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// Execute calls op until it succeeds, RetryIf declines the error, ctx ends
// or the attempts run out. In the last case the error wraps both
// ErrMaxRetriesExceeded and the final failure.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || !r.config.RetryIf(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			if attempt == 1 {
				return err
			}
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt, err)
		}

		delay := r.Delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Delay returns the wait that follows the given failed attempt.
func (r *Retry) Delay(attempt int) time.Duration {
	base := r.config.InitialDelay
	var delay time.Duration
	switch r.config.Strategy {
	case BackoffConstant:
		delay = base
	case BackoffLinear:
		delay = base * time.Duration(attempt)
	default:
		f := float64(base) * math.Pow(r.config.Multiplier, float64(attempt-1))
		if f > float64(r.config.MaxDelay) {
			f = float64(r.config.MaxDelay)
		}
		delay = time.Duration(f)
	}
	delay = min(delay, r.config.MaxDelay)

	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}
	return delay
}
