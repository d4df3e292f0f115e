package resilience

import "errors"

// Errors returned by the guards. Errors from the guarded operation are
// passed through unchanged unless noted.
var (
	// ErrCircuitOpen rejects a call while the breaker is open or its
	// half-open trial slots are taken.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded wraps the last error once every attempt failed.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded rejects a call that found no token in time.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull rejects a call that found no free slot in time.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout replaces context.DeadlineExceeded from the timeout guard.
	ErrTimeout = errors.New("resilience: operation timed out")
)
