package health

import "errors"

var (
	// ErrUnhealthy is attached to results of checks that judged their
	// component failed without an underlying error.
	ErrUnhealthy = errors.New("health: component unhealthy")

	// ErrTimeout is attached when a check outlives the aggregator timeout.
	ErrTimeout = errors.New("health: check did not finish in time")

	ErrUnknownCheck = errors.New("health: no such check")
)
