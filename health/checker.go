package health

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Status is the outcome of a check. Larger values are more severe.
type Status uint8

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

var statusNames = [...]string{"healthy", "degraded", "unhealthy"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("health: unknown status %q", text)
}

// Worse returns the more severe of s and other.
func (s Status) Worse(other Status) Status {
	if other > s {
		return other
	}
	return s
}

// Result is what a Checker reports.
type Result struct {
	Status  Status
	Message string
	Details map[string]any
	Err     error

	// CheckedAt and Took are filled in by the Aggregator when left zero.
	CheckedAt time.Time
	Took      time.Duration
}

func newResult(status Status, message string, err error) Result {
	return Result{Status: status, Message: message, Err: err, CheckedAt: time.Now()}
}

// Healthy reports a working component.
func Healthy(message string) Result { return newResult(StatusHealthy, message, nil) }

// Degraded reports a component that still serves, with reduced guarantees.
func Degraded(message string) Result { return newResult(StatusDegraded, message, nil) }

// Unhealthy reports a failed component.
func Unhealthy(message string, err error) Result { return newResult(StatusUnhealthy, message, err) }

// With returns a copy of r carrying one more detail.
func (r Result) With(key string, value any) Result {
	details := make(map[string]any, len(r.Details)+1)
	maps.Copy(details, r.Details)
	details[key] = value
	r.Details = details
	return r
}

// Checker is one named health check.
//
// Contract:
//   - Name is stable for the checker's lifetime.
//   - Check must honour ctx and never panic.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

type funcChecker struct {
	name string
	fn   func(context.Context) Result
}

func (f funcChecker) Name() string { return f.name }

func (f funcChecker) Check(ctx context.Context) Result { return f.fn(ctx) }

// Func turns fn into a Checker called name.
func Func(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, fn: fn}
}

// Pinger is implemented by dependencies that can report reachability,
// such as the SQLite backend and the PostgreSQL source.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping reports unhealthy while p fails to answer.
func Ping(name string, p Pinger) Checker {
	return Func(name, func(ctx context.Context) Result {
		if err := p.Ping(ctx); err != nil {
			return Unhealthy(name+" unreachable", err)
		}
		return Healthy(name + " reachable")
	})
}
