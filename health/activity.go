package health

import "context"

// ActivityReporter exposes whether a background subscription is live.
// *invalidation.Channel implements it.
type ActivityReporter interface {
	IsActive() bool
}

// ActivityChecker reports degraded while the invalidation feed is down.
// Reads keep working in that state; they only lose push invalidation.
type ActivityChecker struct {
	name     string
	reporter ActivityReporter
}

// NewActivityChecker creates an activity checker.
func NewActivityChecker(name string, reporter ActivityReporter) *ActivityChecker {
	return &ActivityChecker{name: name, reporter: reporter}
}

// Name returns the checker name.
func (a *ActivityChecker) Name() string {
	return a.name
}

// Check reports the subscription state.
func (a *ActivityChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	if !a.reporter.IsActive() {
		return Degraded(a.name+" inactive, relying on TTL expiry").With("active", false)
	}
	return Healthy(a.name+" subscribed").With("active", true)
}

var _ Checker = (*ActivityChecker)(nil)
