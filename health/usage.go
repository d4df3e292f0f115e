package health

import (
	"context"
	"fmt"
)

// UsageReporter exposes a byte budget. *cache.Store implements it.
type UsageReporter interface {
	Usage() (used, limit int64)
}

// UsageCheckerConfig configures the usage checker.
type UsageCheckerConfig struct {
	// WarningThreshold is the usage ratio that triggers degraded status.
	// Value should be between 0 and 1. Default: 0.8
	WarningThreshold float64

	// CriticalThreshold is the usage ratio that triggers unhealthy status.
	// Value should be between 0 and 1. Default: 0.95
	CriticalThreshold float64
}

// UsageChecker reports how full the cache is.
type UsageChecker struct {
	reporter UsageReporter
	config   UsageCheckerConfig
}

// NewUsageChecker creates a usage checker over reporter.
func NewUsageChecker(reporter UsageReporter, config UsageCheckerConfig) *UsageChecker {
	// Apply defaults
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold > 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = min(config.WarningThreshold+0.1, 0.99)
	}

	return &UsageChecker{reporter: reporter, config: config}
}

// Name returns "cache_usage".
func (u *UsageChecker) Name() string {
	return "cache_usage"
}

// Check compares used bytes against the limit.
func (u *UsageChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	used, limit := u.reporter.Usage()
	if limit <= 0 {
		return Healthy("cache unbounded").With("used_bytes", used)
	}

	ratio := float64(used) / float64(limit)
	pct := ratio * 100
	var r Result
	switch {
	case ratio >= u.config.CriticalThreshold:
		r = Unhealthy(fmt.Sprintf("cache usage critical: %.1f%%", pct), ErrUnhealthy)
	case ratio >= u.config.WarningThreshold:
		r = Degraded(fmt.Sprintf("cache usage high: %.1f%%", pct))
	default:
		r = Healthy(fmt.Sprintf("cache usage normal: %.1f%%", pct))
	}
	return r.With("used_bytes", used).With("limit_bytes", limit).With("usage_percent", pct)
}

var _ Checker = (*UsageChecker)(nil)
