// Package resilience guards the cache's calls to the backing store and the
// invalidation feed.
//
// The guards compose through an Executor, outermost first:
//
//	rate limiter -> bulkhead -> circuit breaker -> retry -> timeout -> op
//
// Remote version probes use a rate limiter and a circuit breaker so that a
// struggling backend degrades the cache to TTL-only freshness instead of
// piling up requests. The invalidation channel drives its reconnect loop
// with Retry and bounds each handshake with Timeout. Background prefetch
// is capped by a Bulkhead.
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 20, Burst: 10})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.BreakerConfig{Threshold: 5})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//	err := exec.Execute(ctx, probe)
package resilience
