// Package health reports whether the read cache is serving well.
//
// Two domain checkers cover the states the cache can degrade into:
//
//   - UsageChecker watches the store's byte budget. A store running near
//     its limit evicts on nearly every write.
//   - ActivityChecker watches the invalidation channel. Without a live
//     subscription, remote writes reach readers only after TTL expiry.
//
// Ping wraps any dependency with a Ping method, such as the SQLite
// backend. An Aggregator runs checkers concurrently and the HTTP handlers
// expose them as liveness, readiness and detailed endpoints.
package health
