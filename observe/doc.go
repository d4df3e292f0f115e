// Package observe provides observability primitives for cached reads.
//
// It is a pure instrumentation library: no caching, no transport, no I/O
// beyond exporter setup. The cache, version and invalidation packages accept
// a Logger and Metrics; a Middleware wraps each read with a span, a metric
// sample and a log line.
package observe
