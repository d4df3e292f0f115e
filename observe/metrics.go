package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome classifies how a cached read was served.
type Outcome string

const (
	// OutcomeHit means the entry was served from the store.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means no entry existed and the remote source was called.
	OutcomeMiss Outcome = "miss"
	// OutcomeStale means an entry existed but a watermark had moved past it.
	OutcomeStale Outcome = "stale"
	// OutcomeError means the remote fetch failed.
	OutcomeError Outcome = "error"
)

// Metrics records cache and invalidation metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordRead records one read through the cache.
	RecordRead(ctx context.Context, meta ReadMeta, outcome Outcome, duration time.Duration)

	// RecordEvictions records entries evicted under size pressure.
	RecordEvictions(ctx context.Context, count int)

	// RecordInvalidation records one pattern invalidation and how many entries it removed.
	RecordInvalidation(ctx context.Context, pattern string, removed int)

	// RecordProbe records the result of a watermark probe ("value", "empty", "unsupported", "error").
	RecordProbe(ctx context.Context, collection, column, result string)

	// RecordReconnect records an invalidation feed reconnect attempt.
	RecordReconnect(ctx context.Context, attempt int, err error)
}

type metricsImpl struct {
	reads         metric.Int64Counter
	readDuration  metric.Float64Histogram
	evictions     metric.Int64Counter
	invalidations metric.Int64Counter
	invalidated   metric.Int64Counter
	probes        metric.Int64Counter
	reconnects    metric.Int64Counter
}

// NewMetrics creates a Metrics instance backed by meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	reads, err := meter.Int64Counter(
		"cache.read.total",
		metric.WithDescription("Total number of cached reads by outcome"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return nil, err
	}

	readDuration, err := meter.Float64Histogram(
		"cache.read.duration_ms",
		metric.WithDescription("Cached read duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Entries evicted to stay under the size limit"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"cache.invalidation.total",
		metric.WithDescription("Pattern invalidations applied"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	invalidated, err := meter.Int64Counter(
		"cache.invalidation.removed",
		metric.WithDescription("Entries removed by pattern invalidation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	probes, err := meter.Int64Counter(
		"version.probe.total",
		metric.WithDescription("Watermark probes by result"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, err
	}

	reconnects, err := meter.Int64Counter(
		"invalidation.reconnect.total",
		metric.WithDescription("Invalidation feed reconnect attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		reads:         reads,
		readDuration:  readDuration,
		evictions:     evictions,
		invalidations: invalidations,
		invalidated:   invalidated,
		probes:        probes,
		reconnects:    reconnects,
	}, nil
}

func (m *metricsImpl) RecordRead(ctx context.Context, meta ReadMeta, outcome Outcome, duration time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("cache.namespace", meta.Namespace),
		attribute.String("cache.outcome", string(outcome)),
	)
	m.reads.Add(ctx, 1, opt)
	m.readDuration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordEvictions(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.evictions.Add(ctx, int64(count))
}

func (m *metricsImpl) RecordInvalidation(ctx context.Context, pattern string, removed int) {
	opt := metric.WithAttributes(attribute.String("cache.pattern", pattern))
	m.invalidations.Add(ctx, 1, opt)
	if removed > 0 {
		m.invalidated.Add(ctx, int64(removed), opt)
	}
}

func (m *metricsImpl) RecordProbe(ctx context.Context, collection, column, result string) {
	m.probes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("version.collection", collection),
		attribute.String("version.column", column),
		attribute.String("version.result", result),
	))
}

func (m *metricsImpl) RecordReconnect(ctx context.Context, attempt int, err error) {
	m.reconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("invalidation.attempt", attempt),
		attribute.Bool("invalidation.error", err != nil),
	))
}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) RecordRead(context.Context, ReadMeta, Outcome, time.Duration) {}
func (noopMetrics) RecordEvictions(context.Context, int)                        {}
func (noopMetrics) RecordInvalidation(context.Context, string, int)             {}
func (noopMetrics) RecordProbe(context.Context, string, string, string)         {}
func (noopMetrics) RecordReconnect(context.Context, int, error)                 {}
