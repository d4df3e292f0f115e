// Package exporters maps exporter names from configuration to OpenTelemetry
// span exporters and metric readers.
//
// Tracing: otlp, stdout, none. Metrics: otlp, prometheus, stdout, none.
// "none" and the empty name yield a nil exporter, which callers treat as
// "record but export nowhere".
package exporters

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type (
	spanFactory   func(context.Context) (sdktrace.SpanExporter, error)
	readerFactory func(context.Context) (sdkmetric.Reader, error)
)

var spanExporters = map[string]spanFactory{
	"stdout": func(context.Context) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	},
	"otlp": func(ctx context.Context) (sdktrace.SpanExporter, error) {
		if err := requireEndpoint("TRACES"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
}

var metricReaders = map[string]readerFactory{
	"stdout": func(context.Context) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	"otlp": func(ctx context.Context) (sdkmetric.Reader, error) {
		if err := requireEndpoint("METRICS"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	},
	// Registers with the default Prometheus registry, served by promhttp.
	"prometheus": func(context.Context) (sdkmetric.Reader, error) {
		return prometheus.New()
	},
}

func disabled(name string) bool { return name == "" || name == "none" }

// KnownTracing reports whether name selects a tracing exporter.
func KnownTracing(name string) bool {
	_, ok := spanExporters[name]
	return ok || disabled(name)
}

// KnownMetrics reports whether name selects a metrics exporter.
func KnownMetrics(name string) bool {
	_, ok := metricReaders[name]
	return ok || disabled(name)
}

// NewTracingExporter returns the span exporter called name.
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	if disabled(name) {
		return nil, nil
	}
	factory, ok := spanExporters[name]
	if !ok {
		return nil, fmt.Errorf("unknown tracing exporter %q", name)
	}
	exp, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s tracing exporter: %w", name, err)
	}
	return exp, nil
}

// NewMetricsReader returns the metric reader called name.
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	if disabled(name) {
		return nil, nil
	}
	factory, ok := metricReaders[name]
	if !ok {
		return nil, fmt.Errorf("unknown metrics exporter %q", name)
	}
	reader, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s metrics exporter: %w", name, err)
	}
	return reader, nil
}

// requireEndpoint fails unless an OTLP endpoint is configured for signal
// ("TRACES" or "METRICS"), so a missing collector surfaces at startup.
func requireEndpoint(signal string) error {
	specific := "OTEL_EXPORTER_OTLP_" + signal + "_ENDPOINT"
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv(specific) != "" {
		return nil
	}
	return fmt.Errorf("no OTLP endpoint: set OTEL_EXPORTER_OTLP_ENDPOINT or %s", specific)
}
