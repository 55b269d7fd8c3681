package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry
	Spans  *tracetest.SpanRecorder
	Reader *sdkmetric.ManualReader
}

// NewTestTelemetry returns telemetry backed by in-memory recorders.
// It does not touch the global providers.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		Spans:  spans,
		Reader: reader,
	}
}

// SpanNames returns the names of ended spans in end order.
func (t *TestTelemetry) SpanNames() []string {
	ended := t.Spans.Ended()
	names := make([]string, 0, len(ended))
	for _, s := range ended {
		names = append(names, s.Name())
	}
	return names
}

// Metric collects and returns the named metric, failing tb if absent.
func (t *TestTelemetry) Metric(tb testing.TB, name string) metricdata.Metrics {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.Reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	tb.Fatalf("metric %q not recorded", name)
	return metricdata.Metrics{}
}

// CounterTotal sums all data points of an int64 counter.
func (t *TestTelemetry) CounterTotal(tb testing.TB, name string) int64 {
	tb.Helper()
	sum, ok := t.Metric(tb, name).Data.(metricdata.Sum[int64])
	if !ok {
		tb.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}
