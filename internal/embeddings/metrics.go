package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/shelve/internal/embeddings"

// Metrics holds embedding metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	screened  metric.Int64Counter
	errors    metric.Int64Counter
}

// NewMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"shelve.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding model calls, labeled by model and operation (embed_documents, embed_query)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"shelve.embedding.batch_size",
		metric.WithDescription("Number of texts sent to the model per call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.screened, err = m.meter.Int64Counter(
		"shelve.embedding.screened_total",
		metric.WithDescription("Texts dropped before the model call for carrying too little content"),
		metric.WithUnit("{text}"),
	)
	if err != nil {
		m.logger.Warn("failed to create screened counter", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"shelve.embedding.errors_total",
		metric.WithDescription("Embedding model call failures by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordGeneration records one model call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordScreened counts texts dropped by the content screen.
func (m *Metrics) RecordScreened(ctx context.Context, n int) {
	if m == nil || m.screened == nil || n == 0 {
		return
	}
	m.screened.Add(ctx, int64(n))
}

// timed runs fn and records it as one model call.
func timed[T any](ctx context.Context, m *Metrics, model, operation string, batchSize int, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	m.RecordGeneration(ctx, model, operation, time.Since(start), batchSize, err)
	return out, err
}
