package placement

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type metrics struct {
	decisions metric.Int64Counter
	score     metric.Float64Histogram
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *metrics {
	if meter == nil {
		meter = otel.Meter("github.com/fyrsmithlabs/shelve/internal/placement")
	}
	m := &metrics{}
	var err error
	m.decisions, err = meter.Int64Counter(
		"shelve.placement.decisions_total",
		metric.WithDescription("Placement decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		logger.Warn("failed to create decisions counter", zap.Error(err))
	}
	m.score, err = meter.Float64Histogram(
		"shelve.placement.best_score",
		metric.WithDescription("Cosine similarity of the chosen destination"),
		metric.WithExplicitBucketBoundaries(-0.5, 0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1),
	)
	if err != nil {
		logger.Warn("failed to create score histogram", zap.Error(err))
	}
	return m
}

func (m *metrics) record(ctx context.Context, outcome Outcome, best *Candidate) {
	if m.decisions != nil {
		m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
	if best != nil && m.score != nil {
		m.score.Record(ctx, best.Score)
	}
}
