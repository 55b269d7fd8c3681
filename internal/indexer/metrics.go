package indexer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/shelve/internal/indexer"

// Metrics holds reconciliation metrics.
type Metrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	orphans  metric.Int64Counter
	written  metric.Int64Counter
	nulls    metric.Int64Counter
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
	m := &Metrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"shelve.reconcile.runs_total",
		metric.WithDescription("Reconciliation passes by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"shelve.reconcile.duration_seconds",
		metric.WithDescription("Wall time of a reconciliation pass"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.orphans, err = meter.Int64Counter(
		"shelve.reconcile.orphans_deleted_total",
		metric.WithDescription("Records deleted because their item left the tree"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		logger.Warn("failed to create orphans counter", zap.Error(err))
	}

	m.written, err = meter.Int64Counter(
		"shelve.reconcile.records_written_total",
		metric.WithDescription("Records written for items that had none"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		logger.Warn("failed to create written counter", zap.Error(err))
	}

	m.nulls, err = meter.Int64Counter(
		"shelve.reconcile.null_vectors_total",
		metric.WithDescription("Embedding slots stored without a vector, by kind"),
		metric.WithUnit("{vector}"),
	)
	if err != nil {
		logger.Warn("failed to create null vectors counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) recordRun(ctx context.Context, r *Report, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if r == nil {
		return
	}
	if m.duration != nil {
		m.duration.Record(ctx, r.Duration.Seconds())
	}
	if m.orphans != nil && r.Orphans > 0 {
		m.orphans.Add(ctx, int64(r.Orphans))
	}
	if m.written != nil && r.Written > 0 {
		m.written.Add(ctx, int64(r.Written))
	}
	if m.nulls != nil {
		for kind, n := range r.NullVectors {
			if n > 0 {
				m.nulls.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", string(kind))))
			}
		}
	}
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
