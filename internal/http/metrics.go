package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/indexer"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/shelve/internal/http"

var (
	// IndexItems tracks the tree size and how much of it has records.
	// Labels: kind (folder, bookmark), state (synced, total)
	IndexItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shelve",
			Subsystem: "index",
			Name:      "items",
			Help:      "Tree items by kind, total and with a stored embedding record",
		},
		[]string{"kind", "state"},
	)

	// IndexOrphans tracks records whose item has left the tree.
	IndexOrphans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelve",
			Subsystem: "index",
			Name:      "orphans",
			Help:      "Stored embedding records without a live tree item",
		},
	)

	// LastSyncTimestamp is the unix time of the last successful sync.
	LastSyncTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelve",
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync started over HTTP",
		},
	)
)

// HTTPMetrics holds all HTTP-related metrics.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTP metrics on meter, or on the global meter
// provider when meter is nil.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	m := &HTTPMetrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"shelve.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, endpoint and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"shelve.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, endpoint and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"shelve.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			return err
		}
	}
}

// ObserveStatus publishes st on the prometheus gauges.
func (m *HTTPMetrics) ObserveStatus(st indexer.Status) {
	IndexItems.WithLabelValues("folder", "synced").Set(float64(st.Containers.Synced))
	IndexItems.WithLabelValues("folder", "total").Set(float64(st.Containers.Total))
	IndexItems.WithLabelValues("bookmark", "synced").Set(float64(st.Leaves.Synced))
	IndexItems.WithLabelValues("bookmark", "total").Set(float64(st.Leaves.Total))
	IndexOrphans.Set(float64(st.Orphans))
}

// ObserveSync records a successful sync.
func (m *HTTPMetrics) ObserveSync(report *indexer.Report) {
	LastSyncTimestamp.SetToCurrentTime()
	m.logger.Debug("sync finished",
		zap.String("run.id", report.RunID),
		zap.Int("written", report.Written),
		zap.Int("orphans", report.Orphans),
	)
}

// normalizePath keeps metric cardinality bounded. Every route is static, so
// only unmatched requests need folding.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
