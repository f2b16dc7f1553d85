package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics implements MetricsRecorder on Prometheus collectors.
type promMetrics struct {
	captures      *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushSize     *prometheus.HistogramVec
	flushDuration *prometheus.HistogramVec
	discarded     *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	queryRows     *prometheus.HistogramVec
	prunes        *prometheus.CounterVec
	pruneDuration prometheus.Histogram
}

// NewPrometheusRecorder registers deltasync collectors with reg and returns a
// recorder that updates them. Registration panics on duplicate collectors, so
// call it once per registry.
func NewPrometheusRecorder(reg prometheus.Registerer) MetricsRecorder {
	f := promauto.With(reg)
	return &promMetrics{
		captures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deltasync_capture_events_total",
			Help: "Total number of change notifications buffered",
		}, []string{"stream"}),

		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deltasync_flushes_total",
			Help: "Total number of buffer flushes",
		}, []string{"stream", "status"}),

		flushSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deltasync_flush_size",
			Help:    "Coalesced changes written per flush",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"stream"}),

		flushDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deltasync_flush_duration_seconds",
			Help:    "Duration of buffer flushes in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream", "status"}),

		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deltasync_changes_discarded_total",
			Help: "Total number of changes dropped without being persisted",
		}, []string{"stream", "reason"}),

		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deltasync_queries_total",
			Help: "Total number of delta queries",
		}, []string{"op", "status"}),

		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deltasync_query_duration_seconds",
			Help:    "Duration of delta queries in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		queryRows: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deltasync_query_rows",
			Help:    "Rows returned per delta query page",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"op"}),

		prunes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deltasync_prunes_total",
			Help: "Total number of retention passes",
		}, []string{"status"}),

		pruneDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "deltasync_prune_duration_seconds",
			Help:    "Duration of retention passes in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *promMetrics) RecordCapture(_ context.Context, stream string) {
	m.captures.WithLabelValues(stream).Inc()
}

func (m *promMetrics) RecordFlush(_ context.Context, stream string, size int, duration time.Duration, err error) {
	s := status(err)
	m.flushes.WithLabelValues(stream, s).Inc()
	m.flushDuration.WithLabelValues(stream, s).Observe(duration.Seconds())
	if err == nil {
		m.flushSize.WithLabelValues(stream).Observe(float64(size))
	}
}

func (m *promMetrics) RecordDiscarded(_ context.Context, stream string, count int, reason string) {
	m.discarded.WithLabelValues(stream, reason).Add(float64(count))
}

func (m *promMetrics) RecordQuery(_ context.Context, op string, rows int, duration time.Duration, err error) {
	m.queries.WithLabelValues(op, status(err)).Inc()
	m.queryDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err == nil {
		m.queryRows.WithLabelValues(op).Observe(float64(rows))
	}
}

func (m *promMetrics) RecordPrune(_ context.Context, duration time.Duration, err error) {
	m.prunes.WithLabelValues(status(err)).Inc()
	m.pruneDuration.Observe(duration.Seconds())
}
