package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records deltasync metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordCapture records a change notification accepted into a buffer.
	RecordCapture(ctx context.Context, stream string)

	// RecordFlush records a buffer flush with its batch size and outcome.
	RecordFlush(ctx context.Context, stream string, size int, duration time.Duration, err error)

	// RecordDiscarded records changes dropped without being persisted.
	RecordDiscarded(ctx context.Context, stream string, count int, reason string)

	// RecordQuery records a delta query.
	RecordQuery(ctx context.Context, op string, rows int, duration time.Duration, err error)

	// RecordPrune records a retention pass.
	RecordPrune(ctx context.Context, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	captures     metric.Int64Counter
	flushes      metric.Int64Counter
	flushSize    metric.Int64Histogram
	flushLatency metric.Float64Histogram
	flushErrors  metric.Int64Counter
	discarded    metric.Int64Counter
	queries      metric.Int64Counter
	queryLatency metric.Float64Histogram
	queryRows    metric.Int64Histogram
	prunes       metric.Int64Counter
	pruneLatency metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("deltasync")
	m := &otelMetrics{}
	var err error

	if m.captures, err = meter.Int64Counter("deltasync.capture.events",
		metric.WithDescription("Number of change notifications buffered"),
	); err != nil {
		return nil, err
	}

	if m.flushes, err = meter.Int64Counter("deltasync.flush.count",
		metric.WithDescription("Number of buffer flushes"),
	); err != nil {
		return nil, err
	}

	if m.flushSize, err = meter.Int64Histogram("deltasync.flush.size",
		metric.WithDescription("Coalesced changes written per flush"),
	); err != nil {
		return nil, err
	}

	if m.flushLatency, err = meter.Float64Histogram("deltasync.flush.latency_ms",
		metric.WithDescription("Flush latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.flushErrors, err = meter.Int64Counter("deltasync.flush.errors",
		metric.WithDescription("Number of failed flushes"),
	); err != nil {
		return nil, err
	}

	if m.discarded, err = meter.Int64Counter("deltasync.changes.discarded",
		metric.WithDescription("Changes dropped without being persisted"),
	); err != nil {
		return nil, err
	}

	if m.queries, err = meter.Int64Counter("deltasync.query.count",
		metric.WithDescription("Number of delta queries"),
	); err != nil {
		return nil, err
	}

	if m.queryLatency, err = meter.Float64Histogram("deltasync.query.latency_ms",
		metric.WithDescription("Delta query latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.queryRows, err = meter.Int64Histogram("deltasync.query.rows",
		metric.WithDescription("Rows returned per delta query page"),
	); err != nil {
		return nil, err
	}

	if m.prunes, err = meter.Int64Counter("deltasync.prune.count",
		metric.WithDescription("Number of retention passes"),
	); err != nil {
		return nil, err
	}

	if m.pruneLatency, err = meter.Float64Histogram("deltasync.prune.latency_ms",
		metric.WithDescription("Retention pass latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordCapture records a buffered change notification.
func (m *otelMetrics) RecordCapture(ctx context.Context, stream string) {
	m.captures.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}

// RecordFlush records a flush.
func (m *otelMetrics) RecordFlush(ctx context.Context, stream string, size int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.Bool("success", err == nil),
	)
	m.flushes.Add(ctx, 1, attrs)
	m.flushSize.Record(ctx, int64(size), attrs)
	m.flushLatency.Record(ctx, float64(duration.Milliseconds()), attrs)

	if err != nil {
		m.flushErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
	}
}

// RecordDiscarded records dropped changes.
func (m *otelMetrics) RecordDiscarded(ctx context.Context, stream string, count int, reason string) {
	m.discarded.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("reason", reason),
	))
}

// RecordQuery records a delta query.
func (m *otelMetrics) RecordQuery(ctx context.Context, op string, rows int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	)
	m.queries.Add(ctx, 1, attrs)
	m.queryLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err == nil {
		m.queryRows.Record(ctx, int64(rows), attrs)
	}
}

// RecordPrune records a retention pass.
func (m *otelMetrics) RecordPrune(ctx context.Context, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.prunes.Add(ctx, 1, attrs)
	m.pruneLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// multiMetrics fans every record out to several recorders.
type multiMetrics []MetricsRecorder

// MultiMetrics returns a recorder that forwards to each of recs in order.
func MultiMetrics(recs ...MetricsRecorder) MetricsRecorder {
	return multiMetrics(recs)
}

func (mm multiMetrics) RecordCapture(ctx context.Context, stream string) {
	for _, m := range mm {
		m.RecordCapture(ctx, stream)
	}
}

func (mm multiMetrics) RecordFlush(ctx context.Context, stream string, size int, duration time.Duration, err error) {
	for _, m := range mm {
		m.RecordFlush(ctx, stream, size, duration, err)
	}
}

func (mm multiMetrics) RecordDiscarded(ctx context.Context, stream string, count int, reason string) {
	for _, m := range mm {
		m.RecordDiscarded(ctx, stream, count, reason)
	}
}

func (mm multiMetrics) RecordQuery(ctx context.Context, op string, rows int, duration time.Duration, err error) {
	for _, m := range mm {
		m.RecordQuery(ctx, op, rows, duration, err)
	}
}

func (mm multiMetrics) RecordPrune(ctx context.Context, duration time.Duration, err error) {
	for _, m := range mm {
		m.RecordPrune(ctx, duration, err)
	}
}
