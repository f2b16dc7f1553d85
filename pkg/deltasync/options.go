package deltasync

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/event"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
	"github.com/randalmurphal/deltasync/pkg/deltasync/supervisor"
)

type engineConfig struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	clock   func() time.Time
	host    catalog.Host
	bus     event.Bus
	tree    supervisor.TreeConfig
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		clock:   time.Now,
		tree:    supervisor.DefaultTreeConfig(),
	}
}

// Option configures Open.
type Option func(*engineConfig)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithMetrics enables metrics recording.
//
// Example:
//
//	engine, err := deltasync.Open(ctx, settings,
//	    deltasync.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(c *engineConfig) {
		if rec != nil {
			c.metrics = rec
		}
	}
}

// WithSpans enables tracing of client operations and flushes.
func WithSpans(spans observability.SpanManager) Option {
	return func(c *engineConfig) {
		if spans != nil {
			c.spans = spans
		}
	}
}

// WithClock sets the time source (default: time.Now).
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithHost sets the host adapter. Without one, user checks are skipped,
// folder removals are not expanded to library mounts and UserFolders fails
// with ErrNoHost.
func WithHost(host catalog.Host) Option {
	return func(c *engineConfig) {
		c.host = host
	}
}

// WithBus makes the engine consume notifications from an existing bus. The
// engine does not close a bus it did not create.
func WithBus(bus event.Bus) Option {
	return func(c *engineConfig) {
		c.bus = bus
	}
}

// WithSupervisor overrides the supervisor tree settings.
func WithSupervisor(cfg supervisor.TreeConfig) Option {
	return func(c *engineConfig) {
		c.tree = cfg
	}
}
