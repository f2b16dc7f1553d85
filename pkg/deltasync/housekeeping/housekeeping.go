// Package housekeeping expires old checkpoints and change records on a
// schedule.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/randalmurphal/deltasync/pkg/deltasync/checkpoint"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
)

// DefaultInterval runs housekeeping once a day.
const DefaultInterval = 24 * time.Hour

// Pruner removes data older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (checkpoint.PruneResult, error)
}

// Config configures a Task.
type Config struct {
	// Retention is how long data is kept. Zero disables housekeeping.
	Retention time.Duration

	// Interval is the time between runs (default: DefaultInterval).
	Interval time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// Task prunes data older than the retention horizon.
type Task struct {
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a housekeeping task.
func New(pruner Pruner, cfg Config) *Task {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Task{
		pruner:    pruner,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		now:       cfg.Clock,
		logger:    observability.EnrichLogger(cfg.Logger, "housekeeping"),
	}
}

// Enabled reports whether a retention horizon is configured.
func (t *Task) Enabled() bool {
	return t.retention > 0
}

// Cutoff returns the current retention cutoff.
func (t *Task) Cutoff() time.Time {
	return t.now().Add(-t.retention)
}

// RunOnce prunes everything older than the cutoff. It reports false
// without touching storage when housekeeping is disabled.
func (t *Task) RunOnce(ctx context.Context) (checkpoint.PruneResult, bool, error) {
	if !t.Enabled() {
		return checkpoint.PruneResult{}, false, nil
	}
	done := observability.TimedOperation()
	res, err := t.pruner.Prune(ctx, t.Cutoff())
	if err != nil {
		if t.logger != nil {
			t.logger.Error("housekeeping failed", slog.String("error", err.Error()))
		}
		return res, true, err
	}
	if t.logger != nil {
		t.logger.Debug("housekeeping finished", slog.Float64("duration_ms", done()))
	}
	return res, true, nil
}

// Serve implements suture.Service. It runs once at start and then on every
// interval until the context is done. A failed run is logged and retried on
// the next tick. A disabled task exits without being restarted.
func (t *Task) Serve(ctx context.Context) error {
	if !t.Enabled() {
		if t.logger != nil {
			t.logger.Info("housekeeping disabled")
		}
		return suture.ErrDoNotRestart
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		_, _, _ = t.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (t *Task) String() string {
	return "housekeeping"
}
