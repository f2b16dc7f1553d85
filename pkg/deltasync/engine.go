package deltasync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/capture"
	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/checkpoint"
	"github.com/randalmurphal/deltasync/pkg/deltasync/config"
	"github.com/randalmurphal/deltasync/pkg/deltasync/delta"
	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/event"
	"github.com/randalmurphal/deltasync/pkg/deltasync/housekeeping"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
	"github.com/randalmurphal/deltasync/pkg/deltasync/supervisor"
)

// EventSource is the source stamped on notifications published through
// the engine.
const EventSource = "host"

// ErrNoHost is returned by operations that need a host adapter when none
// was configured.
var ErrNoHost = errors.New("deltasync: no host configured")

// Flush retry backoff under the retry policy.
const (
	flushInitialBackoff = 100 * time.Millisecond
	flushMaxBackoff     = 5 * time.Second
)

// Engine is the composition root. It owns the store and every component
// built on it.
type Engine struct {
	settings config.Settings
	host     catalog.Host
	logger   *slog.Logger

	db           *store.DB
	checkpoints  *checkpoint.Manager
	queries      *delta.Engine
	library      *capture.Library
	userData     *capture.UserData
	capture      *capture.Service
	housekeeping *housekeeping.Task
	tree         *supervisor.Tree

	bus     event.Bus
	ownsBus bool

	closeOnce sync.Once
	closeErr  error
}

// Open validates settings, opens the store and wires every component. A
// storage or migration failure is fatal and returned as is.
func Open(ctx context.Context, settings config.Settings, opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	policy, err := capture.ParseFlushPolicy(settings.FlushPolicy)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, store.Options{
		Path:             settings.DBPath,
		CacheSizeKiB:     settings.CacheSizeKiB,
		StrictMigrations: settings.StrictMigrations,
		Logger:           cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &Engine{
		settings: settings,
		host:     cfg.host,
		logger:   observability.EnrichLogger(cfg.logger, "engine"),
		db:       db,
	}

	e.checkpoints = checkpoint.NewManager(db,
		checkpoint.WithClock(cfg.clock),
		checkpoint.WithLogger(cfg.logger),
		checkpoint.WithMetrics(cfg.metrics),
		checkpoint.WithSpans(cfg.spans),
	)

	e.queries = delta.New(db,
		delta.WithHost(cfg.host),
		delta.WithLogger(cfg.logger),
		delta.WithMetrics(cfg.metrics),
		delta.WithSpans(cfg.spans),
	)

	base := capture.Options{
		Policy: policy,
		Retry: syncerrors.NewRetryConfig(
			syncerrors.WithMaxAttempts(settings.FlushRetryAttempts),
			syncerrors.WithInitialBackoff(flushInitialBackoff),
			syncerrors.WithMaxBackoff(flushMaxBackoff),
		),
		MaxPending: settings.MaxPending,
		Breaker: capture.BreakerConfig{
			Failures: uint32(settings.FlushBreakerFailures),
			Cooldown: settings.FlushBreakerCooldown,
		},
		Clock:   cfg.clock,
		Logger:  cfg.logger,
		Metrics: cfg.metrics,
		Spans:   cfg.spans,
	}
	libOpts := base
	libOpts.Delay = settings.ItemDebounce
	e.library = capture.NewLibrary(db, cfg.host, libOpts)

	udOpts := base
	udOpts.Delay = settings.UserDataDebounce
	udOpts.RequireCheckpoint = settings.UserDataRequiresCheckpoint
	e.userData = capture.NewUserData(db, udOpts)

	e.bus = cfg.bus
	if e.bus == nil {
		busCfg := event.DefaultBusConfig()
		busCfg.Logger = observability.EnrichLogger(cfg.logger, "bus")
		e.bus = event.NewBus(busCfg)
		e.ownsBus = true
	}
	e.capture = capture.NewService(e.bus, e.library, e.userData, cfg.logger)

	e.housekeeping = housekeeping.New(e.checkpoints, housekeeping.Config{
		Retention: settings.Retention(),
		Interval:  settings.HousekeepingInterval,
		Clock:     cfg.clock,
		Logger:    cfg.logger,
	})

	e.tree = supervisor.NewTree(cfg.logger, cfg.tree)
	e.tree.AddCaptureService(e.capture)
	e.tree.AddMaintenanceService(e.housekeeping)

	if e.logger != nil {
		e.logger.Info("engine opened",
			slog.String("db_path", db.Path()),
			slog.String("flush_policy", string(policy)),
			slog.Bool("housekeeping", e.housekeeping.Enabled()),
		)
	}
	return e, nil
}

// Settings returns the settings the engine was opened with.
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// Store returns the underlying store.
func (e *Engine) Store() *store.DB {
	return e.db
}

// Bus returns the bus the engine consumes notifications from.
func (e *Engine) Bus() event.Bus {
	return e.bus
}

// Serve runs the background services until ctx is done. Notifications are
// only captured while Serve runs.
func (e *Engine) Serve(ctx context.Context) error {
	return e.tree.Serve(ctx)
}

// Start runs the background services in a goroutine. The returned channel
// receives the result once they stop.
func (e *Engine) Start(ctx context.Context) <-chan error {
	return e.tree.ServeBackground(ctx)
}

// NotifyItem publishes a library change.
func (e *Engine) NotifyItem(ctx context.Context, evt catalog.ItemEvent) error {
	return e.bus.Publish(ctx, event.New(evt.Op.Topic(), EventSource, evt))
}

// NotifyUserData publishes a user data save.
func (e *Engine) NotifyUserData(ctx context.Context, evt catalog.UserDataEvent) error {
	return e.bus.Publish(ctx, event.New(catalog.TopicUserDataSaved, EventSource, evt))
}

// Flush writes both capture streams now instead of waiting for their
// debounce delay.
func (e *Engine) Flush(ctx context.Context) error {
	return e.capture.Flush(ctx)
}

// CreateCheckpoint opens a new window for the device and user, replacing
// their previous checkpoint.
func (e *Engine) CreateCheckpoint(ctx context.Context, deviceID, userID string) (*store.Checkpoint, error) {
	return e.checkpoints.Create(ctx, deviceID, userID)
}

// StartSync closes the checkpoint's window and summarizes its changes.
func (e *Engine) StartSync(ctx context.Context, checkpointID string) (*checkpoint.SyncStats, error) {
	return e.checkpoints.StartSync(ctx, checkpointID)
}

// Checkpoint returns a checkpoint by id.
func (e *Engine) Checkpoint(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	return e.checkpoints.Get(ctx, checkpointID)
}

// DeleteCheckpoint removes a checkpoint.
func (e *Engine) DeleteCheckpoint(ctx context.Context, checkpointID string) error {
	return e.checkpoints.Delete(ctx, checkpointID)
}

// UpdatedItems returns a page of items updated inside the checkpoint's window.
func (e *Engine) UpdatedItems(ctx context.Context, q delta.ItemQuery) (*delta.ItemPage, error) {
	return e.queries.UpdatedItems(ctx, q)
}

// RemovedItems returns a page of items removed inside the checkpoint's window.
func (e *Engine) RemovedItems(ctx context.Context, q delta.ItemQuery) (*delta.Page[delta.RemovedItem], error) {
	return e.queries.RemovedItems(ctx, q)
}

// UserData returns a page of user data changes inside the checkpoint's window.
func (e *Engine) UserData(ctx context.Context, q delta.UserDataQuery) (*delta.Page[store.UserDataChange], error) {
	return e.queries.UserData(ctx, q)
}

// Housekeeping expires checkpoints and change records older than cutoff.
func (e *Engine) Housekeeping(ctx context.Context, cutoff time.Time) (checkpoint.PruneResult, error) {
	return e.checkpoints.Prune(ctx, cutoff)
}

// UserFolders returns the library mounts visible to userID. Hosts that do
// not implement catalog.FolderAccess expose every mount to every user.
func (e *Engine) UserFolders(ctx context.Context, userID string) ([]catalog.Mount, error) {
	if userID == "" {
		return nil, syncerrors.Invalid("user_id", "must not be empty")
	}
	if e.host == nil {
		return nil, ErrNoHost
	}

	ok, err := e.host.UserExists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !ok {
		return nil, syncerrors.NotFound("user", userID)
	}

	if access, ok := e.host.(catalog.FolderAccess); ok {
		return access.UserMounts(ctx, userID)
	}
	return e.host.LibraryMounts(ctx)
}

// Close delivers queued notifications, flushes both capture streams and
// closes the store. Serve should have returned first. Close is idempotent.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		var errs []error
		e.capture.Close()
		if e.ownsBus {
			errs = append(errs, e.bus.Close())
		}
		errs = append(errs,
			e.library.Close(ctx),
			e.userData.Close(ctx),
			e.db.Close(),
		)
		e.closeErr = errors.Join(errs...)

		if e.logger != nil {
			e.logger.Info("engine closed")
		}
	})
	return e.closeErr
}
