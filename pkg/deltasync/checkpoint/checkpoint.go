// Package checkpoint manages the synchronization windows of client devices.
//
// A checkpoint belongs to one (device, user) pair and opens a window at its
// creation time. StartSync closes the window; the delta queries then report
// every change recorded inside it. Creating a new checkpoint for the pair
// replaces the previous one, and its window starts where the previous
// window ended so no change falls between two syncs.
package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

// SyncStats summarizes the changes inside a closed window.
type SyncStats struct {
	UpdatedFolders           int       `json:"updated_folders"`
	RemovedFolders           int       `json:"removed_folders"`
	UpdatedBoxSets           int       `json:"updated_box_sets"`
	RemovedBoxSets           int       `json:"removed_box_sets"`
	UpdatedPlaylists         int       `json:"updated_playlists"`
	RemovedPlaylists         int       `json:"removed_playlists"`
	UpdatedSeries            int       `json:"updated_series"`
	RemovedSeries            int       `json:"removed_series"`
	UpdatedSeasons           int       `json:"updated_seasons"`
	RemovedSeasons           int       `json:"removed_seasons"`
	UpdatedVideos            int       `json:"updated_videos"`
	RemovedVideos            int       `json:"removed_videos"`
	UpdatedCollectionFolders int       `json:"updated_collection_folders"`
	UpdatedUserData          int       `json:"updated_user_data"`
	WindowEnd                time.Time `json:"window_end"`
}

// PruneResult reports what a retention pass removed.
type PruneResult struct {
	Cutoff      time.Time
	Checkpoints int64
	Items       int64
	UserData    int64

	// Remaining is false when no checkpoint survived, in which case the
	// whole change log was cleared.
	Remaining bool

	// OldestWindowStart is the earliest window start among the surviving
	// checkpoints. Zero when none remain.
	OldestWindowStart time.Time
}

// Manager creates, closes and expires checkpoints.
type Manager struct {
	db      *store.DB
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source (default: time.Now).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDFunc sets the checkpoint id generator (default: random UUID).
func WithIDFunc(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = observability.EnrichLogger(logger, "checkpoint")
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(m *Manager) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(spans observability.SpanManager) Option {
	return func(m *Manager) {
		if spans != nil {
			m.spans = spans
		}
	}
}

// NewManager creates a Manager over db.
func NewManager(db *store.DB, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new window for the device and user, replacing any existing
// checkpoint of the pair. The window starts at the latest recorded window
// end for the pair, or now if none was ever started.
func (m *Manager) Create(ctx context.Context, deviceID, userID string) (*store.Checkpoint, error) {
	if deviceID == "" {
		return nil, syncerrors.Invalid("device_id", "must not be empty")
	}
	if userID == "" {
		return nil, syncerrors.Invalid("user_id", "must not be empty")
	}

	ctx, span := m.spans.StartOperationSpan(ctx, "checkpoint.create",
		attribute.String("device_id", deviceID),
		attribute.String("user_id", userID),
	)

	cp := &store.Checkpoint{
		ID:       m.newID(),
		DeviceID: deviceID,
		UserID:   userID,
	}
	err := m.db.Update(ctx, func(tx *store.Tx) error {
		start, ok, err := tx.LatestWindowEnd(deviceID, userID)
		if err != nil {
			return err
		}
		if !ok {
			start = m.now()
		}
		cp.WindowStart = start.UTC()

		if _, err := tx.DeleteDeviceCheckpoints(deviceID, userID); err != nil {
			return err
		}
		return tx.InsertCheckpoint(*cp)
	})
	m.spans.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}

	observability.LogCheckpointCreated(m.logger, cp.ID, deviceID, userID, cp.WindowStart)
	return cp, nil
}

// Get returns the checkpoint with id.
func (m *Manager) Get(ctx context.Context, id string) (*store.Checkpoint, error) {
	if id == "" {
		return nil, syncerrors.Invalid("checkpoint_id", "must not be empty")
	}

	var cp *store.Checkpoint
	err := m.db.View(ctx, func(tx *store.Tx) error {
		var err error
		cp, err = tx.Checkpoint(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// StartSync closes the window of checkpoint id at the current time and
// returns the change counts inside it. Calling it again moves the window end
// forward.
func (m *Manager) StartSync(ctx context.Context, id string) (*SyncStats, error) {
	if id == "" {
		return nil, syncerrors.Invalid("checkpoint_id", "must not be empty")
	}

	ctx, span := m.spans.StartOperationSpan(ctx, "checkpoint.start_sync",
		attribute.String("checkpoint_id", id),
	)

	var (
		stats SyncStats
		cp    *store.Checkpoint
	)
	var end time.Time
	err := m.db.Update(ctx, func(tx *store.Tx) error {
		end = m.now().UTC()
		var err error
		if cp, err = tx.Checkpoint(id); err != nil {
			return err
		}
		if err := tx.SetWindowEnd(id, end); err != nil {
			return err
		}
		window := store.Window{Start: cp.WindowStart, End: end}
		return countWindow(tx, window, cp.UserID, &stats)
	})
	m.spans.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}

	stats.WindowEnd = end
	observability.LogSyncStarted(m.logger, id, cp.WindowStart, end)
	return &stats, nil
}

func countWindow(tx *store.Tx, window store.Window, userID string, stats *SyncStats) error {
	counts := []struct {
		dst    *int
		status store.Status
		kinds  []catalog.Kind
	}{
		{&stats.UpdatedFolders, store.StatusUpdated, []catalog.Kind{catalog.KindFolder}},
		{&stats.RemovedFolders, store.StatusRemoved, []catalog.Kind{catalog.KindFolder}},
		{&stats.UpdatedBoxSets, store.StatusUpdated, []catalog.Kind{catalog.KindBoxSet}},
		{&stats.RemovedBoxSets, store.StatusRemoved, []catalog.Kind{catalog.KindBoxSet}},
		{&stats.UpdatedPlaylists, store.StatusUpdated, []catalog.Kind{catalog.KindPlaylist}},
		{&stats.RemovedPlaylists, store.StatusRemoved, []catalog.Kind{catalog.KindPlaylist}},
		{&stats.UpdatedSeries, store.StatusUpdated, []catalog.Kind{catalog.KindSeries}},
		{&stats.RemovedSeries, store.StatusRemoved, []catalog.Kind{catalog.KindSeries}},
		{&stats.UpdatedSeasons, store.StatusUpdated, []catalog.Kind{catalog.KindSeason}},
		{&stats.RemovedSeasons, store.StatusRemoved, []catalog.Kind{catalog.KindSeason}},
		{&stats.UpdatedVideos, store.StatusUpdated, catalog.VideoKinds},
		{&stats.RemovedVideos, store.StatusRemoved, catalog.VideoKinds},
		{&stats.UpdatedCollectionFolders, store.StatusUpdated, []catalog.Kind{catalog.KindCollectionFolder}},
	}
	for _, c := range counts {
		n, err := tx.CountItems(store.ItemFilter{Window: window, Status: c.status, Kinds: c.kinds})
		if err != nil {
			return err
		}
		*c.dst = n
	}

	n, err := tx.CountUserData(store.UserDataFilter{Window: window, UserID: userID, Kinds: catalog.VideoKinds})
	if err != nil {
		return err
	}
	stats.UpdatedUserData = n
	return nil
}

// Delete removes checkpoint id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.db.Update(ctx, func(tx *store.Tx) error {
		ok, err := tx.DeleteCheckpoint(id)
		if err != nil {
			return err
		}
		if !ok {
			return syncerrors.NotFound("checkpoint", id)
		}
		return nil
	})
}

// Prune expires checkpoints whose window started before cutoff. If any
// checkpoint survives, changes older than cutoff are removed; otherwise the
// whole change log is cleared since no client can ask for it.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	ctx, span := m.spans.StartOperationSpan(ctx, "checkpoint.prune",
		attribute.String("cutoff", cutoff.UTC().Format(time.RFC3339)),
	)

	start := time.Now()
	res := PruneResult{Cutoff: cutoff}
	err := m.db.Update(ctx, func(tx *store.Tx) error {
		var err error
		if res.Checkpoints, err = tx.DeleteCheckpointsBefore(cutoff); err != nil {
			return err
		}
		if res.OldestWindowStart, res.Remaining, err = tx.OldestWindowStart(); err != nil {
			return err
		}

		if res.Remaining {
			if res.Items, err = tx.DeleteItemsBefore(cutoff); err != nil {
				return err
			}
			res.UserData, err = tx.DeleteUserDataBefore(cutoff)
			return err
		}

		if res.Items, err = tx.DeleteAllItems(); err != nil {
			return err
		}
		res.UserData, err = tx.DeleteAllUserData()
		return err
	})
	m.metrics.RecordPrune(ctx, time.Since(start), err)
	m.spans.EndSpanWithError(span, err)
	if err != nil {
		return PruneResult{}, err
	}

	observability.LogPrune(m.logger, cutoff, res.Checkpoints, res.Items, res.UserData)
	return res, nil
}

// HasCheckpoints reports whether any checkpoint exists.
func (m *Manager) HasCheckpoints(ctx context.Context) (bool, error) {
	return m.db.HasCheckpoints(ctx)
}
