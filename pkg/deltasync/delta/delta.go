// Package delta answers windowed, paginated change queries against the
// change log.
//
// The low-level List and Count methods take an explicit window. The
// checkpoint-scoped methods resolve the window from a started checkpoint and
// read the page and its total in a single read transaction, so both come
// from the same snapshot.
package delta

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

// Engine runs delta queries.
type Engine struct {
	db      *store.DB
	host    catalog.Host
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures an Engine.
type Option func(*Engine)

// WithHost sets the host used to check that a checkpoint's user still
// exists. Without a host the check is skipped.
func WithHost(host catalog.Host) Option {
	return func(e *Engine) {
		e.host = host
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = observability.EnrichLogger(logger, "delta")
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.metrics = rec
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(spans observability.SpanManager) Option {
	return func(e *Engine) {
		if spans != nil {
			e.spans = spans
		}
	}
}

// New creates an Engine over db.
func New(db *store.DB, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListItems returns item changes with last modified in the window, matching
// status and kinds, ordered by item id.
func (e *Engine) ListItems(ctx context.Context, f store.ItemFilter) ([]store.ItemChange, error) {
	if err := checkPage(f.Window, f.Offset, f.Limit); err != nil {
		return nil, err
	}

	var items []store.ItemChange
	err := e.db.View(ctx, func(tx *store.Tx) error {
		var err error
		items, err = tx.ListItems(f)
		return err
	})
	return items, err
}

// CountItems returns the number of item changes matching f, ignoring its
// offset and limit.
func (e *Engine) CountItems(ctx context.Context, f store.ItemFilter) (int, error) {
	if err := checkPage(f.Window, 0, 0); err != nil {
		return 0, err
	}

	var n int
	err := e.db.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.CountItems(f)
		return err
	})
	return n, err
}

// ListUserData returns one user's data changes with last modified in the
// window, ordered by item id.
func (e *Engine) ListUserData(ctx context.Context, f store.UserDataFilter) ([]store.UserDataChange, error) {
	if err := checkPage(f.Window, f.Offset, f.Limit); err != nil {
		return nil, err
	}

	var changes []store.UserDataChange
	err := e.db.View(ctx, func(tx *store.Tx) error {
		var err error
		changes, err = tx.ListUserData(f)
		return err
	})
	return changes, err
}

// CountUserData returns the number of user data changes matching f.
func (e *Engine) CountUserData(ctx context.Context, f store.UserDataFilter) (int, error) {
	if err := checkPage(f.Window, 0, 0); err != nil {
		return 0, err
	}

	var n int
	err := e.db.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.CountUserData(f)
		return err
	})
	return n, err
}

// UpdatedItems returns a page of items updated inside the checkpoint's
// window.
func (e *Engine) UpdatedItems(ctx context.Context, q ItemQuery) (*ItemPage, error) {
	if err := validateStruct(q); err != nil {
		return nil, err
	}

	ctx, span := e.spans.StartOperationSpan(ctx, "delta.updated_items",
		attribute.String("checkpoint_id", q.CheckpointID),
	)
	start := time.Now()

	var (
		cp   *store.Checkpoint
		page ItemPage
	)
	err := e.db.View(ctx, func(tx *store.Tx) error {
		window, c, err := startedWindow(tx, q.CheckpointID)
		if err != nil {
			return err
		}
		cp = c
		page.Items, page.Total, err = itemPage(tx, window, store.StatusUpdated, q)
		return err
	})
	if err == nil {
		err = e.checkUser(ctx, cp)
	}

	e.finish(ctx, span, "updated_items", len(page.Items), start, err)
	if err != nil {
		return nil, err
	}

	page.StartIndex = q.Offset
	page.Fields = NormalizeFields(q.Fields...)
	return &page, nil
}

// RemovedItems returns a page of items removed inside the checkpoint's
// window.
func (e *Engine) RemovedItems(ctx context.Context, q ItemQuery) (*Page[RemovedItem], error) {
	if err := validateStruct(q); err != nil {
		return nil, err
	}

	ctx, span := e.spans.StartOperationSpan(ctx, "delta.removed_items",
		attribute.String("checkpoint_id", q.CheckpointID),
	)
	start := time.Now()

	var (
		changes []store.ItemChange
		total   int
	)
	err := e.db.View(ctx, func(tx *store.Tx) error {
		window, _, err := startedWindow(tx, q.CheckpointID)
		if err != nil {
			return err
		}
		changes, total, err = itemPage(tx, window, store.StatusRemoved, q)
		return err
	})

	e.finish(ctx, span, "removed_items", len(changes), start, err)
	if err != nil {
		return nil, err
	}

	page := &Page[RemovedItem]{
		Items:      make([]RemovedItem, 0, len(changes)),
		Total:      total,
		StartIndex: q.Offset,
	}
	for _, c := range changes {
		page.Items = append(page.Items, RemovedItem{
			ItemID:       c.ItemID,
			SeriesID:     c.SeriesID,
			SeasonNumber: c.SeasonNumber,
		})
	}
	return page, nil
}

// UserData returns a page of the checkpoint user's data changes inside the
// checkpoint's window.
func (e *Engine) UserData(ctx context.Context, q UserDataQuery) (*Page[store.UserDataChange], error) {
	if err := validateStruct(q); err != nil {
		return nil, err
	}

	ctx, span := e.spans.StartOperationSpan(ctx, "delta.user_data",
		attribute.String("checkpoint_id", q.CheckpointID),
	)
	start := time.Now()

	var (
		cp   *store.Checkpoint
		page Page[store.UserDataChange]
	)
	err := e.db.View(ctx, func(tx *store.Tx) error {
		window, c, err := startedWindow(tx, q.CheckpointID)
		if err != nil {
			return err
		}
		cp = c

		f := store.UserDataFilter{
			Window: window,
			UserID: c.UserID,
			Kinds:  q.Kinds,
			Offset: q.Offset,
			Limit:  q.Limit,
		}
		if page.Items, err = tx.ListUserData(f); err != nil {
			return err
		}
		page.Total, err = tx.CountUserData(f)
		return err
	})
	if err == nil {
		err = e.checkUser(ctx, cp)
	}

	e.finish(ctx, span, "user_data", len(page.Items), start, err)
	if err != nil {
		return nil, err
	}

	page.StartIndex = q.Offset
	return &page, nil
}

// startedWindow resolves a checkpoint and its closed window.
func startedWindow(tx *store.Tx, id string) (store.Window, *store.Checkpoint, error) {
	cp, err := tx.Checkpoint(id)
	if err != nil {
		return store.Window{}, nil, err
	}
	window, ok := cp.Window()
	if !ok {
		return store.Window{}, nil, ErrSyncNotStarted
	}
	return window, cp, nil
}

func itemPage(tx *store.Tx, window store.Window, status store.Status, q ItemQuery) ([]store.ItemChange, int, error) {
	f := store.ItemFilter{
		Window: window,
		Status: status,
		Kinds:  q.Kinds,
		Offset: q.Offset,
		Limit:  q.Limit,
	}
	items, err := tx.ListItems(f)
	if err != nil {
		return nil, 0, err
	}
	total, err := tx.CountItems(f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// checkUser fails with NotFound when the host no longer knows the
// checkpoint's user.
func (e *Engine) checkUser(ctx context.Context, cp *store.Checkpoint) error {
	if e.host == nil {
		return nil
	}
	ok, err := e.host.UserExists(ctx, cp.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return syncerrors.NotFound("user", cp.UserID)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, span trace.Span, op string, rows int, start time.Time, err error) {
	e.metrics.RecordQuery(ctx, op, rows, time.Since(start), err)
	e.spans.EndSpanWithError(span, err)
	if err != nil && e.logger != nil {
		e.logger.Debug("delta query failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}
