package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

// StreamLibrary names the library change stream.
const StreamLibrary = "library"

type itemKey struct {
	status store.Status
	id     string
}

// Library captures item additions, updates and removals.
type Library struct {
	buf    *Buffer[itemKey, store.ItemChange]
	db     *store.DB
	host   catalog.Host
	logger *slog.Logger
}

// NewLibrary creates the library stream. host resolves library mounts when
// a folder is removed; it may be nil.
func NewLibrary(db *store.DB, host catalog.Host, opts Options) *Library {
	l := &Library{
		db:     db,
		host:   host,
		logger: observability.EnrichLogger(opts.Logger, "capture.library"),
	}
	l.buf = NewBuffer(BufferConfig[itemKey, store.ItemChange]{
		Stream: StreamLibrary,
		Delay:  opts.delay(DefaultLibraryDelay),
		Key: func(c store.ItemChange) itemKey {
			return itemKey{status: c.Status, id: c.ItemID}
		},
		Write:      l.write,
		Policy:     opts.Policy,
		Retry:      opts.Retry,
		MaxPending: opts.MaxPending,
		Breaker:    opts.Breaker,
		Clock:      opts.Clock,
		Logger:     l.logger,
		Metrics:    opts.Metrics,
		Spans:      opts.Spans,
	})
	return l
}

// ShouldCaptureUpdate reports whether an update to item is tracked.
func ShouldCaptureUpdate(item catalog.Item) bool {
	return trackable(item) && (catalog.IsSyncKind(item.Kind) || item.Kind == catalog.KindCollectionFolder)
}

// ShouldCaptureRemoval reports whether a removal of item is tracked.
func ShouldCaptureRemoval(item catalog.Item) bool {
	return trackable(item) && (catalog.IsSyncKind(item.Kind) || item.Kind == catalog.KindFolder)
}

func trackable(item catalog.Item) bool {
	return item.ID != "" && !item.Virtual && !item.InChannel
}

// RecordUpdated captures an added or updated item.
func (l *Library) RecordUpdated(ctx context.Context, item catalog.Item) error {
	if !ShouldCaptureUpdate(item) {
		return nil
	}
	if ok, err := l.db.HasCheckpoints(ctx); err != nil || !ok {
		return err
	}
	return l.buf.Add(ctx, store.ItemChange{
		ItemID: item.ID,
		Status: store.StatusUpdated,
		Kind:   item.Kind,
	})
}

// RecordRemoved captures a removed item. ancestors is the item's parent
// chain, nearest first.
//
// A removed folder is already empty when the notification arrives, so its
// contents cannot be reported. Instead every library mount containing the
// top-most folder ancestor is recorded as updated, which makes clients
// re-read that library.
func (l *Library) RecordRemoved(ctx context.Context, item catalog.Item, ancestors []catalog.Ancestor) error {
	if !ShouldCaptureRemoval(item) {
		return nil
	}
	if ok, err := l.db.HasCheckpoints(ctx); err != nil || !ok {
		return err
	}

	if item.Kind == catalog.KindFolder {
		return l.recordMounts(ctx, ancestors)
	}

	change := store.ItemChange{
		ItemID: item.ID,
		Status: store.StatusRemoved,
		Kind:   item.Kind,
	}
	if item.Kind == catalog.KindSeason {
		change.SeriesID = item.SeriesID
		change.SeasonNumber = item.SeasonNumber
	}
	return l.buf.Add(ctx, change)
}

func (l *Library) recordMounts(ctx context.Context, ancestors []catalog.Ancestor) error {
	top, ok := topFolder(ancestors)
	if !ok || l.host == nil {
		return nil
	}

	mounts, err := l.host.LibraryMounts(ctx)
	if err != nil {
		return err
	}
	for _, m := range mounts {
		if !m.HasLocation(top.Path) {
			continue
		}
		if err := l.buf.Add(ctx, store.ItemChange{
			ItemID: m.ItemID,
			Status: store.StatusUpdated,
			Kind:   catalog.KindCollectionFolder,
		}); err != nil {
			return err
		}
	}
	return nil
}

// topFolder returns the outermost plain folder of the chain.
func topFolder(ancestors []catalog.Ancestor) (catalog.Ancestor, bool) {
	var (
		top   catalog.Ancestor
		found bool
	)
	for _, a := range ancestors {
		if a.Kind == catalog.KindFolder {
			top, found = a, true
		}
	}
	return top, found
}

// write persists updated rows before removed rows, so an item updated and
// removed within one window ends up removed.
func (l *Library) write(ctx context.Context, batch []store.ItemChange, now func() time.Time) error {
	ordered := make([]store.ItemChange, 0, len(batch))
	for _, status := range []store.Status{store.StatusUpdated, store.StatusRemoved} {
		for _, c := range batch {
			if c.Status == status {
				ordered = append(ordered, c)
			}
		}
	}
	return l.db.SaveItemsAt(ctx, ordered, now)
}

// Flush writes pending changes now.
func (l *Library) Flush(ctx context.Context) error {
	return l.buf.Flush(ctx)
}

// Pending returns the number of changes waiting to be flushed.
func (l *Library) Pending() int {
	return l.buf.Pending()
}

// Close performs the final flush.
func (l *Library) Close(ctx context.Context) error {
	return l.buf.Close(ctx)
}
