package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

// StreamUserData names the user data change stream.
const StreamUserData = "user_data"

type userKey struct {
	item string
	user string
}

// UserData captures per-user data saves.
type UserData struct {
	buf    *Buffer[userKey, store.UserDataChange]
	db     *store.DB
	gated  bool
	logger *slog.Logger
}

// NewUserData creates the user data stream.
func NewUserData(db *store.DB, opts Options) *UserData {
	u := &UserData{
		db:     db,
		gated:  opts.RequireCheckpoint,
		logger: observability.EnrichLogger(opts.Logger, "capture.user_data"),
	}
	u.buf = NewBuffer(BufferConfig[userKey, store.UserDataChange]{
		Stream: StreamUserData,
		Delay:  opts.delay(DefaultUserDataDelay),
		Key: func(c store.UserDataChange) userKey {
			return userKey{item: c.ItemID, user: c.UserID}
		},
		Write:      u.write,
		Policy:     opts.Policy,
		Retry:      opts.Retry,
		MaxPending: opts.MaxPending,
		Breaker:    opts.Breaker,
		Clock:      opts.Clock,
		Logger:     u.logger,
		Metrics:    opts.Metrics,
		Spans:      opts.Spans,
	})
	return u
}

// RecordSaved captures a user data save. Progress-only saves are ignored.
func (u *UserData) RecordSaved(ctx context.Context, evt catalog.UserDataEvent) error {
	if evt.Reason == catalog.SaveReasonPlaybackProgress {
		return nil
	}
	if evt.UserID == "" || !ShouldCaptureUpdate(evt.Item) {
		return nil
	}
	if u.gated {
		if ok, err := u.db.HasCheckpoints(ctx); err != nil || !ok {
			return err
		}
	}
	return u.buf.Add(ctx, store.UserDataChange{
		ItemID: evt.Item.ID,
		UserID: evt.UserID,
		Kind:   evt.Item.Kind,
	})
}

func (u *UserData) write(ctx context.Context, batch []store.UserDataChange, now func() time.Time) error {
	return u.db.SaveUserDataAt(ctx, batch, now)
}

// Flush writes pending changes now.
func (u *UserData) Flush(ctx context.Context) error {
	return u.buf.Flush(ctx)
}

// Pending returns the number of changes waiting to be flushed.
func (u *UserData) Pending() int {
	return u.buf.Pending()
}

// Close performs the final flush.
func (u *UserData) Close(ctx context.Context) error {
	return u.buf.Close(ctx)
}
