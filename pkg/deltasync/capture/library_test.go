package capture_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deltasync/pkg/deltasync/capture"
	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/checkpoint"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

var flushTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

var everything = store.Window{
	Start: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
}

type mountHost struct {
	mounts []catalog.Mount
	err    error
}

func (h *mountHost) LibraryMounts(context.Context) ([]catalog.Mount, error) {
	return h.mounts, h.err
}

func (h *mountHost) UserExists(context.Context, string) (bool, error) {
	return true, nil
}

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{
		Path: filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func withCheckpoint(t *testing.T, db *store.DB) {
	t.Helper()
	require.NoError(t, db.Update(context.Background(), func(tx *store.Tx) error {
		return tx.InsertCheckpoint(store.Checkpoint{
			ID:          "cp",
			DeviceID:    "device",
			UserID:      "user",
			WindowStart: flushTime.Add(-time.Hour),
		})
	}))
}

func captureOpts() capture.Options {
	return capture.Options{
		Delay: time.Hour,
		Clock: func() time.Time { return flushTime },
	}
}

func persisted(t *testing.T, db *store.DB, status store.Status) []store.ItemChange {
	t.Helper()
	var items []store.ItemChange
	require.NoError(t, db.View(context.Background(), func(tx *store.Tx) error {
		var err error
		items, err = tx.ListItems(store.ItemFilter{Window: everything, Status: status})
		return err
	}))
	return items
}

func itemIDs(items []store.ItemChange) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ItemID)
	}
	return out
}

func movie(id string) catalog.Item {
	return catalog.Item{ID: id, Kind: catalog.KindMovie, Path: "/media/movies/" + id}
}

func TestLibrary_SkipsWithoutCheckpoint(t *testing.T) {
	db := openStore(t)
	lib := capture.NewLibrary(db, nil, captureOpts())

	require.NoError(t, lib.RecordUpdated(context.Background(), movie("A")))
	assert.Equal(t, 0, lib.Pending())
}

func TestLibrary_CoalescesBurst(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	lib := capture.NewLibrary(db, nil, captureOpts())
	ctx := context.Background()

	for _, id := range []string{"A", "B", "A"} {
		require.NoError(t, lib.RecordUpdated(ctx, movie(id)))
	}
	require.NoError(t, lib.Flush(ctx))

	items := persisted(t, db, store.StatusUpdated)
	assert.Equal(t, []string{"A", "B"}, itemIDs(items))
	for _, it := range items {
		assert.Equal(t, flushTime, it.LastModified, "stamped with flush time")
		assert.Equal(t, catalog.KindMovie, it.Kind)
	}
}

func TestLibrary_DebouncedFlush(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	opts := captureOpts()
	opts.Delay = 20 * time.Millisecond
	lib := capture.NewLibrary(db, nil, opts)

	require.NoError(t, lib.RecordUpdated(context.Background(), movie("A")))
	require.Eventually(t, func() bool {
		return len(persisted(t, db, store.StatusUpdated)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLibrary_Filters(t *testing.T) {
	tests := []struct {
		name    string
		item    catalog.Item
		update  bool
		removal bool
	}{
		{"movie", movie("m"), true, true},
		{"virtual", catalog.Item{ID: "v", Kind: catalog.KindEpisode, Virtual: true}, false, false},
		{"channel", catalog.Item{ID: "c", Kind: catalog.KindVideo, InChannel: true}, false, false},
		{"collection folder", catalog.Item{ID: "cf", Kind: catalog.KindCollectionFolder}, true, false},
		{"folder", catalog.Item{ID: "f", Kind: catalog.KindFolder}, false, true},
		{"playlist", catalog.Item{ID: "p", Kind: catalog.KindPlaylist}, false, false},
		{"unknown", catalog.Item{ID: "u"}, false, false},
		{"no id", catalog.Item{Kind: catalog.KindMovie}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.update, capture.ShouldCaptureUpdate(tt.item))
			assert.Equal(t, tt.removal, capture.ShouldCaptureRemoval(tt.item))
		})
	}
}

func TestLibrary_IgnoredKindsNeverBuffered(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	lib := capture.NewLibrary(db, nil, captureOpts())
	ctx := context.Background()

	require.NoError(t, lib.RecordUpdated(ctx, catalog.Item{ID: "p", Kind: catalog.KindPlaylist}))
	require.NoError(t, lib.RecordUpdated(ctx, catalog.Item{ID: "f", Kind: catalog.KindFolder}))
	require.NoError(t, lib.RecordRemoved(ctx, catalog.Item{ID: "v", Kind: catalog.KindMovie, Virtual: true}, nil))
	assert.Equal(t, 0, lib.Pending())
}

func TestLibrary_UpdateThenRemoveEndsRemoved(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	lib := capture.NewLibrary(db, nil, captureOpts())
	ctx := context.Background()

	require.NoError(t, lib.RecordUpdated(ctx, movie("A")))
	require.NoError(t, lib.RecordRemoved(ctx, movie("A"), nil))
	require.NoError(t, lib.RecordUpdated(ctx, movie("B")))
	assert.Equal(t, 3, lib.Pending())
	require.NoError(t, lib.Flush(ctx))

	assert.Equal(t, []string{"B"}, itemIDs(persisted(t, db, store.StatusUpdated)))
	assert.Equal(t, []string{"A"}, itemIDs(persisted(t, db, store.StatusRemoved)))
}

func TestLibrary_RemovedSeasonCarriesSeries(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	lib := capture.NewLibrary(db, nil, captureOpts())
	ctx := context.Background()

	num := 3
	season := catalog.Item{ID: "s3", Kind: catalog.KindSeason, SeriesID: "show", SeasonNumber: &num}
	require.NoError(t, lib.RecordRemoved(ctx, season, nil))
	// Updated seasons do not carry the hierarchy.
	require.NoError(t, lib.RecordUpdated(ctx, catalog.Item{ID: "s4", Kind: catalog.KindSeason, SeriesID: "show", SeasonNumber: &num}))
	require.NoError(t, lib.Flush(ctx))

	removed := persisted(t, db, store.StatusRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, "show", removed[0].SeriesID)
	require.NotNil(t, removed[0].SeasonNumber)
	assert.Equal(t, 3, *removed[0].SeasonNumber)

	updated := persisted(t, db, store.StatusUpdated)
	require.Len(t, updated, 1)
	assert.Empty(t, updated[0].SeriesID)
	assert.Nil(t, updated[0].SeasonNumber)
}

func TestLibrary_RemovedFolderRefreshesMounts(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	host := &mountHost{mounts: []catalog.Mount{
		{ItemID: "lib-movies", Name: "Movies", Locations: []string{"/media/movies", "/mnt/extra"}},
		{ItemID: "lib-shows", Name: "Shows", Locations: []string{"/media/shows"}},
		{ItemID: "lib-mixed", Name: "Mixed", Locations: []string{"/media/movies"}},
	}}
	lib := capture.NewLibrary(db, host, captureOpts())
	ctx := context.Background()

	folder := catalog.Item{ID: "f-inner", Kind: catalog.KindFolder, Path: "/media/movies/old/inner"}
	ancestors := []catalog.Ancestor{
		{ID: "f-old", Kind: catalog.KindFolder, Path: "/media/movies/old"},
		{ID: "f-root", Kind: catalog.KindFolder, Path: "/media/movies"},
		{ID: "agg", Kind: catalog.KindCollectionFolder, Path: "/"},
	}
	require.NoError(t, lib.RecordRemoved(ctx, folder, ancestors))
	require.NoError(t, lib.Flush(ctx))

	updated := persisted(t, db, store.StatusUpdated)
	assert.Equal(t, []string{"lib-mixed", "lib-movies"}, itemIDs(updated))
	for _, it := range updated {
		assert.Equal(t, catalog.KindCollectionFolder, it.Kind)
	}
	assert.Empty(t, persisted(t, db, store.StatusRemoved), "the folder itself is not recorded")
}

func TestLibrary_RemovedFolderWithoutFolderAncestor(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	host := &mountHost{mounts: []catalog.Mount{{ItemID: "lib", Locations: []string{"/media"}}}}
	lib := capture.NewLibrary(db, host, captureOpts())

	folder := catalog.Item{ID: "f", Kind: catalog.KindFolder, Path: "/media/x"}
	require.NoError(t, lib.RecordRemoved(context.Background(), folder, nil))
	assert.Equal(t, 0, lib.Pending())
}

func TestLibrary_MountLookupFailure(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	boom := errors.New("host unavailable")
	lib := capture.NewLibrary(db, &mountHost{err: boom}, captureOpts())

	folder := catalog.Item{ID: "f", Kind: catalog.KindFolder}
	ancestors := []catalog.Ancestor{{ID: "p", Kind: catalog.KindFolder, Path: "/media"}}
	assert.ErrorIs(t, lib.RecordRemoved(context.Background(), folder, ancestors), boom)
}

func TestLibrary_CloseFlushes(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	lib := capture.NewLibrary(db, nil, captureOpts())
	ctx := context.Background()

	require.NoError(t, lib.RecordUpdated(ctx, movie("A")))
	require.NoError(t, lib.Close(ctx))
	assert.Len(t, persisted(t, db, store.StatusUpdated), 1)

	assert.ErrorIs(t, lib.RecordUpdated(ctx, movie("B")), capture.ErrClosed)
}

func TestLibrary_FlushStampOrderedWithStartSync(t *testing.T) {
	db := openStore(t)
	withCheckpoint(t, db)
	ctx := context.Background()

	stamping := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	opts := captureOpts()
	opts.Clock = func() time.Time {
		once.Do(func() {
			close(stamping)
			<-release
		})
		return flushTime
	}
	lib := capture.NewLibrary(db, nil, opts)
	require.NoError(t, lib.RecordUpdated(ctx, movie("A")))

	flushed := make(chan error, 1)
	go func() { flushed <- lib.Flush(ctx) }()
	<-stamping

	mgr := checkpoint.NewManager(db, checkpoint.WithClock(func() time.Time {
		return flushTime.Add(time.Minute)
	}))
	synced := make(chan *checkpoint.SyncStats, 1)
	go func() {
		stats, err := mgr.StartSync(ctx, "cp")
		assert.NoError(t, err)
		synced <- stats
	}()

	select {
	case <-synced:
		close(release)
		t.Fatal("window closed while a flush was being stamped")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-flushed)
	stats := <-synced
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.UpdatedVideos, "change lands in the window that was closing")
}
