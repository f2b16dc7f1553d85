package checkpoint_test

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/checkpoint"
	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func setup(t *testing.T) (*checkpoint.Manager, *store.DB, *fakeClock) {
	t.Helper()

	db, err := store.Open(context.Background(), store.Options{
		Path: filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{now: at(0)}
	seq := 0
	m := checkpoint.NewManager(db,
		checkpoint.WithClock(clock.Now),
		checkpoint.WithIDFunc(func() string {
			seq++
			return "cp-" + strconv.Itoa(seq)
		}),
	)
	return m, db, clock
}

func TestCreate_Validation(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "", "user")
	assert.ErrorIs(t, err, syncerrors.ErrValidation)

	_, err = m.Create(ctx, "device", "")
	assert.ErrorIs(t, err, syncerrors.ErrValidation)
}

func TestCreate_FirstCheckpointStartsNow(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()
	clock.Set(at(10))

	cp, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	assert.Equal(t, "cp-1", cp.ID)
	assert.Equal(t, at(10), cp.WindowStart)
	assert.False(t, cp.Started())

	got, err := m.Get(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.WindowStart, got.WindowStart)
	assert.Nil(t, got.WindowEnd)
}

func TestCreate_ChainsFromLastWindowEnd(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	clock.Set(at(20))
	_, err = m.StartSync(ctx, first.ID)
	require.NoError(t, err)

	clock.Set(at(50))
	second, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	assert.Equal(t, at(20), second.WindowStart)

	_, err = m.Get(ctx, first.ID)
	assert.ErrorIs(t, err, syncerrors.ErrNotFound)
}

func TestCreate_UnstartedPredecessorStartsNow(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	clock.Set(at(30))
	second, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	assert.Equal(t, at(30), second.WindowStart)
	_, err = m.Get(ctx, first.ID)
	assert.ErrorIs(t, err, syncerrors.ErrNotFound)
}

func TestCreate_PairsAreIndependent(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	a, err := m.Create(ctx, "device-a", "user")
	require.NoError(t, err)
	b, err := m.Create(ctx, "device-b", "user")
	require.NoError(t, err)
	c, err := m.Create(ctx, "device-a", "other")
	require.NoError(t, err)

	for _, id := range []string{a.ID, b.ID, c.ID} {
		_, err := m.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestStartSync_NotFound(t *testing.T) {
	m, _, _ := setup(t)

	_, err := m.StartSync(context.Background(), "missing")
	assert.ErrorIs(t, err, syncerrors.ErrNotFound)

	_, err = m.StartSync(context.Background(), "")
	assert.ErrorIs(t, err, syncerrors.ErrValidation)
}

func TestStartSync_RepeatMovesEndForward(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()

	cp, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	clock.Set(at(5))
	stats, err := m.StartSync(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, at(5), stats.WindowEnd)

	clock.Set(at(9))
	stats, err = m.StartSync(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, at(9), stats.WindowEnd)

	got, err := m.Get(ctx, cp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WindowEnd)
	assert.Equal(t, at(9), *got.WindowEnd)
}

func TestStartSync_Stats(t *testing.T) {
	m, db, clock := setup(t)
	ctx := context.Background()

	cp, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	item := func(id string, kind catalog.Kind, status store.Status, sec int) store.ItemChange {
		return store.ItemChange{ItemID: id, Kind: kind, Status: status, LastModified: at(sec)}
	}
	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		item("f1", catalog.KindFolder, store.StatusUpdated, 1),
		item("f2", catalog.KindFolder, store.StatusRemoved, 1),
		item("b1", catalog.KindBoxSet, store.StatusUpdated, 2),
		item("p1", catalog.KindPlaylist, store.StatusRemoved, 2),
		item("s1", catalog.KindSeries, store.StatusUpdated, 3),
		item("s2", catalog.KindSeries, store.StatusRemoved, 3),
		item("se1", catalog.KindSeason, store.StatusUpdated, 4),
		item("m1", catalog.KindMovie, store.StatusUpdated, 5),
		item("e1", catalog.KindEpisode, store.StatusUpdated, 5),
		item("v1", catalog.KindMusicVideo, store.StatusRemoved, 6),
		item("c1", catalog.KindCollectionFolder, store.StatusUpdated, 7),
		// Outside the window.
		item("m2", catalog.KindMovie, store.StatusUpdated, 100),
	}))
	require.NoError(t, db.SaveUserData(ctx, []store.UserDataChange{
		{ItemID: "m1", UserID: "user", Kind: catalog.KindMovie, LastModified: at(3)},
		{ItemID: "e1", UserID: "user", Kind: catalog.KindEpisode, LastModified: at(4)},
		{ItemID: "s1", UserID: "user", Kind: catalog.KindSeries, LastModified: at(4)},
		{ItemID: "m1", UserID: "other", Kind: catalog.KindMovie, LastModified: at(4)},
	}))

	clock.Set(at(10))
	stats, err := m.StartSync(ctx, cp.ID)
	require.NoError(t, err)

	assert.Equal(t, checkpoint.SyncStats{
		UpdatedFolders:           1,
		RemovedFolders:           1,
		UpdatedBoxSets:           1,
		RemovedPlaylists:         1,
		UpdatedSeries:            1,
		RemovedSeries:            1,
		UpdatedSeasons:           1,
		UpdatedVideos:            2,
		RemovedVideos:            1,
		UpdatedCollectionFolders: 1,
		UpdatedUserData:          2,
		WindowEnd:                at(10),
	}, *stats)
}

func TestDelete(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	cp, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	has, err := m.HasCheckpoints(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, m.Delete(ctx, cp.ID))
	assert.ErrorIs(t, m.Delete(ctx, cp.ID), syncerrors.ErrNotFound)

	has, err = m.HasCheckpoints(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPrune_KeepsRecentChangesWhileCheckpointsRemain(t *testing.T) {
	m, db, clock := setup(t)
	ctx := context.Background()

	old, err := m.Create(ctx, "old-device", "user")
	require.NoError(t, err)

	clock.Set(at(100))
	recent, err := m.Create(ctx, "new-device", "user")
	require.NoError(t, err)

	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "a", Kind: catalog.KindMovie, LastModified: at(10)},
		{ItemID: "b", Kind: catalog.KindMovie, LastModified: at(60)},
	}))
	require.NoError(t, db.SaveUserData(ctx, []store.UserDataChange{
		{ItemID: "a", UserID: "user", Kind: catalog.KindMovie, LastModified: at(10)},
		{ItemID: "b", UserID: "user", Kind: catalog.KindMovie, LastModified: at(60)},
	}))

	res, err := m.Prune(ctx, at(50))
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Checkpoints)
	assert.Equal(t, int64(1), res.Items)
	assert.Equal(t, int64(1), res.UserData)
	assert.True(t, res.Remaining)
	assert.True(t, res.OldestWindowStart.Equal(recent.WindowStart))

	_, err = m.Get(ctx, old.ID)
	assert.ErrorIs(t, err, syncerrors.ErrNotFound)
	_, err = m.Get(ctx, recent.ID)
	assert.NoError(t, err)

	all := store.Window{Start: at(0), End: at(1000)}
	require.NoError(t, db.View(ctx, func(tx *store.Tx) error {
		n, err := tx.CountItems(store.ItemFilter{Window: all})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = tx.CountUserData(store.UserDataFilter{Window: all, UserID: "user"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))
}

func TestPrune_ClearsLogWhenNoCheckpointRemains(t *testing.T) {
	m, db, _ := setup(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "device", "user")
	require.NoError(t, err)

	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "a", Kind: catalog.KindMovie, LastModified: at(200)},
	}))
	require.NoError(t, db.SaveUserData(ctx, []store.UserDataChange{
		{ItemID: "a", UserID: "user", Kind: catalog.KindMovie, LastModified: at(200)},
	}))

	res, err := m.Prune(ctx, at(100))
	require.NoError(t, err)

	assert.False(t, res.Remaining)
	assert.True(t, res.OldestWindowStart.IsZero())
	assert.Equal(t, int64(1), res.Checkpoints)
	assert.Equal(t, int64(1), res.Items)
	assert.Equal(t, int64(1), res.UserData)
}
