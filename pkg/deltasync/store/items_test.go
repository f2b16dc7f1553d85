package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

func listItems(t *testing.T, db *store.DB, f store.ItemFilter) ([]store.ItemChange, int) {
	t.Helper()
	var (
		items []store.ItemChange
		total int
	)
	require.NoError(t, db.View(context.Background(), func(tx *store.Tx) error {
		var err error
		if items, err = tx.ListItems(f); err != nil {
			return err
		}
		total, err = tx.CountItems(f)
		return err
	}))
	return items, total
}

func TestUpsertItems_LatestWins(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "x", Status: store.StatusUpdated, LastModified: at(0), Kind: catalog.KindMovie},
	}))
	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "x", Status: store.StatusRemoved, LastModified: at(time.Minute), Kind: catalog.KindMovie},
	}))

	window := store.Window{Start: at(-time.Hour), End: at(time.Hour)}

	updated, n := listItems(t, db, store.ItemFilter{Window: window, Status: store.StatusUpdated})
	assert.Empty(t, updated)
	assert.Zero(t, n)

	removed, n := listItems(t, db, store.ItemFilter{Window: window, Status: store.StatusRemoved})
	require.Len(t, removed, 1)
	assert.Equal(t, 1, n)
	assert.True(t, removed[0].LastModified.Equal(at(time.Minute)))
}

func TestListItems_WindowIsInclusive(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "before", LastModified: at(-time.Nanosecond), Kind: catalog.KindMovie},
		{ItemID: "start", LastModified: at(0), Kind: catalog.KindMovie},
		{ItemID: "end", LastModified: at(time.Minute), Kind: catalog.KindMovie},
		{ItemID: "after", LastModified: at(time.Minute + time.Nanosecond), Kind: catalog.KindMovie},
	}))

	items, n := listItems(t, db, store.ItemFilter{Window: store.Window{Start: at(0), End: at(time.Minute)}})
	assert.Equal(t, 2, n)
	require.Len(t, items, 2)
	assert.Equal(t, "end", items[0].ItemID)
	assert.Equal(t, "start", items[1].ItemID)
}

func TestListItems_KindFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	var batch []store.ItemChange
	for i, k := range []catalog.Kind{
		catalog.KindMovie, catalog.KindEpisode, catalog.KindMovie, catalog.KindSeries,
		catalog.KindMovie, catalog.KindEpisode, catalog.KindMovie,
	} {
		batch = append(batch, store.ItemChange{
			ItemID:       string(rune('a' + i)),
			Status:       store.StatusUpdated,
			LastModified: at(time.Duration(i) * time.Second),
			Kind:         k,
		})
	}
	require.NoError(t, db.SaveItems(ctx, batch))

	window := store.Window{Start: at(0), End: at(time.Hour)}
	filter := store.ItemFilter{Window: window, Kinds: []catalog.Kind{catalog.KindMovie}, Limit: 3}

	page1, total := listItems(t, db, filter)
	assert.Equal(t, 4, total)
	require.Len(t, page1, 3)

	filter.Offset = 3
	page2, total := listItems(t, db, filter)
	assert.Equal(t, 4, total)
	require.Len(t, page2, 1)

	var ids []string
	for _, it := range append(page1, page2...) {
		assert.Equal(t, catalog.KindMovie, it.Kind)
		ids = append(ids, it.ItemID)
	}
	assert.Equal(t, []string{"a", "c", "e", "g"}, ids)

	multi, total := listItems(t, db, store.ItemFilter{
		Window: window,
		Kinds:  []catalog.Kind{catalog.KindEpisode, catalog.KindSeries},
	})
	assert.Equal(t, 3, total)
	assert.Len(t, multi, 3)
}

func TestListItems_TypeFilterIsBound(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "a", LastModified: at(0), Kind: catalog.KindMovie},
	}))

	// Unknown kinds are bound as their tag, so no row matches and nothing
	// leaks into the statement text.
	items, n := listItems(t, db, store.ItemFilter{
		Window: store.Window{Start: at(-time.Hour), End: at(time.Hour)},
		Kinds:  []catalog.Kind{catalog.Kind(42)},
	})
	assert.Empty(t, items)
	assert.Zero(t, n)
}

func TestItems_SeasonFields(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	season := 3
	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "s3", SeriesID: "show", SeasonNumber: &season, Status: store.StatusRemoved, LastModified: at(0), Kind: catalog.KindSeason},
		{ItemID: "m", Status: store.StatusRemoved, LastModified: at(0), Kind: catalog.KindMovie},
	}))

	items, _ := listItems(t, db, store.ItemFilter{
		Window: store.Window{Start: at(0), End: at(0)},
		Status: store.StatusRemoved,
	})
	require.Len(t, items, 2)

	assert.Equal(t, "m", items[0].ItemID)
	assert.Empty(t, items[0].SeriesID)
	assert.Nil(t, items[0].SeasonNumber)

	assert.Equal(t, "show", items[1].SeriesID)
	require.NotNil(t, items[1].SeasonNumber)
	assert.Equal(t, 3, *items[1].SeasonNumber)
}

func TestDeleteItems(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	require.NoError(t, db.SaveItems(ctx, []store.ItemChange{
		{ItemID: "old", LastModified: at(-time.Hour), Kind: catalog.KindMovie},
		{ItemID: "new", LastModified: at(0), Kind: catalog.KindMovie},
	}))

	require.NoError(t, db.Update(ctx, func(tx *store.Tx) error {
		n, err := tx.DeleteItemsBefore(at(0))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = tx.DeleteAllItems()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	}))
}
