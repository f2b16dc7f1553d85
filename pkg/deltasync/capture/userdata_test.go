package capture_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deltasync/pkg/deltasync/capture"
	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	"github.com/randalmurphal/deltasync/pkg/deltasync/store"
)

func userData(t *testing.T, db *store.DB, userID string) []store.UserDataChange {
	t.Helper()
	var changes []store.UserDataChange
	require.NoError(t, db.View(context.Background(), func(tx *store.Tx) error {
		var err error
		changes, err = tx.ListUserData(store.UserDataFilter{Window: everything, UserID: userID})
		return err
	}))
	return changes
}

func saved(item catalog.Item, user string, reason catalog.SaveReason) catalog.UserDataEvent {
	return catalog.UserDataEvent{Item: item, UserID: user, Reason: reason}
}

func TestUserData_CoalescesPerItemAndUser(t *testing.T) {
	db := openStore(t)
	ud := capture.NewUserData(db, captureOpts())
	ctx := context.Background()

	require.NoError(t, ud.RecordSaved(ctx, saved(movie("A"), "u1", catalog.SaveReasonTogglePlayed)))
	require.NoError(t, ud.RecordSaved(ctx, saved(movie("A"), "u1", catalog.SaveReasonPlaybackFinished)))
	require.NoError(t, ud.RecordSaved(ctx, saved(movie("A"), "u2", catalog.SaveReasonTogglePlayed)))
	require.NoError(t, ud.RecordSaved(ctx, saved(movie("B"), "u1", catalog.SaveReasonUpdateUserRating)))
	require.NoError(t, ud.Flush(ctx))

	u1 := userData(t, db, "u1")
	require.Len(t, u1, 2)
	assert.Equal(t, "A", u1[0].ItemID)
	assert.Equal(t, "B", u1[1].ItemID)
	assert.Equal(t, flushTime, u1[0].LastModified)

	assert.Len(t, userData(t, db, "u2"), 1)
}

func TestUserData_IgnoresProgressAndUntrackedItems(t *testing.T) {
	db := openStore(t)
	ud := capture.NewUserData(db, captureOpts())
	ctx := context.Background()

	require.NoError(t, ud.RecordSaved(ctx, saved(movie("A"), "u1", catalog.SaveReasonPlaybackProgress)))
	require.NoError(t, ud.RecordSaved(ctx, saved(catalog.Item{ID: "p", Kind: catalog.KindPlaylist}, "u1", catalog.SaveReasonImport)))
	require.NoError(t, ud.RecordSaved(ctx, saved(movie("B"), "", catalog.SaveReasonImport)))
	assert.Equal(t, 0, ud.Pending())
}

func TestUserData_CheckpointGate(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	ungated := capture.NewUserData(db, captureOpts())
	require.NoError(t, ungated.RecordSaved(ctx, saved(movie("A"), "u1", catalog.SaveReasonTogglePlayed)))
	assert.Equal(t, 1, ungated.Pending())

	opts := captureOpts()
	opts.RequireCheckpoint = true
	gated := capture.NewUserData(db, opts)
	require.NoError(t, gated.RecordSaved(ctx, saved(movie("A"), "u1", catalog.SaveReasonTogglePlayed)))
	assert.Equal(t, 0, gated.Pending())

	withCheckpoint(t, db)
	require.NoError(t, gated.RecordSaved(ctx, saved(movie("A"), "u1", catalog.SaveReasonTogglePlayed)))
	assert.Equal(t, 1, gated.Pending())

	require.NoError(t, ungated.Close(ctx))
	require.NoError(t, gated.Close(ctx))
}
