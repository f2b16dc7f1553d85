package store

import (
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
)

// UpsertUserData writes user data changes, replacing any existing row per
// (item id, user id).
func (t *Tx) UpsertUserData(changes []UserDataChange) error {
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT OR REPLACE INTO user_data (item_id, user_id, last_modified, type)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return syncerrors.Storage("prepare user data upsert", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		if _, err := stmt.ExecContext(t.ctx, c.ItemID, c.UserID, toNanos(c.LastModified), c.Kind.String()); err != nil {
			return syncerrors.Storage("upsert user data", err)
		}
	}
	return nil
}

// ListUserData returns a page of one user's data changes matching f, ordered
// by item id.
func (t *Tx) ListUserData(f UserDataFilter) ([]UserDataChange, error) {
	where, args := userDataWhere(f)
	args = append(args, sqlLimit(f.Limit), f.Offset)

	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT item_id, user_id, last_modified, type
		FROM user_data WHERE `+where+`
		ORDER BY item_id, user_id
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, syncerrors.Storage("list user data", err)
	}
	defer rows.Close()

	changes := []UserDataChange{}
	for rows.Next() {
		var (
			c        UserDataChange
			modified int64
			kind     string
		)
		if err := rows.Scan(&c.ItemID, &c.UserID, &modified, &kind); err != nil {
			return nil, syncerrors.Storage("scan user data", err)
		}
		c.LastModified = fromNanos(modified)
		c.Kind, _ = catalog.ParseKind(kind)
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, syncerrors.Storage("iterate user data", err)
	}
	return changes, nil
}

// CountUserData returns the number of user data changes matching f, ignoring
// its offset and limit.
func (t *Tx) CountUserData(f UserDataFilter) (int, error) {
	where, args := userDataWhere(f)

	var n int
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM user_data WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, syncerrors.Storage("count user data", err)
	}
	return n, nil
}

// DeleteUserDataBefore removes user data changes last modified before cutoff.
func (t *Tx) DeleteUserDataBefore(cutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM user_data WHERE last_modified < ?`, toNanos(cutoff))
	return affected(res, err, "delete old user data")
}

// DeleteAllUserData removes every user data change.
func (t *Tx) DeleteAllUserData() (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM user_data`)
	return affected(res, err, "delete user data")
}

func userDataWhere(f UserDataFilter) (string, []any) {
	where := "user_id = ? AND last_modified BETWEEN ? AND ?"
	args := []any{f.UserID, toNanos(f.Window.Start), toNanos(f.Window.End)}
	return appendKinds(where, args, f.Kinds)
}
