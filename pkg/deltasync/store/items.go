package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
)

// UpsertItems writes item changes, replacing any existing row per item id.
// Within the batch a later entry for the same id overwrites an earlier one.
func (t *Tx) UpsertItems(items []ItemChange) error {
	stmt, err := t.tx.PrepareContext(t.ctx, `
		INSERT OR REPLACE INTO items (item_id, series_id, season, status, last_modified, type)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return syncerrors.Storage("prepare item upsert", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(t.ctx,
			it.ItemID,
			nullString(it.SeriesID),
			nullInt(it.SeasonNumber),
			int(it.Status),
			toNanos(it.LastModified),
			it.Kind.String(),
		); err != nil {
			return syncerrors.Storage("upsert item", err)
		}
	}
	return nil
}

// ListItems returns a page of item changes matching f, ordered by item id.
func (t *Tx) ListItems(f ItemFilter) ([]ItemChange, error) {
	where, args := itemWhere(f)
	args = append(args, sqlLimit(f.Limit), f.Offset)

	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT item_id, series_id, season, status, last_modified, type
		FROM items WHERE `+where+`
		ORDER BY item_id
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, syncerrors.Storage("list items", err)
	}
	defer rows.Close()

	items := []ItemChange{}
	for rows.Next() {
		var (
			it       ItemChange
			seriesID sql.NullString
			season   sql.NullInt64
			status   int
			modified int64
			kind     string
		)
		if err := rows.Scan(&it.ItemID, &seriesID, &season, &status, &modified, &kind); err != nil {
			return nil, syncerrors.Storage("scan item", err)
		}
		it.SeriesID = seriesID.String
		if season.Valid {
			n := int(season.Int64)
			it.SeasonNumber = &n
		}
		it.Status = Status(status)
		it.LastModified = fromNanos(modified)
		it.Kind, _ = catalog.ParseKind(kind)
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, syncerrors.Storage("iterate items", err)
	}
	return items, nil
}

// CountItems returns the number of item changes matching f, ignoring its
// offset and limit.
func (t *Tx) CountItems(f ItemFilter) (int, error) {
	where, args := itemWhere(f)

	var n int
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM items WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, syncerrors.Storage("count items", err)
	}
	return n, nil
}

// DeleteItemsBefore removes item changes last modified before cutoff.
func (t *Tx) DeleteItemsBefore(cutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM items WHERE last_modified < ?`, toNanos(cutoff))
	return affected(res, err, "delete old items")
}

// DeleteAllItems removes every item change.
func (t *Tx) DeleteAllItems() (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM items`)
	return affected(res, err, "delete items")
}

func itemWhere(f ItemFilter) (string, []any) {
	where := "status = ? AND last_modified BETWEEN ? AND ?"
	args := []any{int(f.Status), toNanos(f.Window.Start), toNanos(f.Window.End)}
	return appendKinds(where, args, f.Kinds)
}

// appendKinds adds a type filter bound through placeholders.
func appendKinds(where string, args []any, kinds []catalog.Kind) (string, []any) {
	if len(kinds) == 0 {
		return where, args
	}
	where += " AND type IN (" + strings.TrimSuffix(strings.Repeat("?,", len(kinds)), ",") + ")"
	for _, k := range kinds {
		args = append(args, k.String())
	}
	return where, args
}

// sqlLimit maps an unlimited page size to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
