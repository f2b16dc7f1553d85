package store

import (
	"database/sql"
	"errors"
	"time"

	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
)

// InsertCheckpoint adds a checkpoint row.
func (t *Tx) InsertCheckpoint(cp Checkpoint) error {
	var end any
	if cp.WindowEnd != nil {
		end = toNanos(*cp.WindowEnd)
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO checkpoints (id, device_id, user_id, window_start, window_end)
		VALUES (?, ?, ?, ?, ?)
	`, cp.ID, cp.DeviceID, cp.UserID, toNanos(cp.WindowStart), end)
	return syncerrors.Storage("insert checkpoint", err)
}

// Checkpoint returns the checkpoint with id, or a NotFound error.
func (t *Tx) Checkpoint(id string) (*Checkpoint, error) {
	var (
		cp    Checkpoint
		start int64
		end   sql.NullInt64
	)
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, device_id, user_id, window_start, window_end
		FROM checkpoints WHERE id = ?
	`, id).Scan(&cp.ID, &cp.DeviceID, &cp.UserID, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerrors.NotFound("checkpoint", id)
	}
	if err != nil {
		return nil, syncerrors.Storage("get checkpoint", err)
	}

	cp.WindowStart = fromNanos(start)
	if end.Valid {
		e := fromNanos(end.Int64)
		cp.WindowEnd = &e
	}
	return &cp, nil
}

// LatestWindowEnd returns the most recent window end recorded for the device
// and user. The bool is false when no started checkpoint exists.
func (t *Tx) LatestWindowEnd(deviceID, userID string) (time.Time, bool, error) {
	var end sql.NullInt64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT MAX(window_end) FROM checkpoints
		WHERE device_id = ? AND user_id = ?
	`, deviceID, userID).Scan(&end)
	if err != nil {
		return time.Time{}, false, syncerrors.Storage("latest window end", err)
	}
	if !end.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(end.Int64), true, nil
}

// DeleteDeviceCheckpoints removes every checkpoint of the device and user.
func (t *Tx) DeleteDeviceCheckpoints(deviceID, userID string) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM checkpoints WHERE device_id = ? AND user_id = ?
	`, deviceID, userID)
	return affected(res, err, "delete device checkpoints")
}

// SetWindowEnd records the window end of checkpoint id.
// Returns a NotFound error if the checkpoint doesn't exist.
func (t *Tx) SetWindowEnd(id string, end time.Time) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE checkpoints SET window_end = ? WHERE id = ?
	`, toNanos(end), id)
	n, err := affected(res, err, "set window end")
	if err != nil {
		return err
	}
	if n == 0 {
		return syncerrors.NotFound("checkpoint", id)
	}
	return nil
}

// DeleteCheckpoint removes checkpoint id. Returns false if it didn't exist.
func (t *Tx) DeleteCheckpoint(id string) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM checkpoints WHERE id = ?
	`, id)
	n, err := affected(res, err, "delete checkpoint")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteCheckpointsBefore removes checkpoints whose window started before
// cutoff.
func (t *Tx) DeleteCheckpointsBefore(cutoff time.Time) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM checkpoints WHERE window_start < ?
	`, toNanos(cutoff))
	return affected(res, err, "delete old checkpoints")
}

// HasCheckpoints reports whether any checkpoint exists.
func (t *Tx) HasCheckpoints() (bool, error) {
	var exists int
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT EXISTS(SELECT 1 FROM checkpoints)
	`).Scan(&exists)
	if err != nil {
		return false, syncerrors.Storage("check checkpoints", err)
	}
	return exists == 1, nil
}

// OldestWindowStart returns the earliest window start across all
// checkpoints. The bool is false when no checkpoint exists.
func (t *Tx) OldestWindowStart() (time.Time, bool, error) {
	var start sql.NullInt64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT MIN(window_start) FROM checkpoints
	`).Scan(&start)
	if err != nil {
		return time.Time{}, false, syncerrors.Storage("oldest window start", err)
	}
	if !start.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(start.Int64), true, nil
}

// affected returns the rows affected by an exec, wrapping any failure as a
// storage error for op.
func affected(res sql.Result, err error, op string) (int64, error) {
	if err != nil {
		return 0, syncerrors.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, syncerrors.Storage(op, err)
	}
	return n, nil
}
