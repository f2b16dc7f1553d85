// Package store persists checkpoints and the change log in a single SQLite
// file.
//
// All access goes through DB.Update and DB.View. Update holds a process-wide
// writer lock for the length of one transaction; View holds the reader lock,
// so reads run concurrently with each other but never with a write.
//
// Timestamps are stored as INTEGER unix nanoseconds in UTC. List queries
// order by primary key so offset pagination is stable while the window is
// closed.
package store

import (
	"errors"
	"time"

	"github.com/randalmurphal/deltasync/pkg/deltasync/catalog"
)

// Status distinguishes updated from removed item changes.
type Status int

const (
	StatusUpdated Status = 0
	StatusRemoved Status = 1
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusUpdated:
		return "updated"
	case StatusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Checkpoint marks the start of a synchronization window for a device and
// user. WindowEnd is nil until the sync is started.
type Checkpoint struct {
	ID          string
	DeviceID    string
	UserID      string
	WindowStart time.Time
	WindowEnd   *time.Time
}

// Started reports whether the window has been closed by a sync start.
func (c *Checkpoint) Started() bool {
	return c.WindowEnd != nil
}

// Window returns the closed window, or false if the sync has not started.
func (c *Checkpoint) Window() (Window, bool) {
	if c.WindowEnd == nil {
		return Window{}, false
	}
	return Window{Start: c.WindowStart, End: *c.WindowEnd}, true
}

// Window is an inclusive time range over change timestamps.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ItemChange is the latest recorded change to a library item.
type ItemChange struct {
	ItemID       string
	SeriesID     string
	SeasonNumber *int
	Status       Status
	LastModified time.Time
	Kind         catalog.Kind
}

// UserDataChange is the latest recorded change to one user's data for an item.
type UserDataChange struct {
	ItemID       string
	UserID       string
	LastModified time.Time
	Kind         catalog.Kind
}

// ItemFilter selects item changes within a window.
type ItemFilter struct {
	Window Window
	Status Status

	// Kinds restricts results to these kinds; empty means all.
	Kinds []catalog.Kind

	Offset int

	// Limit caps the page size; zero means unlimited.
	Limit int
}

// UserDataFilter selects one user's data changes within a window.
type UserDataFilter struct {
	Window Window
	UserID string

	// Kinds restricts results to these kinds; empty means all.
	Kinds []catalog.Kind

	Offset int

	// Limit caps the page size; zero means unlimited.
	Limit int
}

// Sentinel errors for store operations.
var (
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")

	// ErrMigrationMissing indicates strict migration found a version gap.
	ErrMigrationMissing = errors.New("migration missing")
)

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
