package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Options configures Open.
type Options struct {
	// Path is the database file, or MemoryPath for tests. The parent
	// directory is created if missing.
	Path string

	// CacheSizeKiB sizes the page cache. Zero keeps the SQLite default.
	CacheSizeKiB int

	// BusyTimeout bounds how long a connection waits on a locked file.
	// Defaults to 5s.
	BusyTimeout time.Duration

	// StrictMigrations fails Open when an intermediate migration is missing
	// instead of logging and skipping it.
	StrictMigrations bool

	// Migrations overrides the registered migrations. Nil uses
	// DefaultMigrations.
	Migrations []Migration

	Logger *slog.Logger
}

// DB is the persistence layer. It is safe for concurrent use.
type DB struct {
	sql  *sql.DB
	path string

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the database at opts.Path, brings its schema up to
// SchemaVersion and creates any missing tables. Any failure here is fatal:
// the returned error wraps ErrStorage or ErrMigrationMissing.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, syncerrors.Invalid("path", "database path is required")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	memory := opts.Path == MemoryPath
	fresh := memory
	if !memory {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, syncerrors.Storage("create database directory", err)
		}
		if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
			fresh = true
		}
	}

	conn, err := sql.Open("sqlite", dsn(opts))
	if err != nil {
		return nil, syncerrors.Storage("open database", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, syncerrors.Storage("open database", err)
	}

	migrations := opts.Migrations
	if migrations == nil {
		migrations = DefaultMigrations()
	}
	vm := NewVersionManager(opts.Logger, opts.StrictMigrations, migrations...)
	if err := vm.Upgrade(ctx, conn, SchemaVersion, fresh); err != nil {
		conn.Close()
		return nil, err
	}

	if err := createSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{sql: conn, path: opts.Path}, nil
}

// dsn builds the driver connection string. Per-connection pragmas go through
// _pragma parameters so every pooled connection gets them.
func dsn(opts Options) string {
	q := url.Values{}
	// page_size only takes effect before the first write, which includes
	// switching to WAL.
	q.Add("_pragma", "page_size(4096)")
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10)+")")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "temp_store(MEMORY)")
	q.Add("_pragma", "journal_size_limit(134217728)")
	if opts.CacheSizeKiB > 0 {
		// Negative cache_size is in KiB rather than pages.
		q.Add("_pragma", fmt.Sprintf("cache_size(-%d)", opts.CacheSizeKiB))
	}
	return opts.Path + "?" + q.Encode()
}

func createSchema(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.Storage("create schema", err)
	}
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return syncerrors.Storage("create schema", err)
		}
	}
	return syncerrors.Storage("create schema", tx.Commit())
}

// Tx is a transaction handed to Update and View callbacks. It must not be
// used after the callback returns.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

// Update runs fn in a write transaction while holding the writer lock. The
// transaction commits if fn returns nil and rolls back otherwise.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return syncerrors.Storage("update", ErrClosed)
	}
	return db.run(ctx, fn)
}

// View runs fn in a transaction while holding the reader lock. Changes made
// by fn are committed, but callers are expected to only read.
func (db *DB) View(ctx context.Context, fn func(*Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return syncerrors.Storage("view", ErrClosed)
	}
	return db.run(ctx, fn)
}

func (db *DB) run(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.Storage("begin transaction", err)
	}
	if err := fn(&Tx{ctx: ctx, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return syncerrors.Storage("commit transaction", err)
	}
	return nil
}

// SaveItems upserts item changes in one transaction.
func (db *DB) SaveItems(ctx context.Context, items []ItemChange) error {
	if len(items) == 0 {
		return nil
	}
	return db.Update(ctx, func(tx *Tx) error {
		return tx.UpsertItems(items)
	})
}

// SaveUserData upserts user data changes in one transaction.
func (db *DB) SaveUserData(ctx context.Context, changes []UserDataChange) error {
	if len(changes) == 0 {
		return nil
	}
	return db.Update(ctx, func(tx *Tx) error {
		return tx.UpsertUserData(changes)
	})
}

// SaveItemsAt stamps every change with one reading of now, taken after the
// writer lock is held, and upserts them in one transaction. A concurrent
// StartSync therefore either sees the rows or closes its window before the
// stamp. items is not modified.
func (db *DB) SaveItemsAt(ctx context.Context, items []ItemChange, now func() time.Time) error {
	if len(items) == 0 {
		return nil
	}
	return db.Update(ctx, func(tx *Tx) error {
		at := now()
		stamped := make([]ItemChange, len(items))
		for i, c := range items {
			c.LastModified = at
			stamped[i] = c
		}
		return tx.UpsertItems(stamped)
	})
}

// SaveUserDataAt is SaveItemsAt for user data changes.
func (db *DB) SaveUserDataAt(ctx context.Context, changes []UserDataChange, now func() time.Time) error {
	if len(changes) == 0 {
		return nil
	}
	return db.Update(ctx, func(tx *Tx) error {
		at := now()
		stamped := make([]UserDataChange, len(changes))
		for i, c := range changes {
			c.LastModified = at
			stamped[i] = c
		}
		return tx.UpsertUserData(stamped)
	})
}

// HasCheckpoints reports whether any checkpoint exists.
func (db *DB) HasCheckpoints(ctx context.Context) (bool, error) {
	var exists bool
	err := db.View(ctx, func(tx *Tx) error {
		var err error
		exists, err = tx.HasCheckpoints()
		return err
	})
	return exists, err
}

// SchemaVersion returns the stamped schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return 0, syncerrors.Storage("schema version", ErrClosed)
	}
	return readUserVersion(ctx, db.sql)
}

// Path returns the database path.
func (db *DB) Path() string {
	return db.path
}

// Close releases the database. It waits for in-flight transactions and is
// safe to call more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}

	db.closed = true
	return db.sql.Close()
}
