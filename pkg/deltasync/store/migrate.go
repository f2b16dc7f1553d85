package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	syncerrors "github.com/randalmurphal/deltasync/pkg/deltasync/errors"
	"github.com/randalmurphal/deltasync/pkg/deltasync/observability"
)

// SchemaVersion is the schema version this package reads and writes.
const SchemaVersion = 2

// Migration upgrades the schema from Version-1 to Version.
type Migration struct {
	Version int
	Name    string

	// Apply runs inside a transaction that also stamps Version.
	Apply func(ctx context.Context, tx *sql.Tx) error
}

// DefaultMigrations returns the registered migrations in version order.
func DefaultMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "drop beta schema", Apply: dropBetaSchema},
		{Version: 2, Name: "rekey user data by item id", Apply: rekeyUserData},
	}
}

// VersionManager reads and upgrades the schema version stored in
// PRAGMA user_version.
type VersionManager struct {
	migrations map[int]Migration
	strict     bool
	logger     *slog.Logger
}

// NewVersionManager creates a VersionManager. With strict set, Upgrade fails
// on a version that has no registered migration; otherwise the gap is
// logged and skipped.
func NewVersionManager(logger *slog.Logger, strict bool, migrations ...Migration) *VersionManager {
	m := &VersionManager{
		migrations: make(map[int]Migration, len(migrations)),
		strict:     strict,
		logger:     logger,
	}
	for _, mig := range migrations {
		m.migrations[mig.Version] = mig
	}
	return m
}

// Versions returns the registered migration versions in ascending order.
func (m *VersionManager) Versions() []int {
	versions := make([]int, 0, len(m.migrations))
	for v := range m.migrations {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

// CurrentVersion returns the stamped schema version.
func (m *VersionManager) CurrentVersion(ctx context.Context, conn *sql.DB) (int, error) {
	return readUserVersion(ctx, conn)
}

// Upgrade brings the schema to target. A freshly created database is stamped
// directly. Otherwise each version in (current, target] is applied in
// ascending order, each in its own transaction together with its stamp, so a
// failure leaves the schema at the last completed version.
func (m *VersionManager) Upgrade(ctx context.Context, conn *sql.DB, target int, fresh bool) error {
	if fresh {
		return syncerrors.Storage("stamp schema version", stampVersion(ctx, conn, target))
	}

	current, err := m.CurrentVersion(ctx, conn)
	if err != nil {
		return err
	}
	if current >= target {
		return nil
	}

	observability.LogMigrationStart(m.logger, current, target)

	for v := current + 1; v <= target; v++ {
		mig, ok := m.migrations[v]
		if !ok {
			if m.strict {
				return fmt.Errorf("upgrade schema to version %d: %w", v, ErrMigrationMissing)
			}
			observability.LogMigrationMissing(m.logger, v)
			if err := stampVersion(ctx, conn, v); err != nil {
				return syncerrors.Storage("stamp schema version", err)
			}
			continue
		}

		if err := m.apply(ctx, conn, mig); err != nil {
			return err
		}
		observability.LogMigrationStep(m.logger, mig.Version, mig.Name)
	}

	return nil
}

func (m *VersionManager) apply(ctx context.Context, conn *sql.DB, mig Migration) error {
	op := fmt.Sprintf("migrate schema to version %d", mig.Version)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return syncerrors.Storage(op, err)
	}
	if err := mig.Apply(ctx, tx); err != nil {
		_ = tx.Rollback()
		return syncerrors.Storage(op, err)
	}
	if _, err := tx.ExecContext(ctx, userVersionStmt(mig.Version)); err != nil {
		_ = tx.Rollback()
		return syncerrors.Storage(op, err)
	}
	return syncerrors.Storage(op, tx.Commit())
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readUserVersion(ctx context.Context, q queryRower) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, syncerrors.Storage("read schema version", err)
	}
	return v, nil
}

func stampVersion(ctx context.Context, conn *sql.DB, v int) error {
	_, err := conn.ExecContext(ctx, userVersionStmt(v))
	return err
}

// userVersionStmt formats the stamp; PRAGMA values can't be bound.
func userVersionStmt(v int) string {
	return fmt.Sprintf("PRAGMA user_version = %d", v)
}

// dropBetaSchema removes every table and index left by pre-release builds.
// The current tables are recreated after migrations run.
func dropBetaSchema(ctx context.Context, tx *sql.Tx) error {
	for _, kind := range []string{"table", "index"} {
		names, err := schemaObjects(ctx, tx, kind)
		if err != nil {
			return err
		}
		for _, name := range names {
			stmt := fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(kind), quoteIdent(name))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("drop %s %s: %w", kind, name, err)
			}
		}
	}
	return nil
}

// rekeyUserData rebuilds user_data so rows are keyed by (item id, user id)
// instead of the host's internal handle. When several legacy rows collapse
// onto one key the most recently modified wins.
func rekeyUserData(ctx context.Context, tx *sql.Tx) error {
	exists, err := tableExists(ctx, tx, userDataTable)
	if err != nil || !exists {
		return err
	}

	stmts := []string{
		`DROP TABLE IF EXISTS user_data_tmp`,
		userDataTableDDL("user_data_tmp"),
		`INSERT OR REPLACE INTO user_data_tmp (item_id, user_id, last_modified, type)
			SELECT item_id, user_id, last_modified, type FROM user_data ORDER BY last_modified`,
		`DROP TABLE user_data`,
		`ALTER TABLE user_data_tmp RENAME TO user_data`,
		`CREATE INDEX IF NOT EXISTS idx_user_data ON user_data(item_id, user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rekey user data: %w", err)
		}
	}
	return nil
}

func schemaObjects(ctx context.Context, tx *sql.Tx, kind string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = ? AND name NOT LIKE 'sqlite_%'
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s name: %w", kind, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return exists == 1, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
