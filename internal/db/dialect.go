package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name       string
	DriverName string // database/sql driver name
}

// Lookup resolves a dialect by name or common alias.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return Dialect{Name: MySQL, DriverName: "mysql"}, nil
	case "postgres", "postgresql", "pg", "pgx":
		return Dialect{Name: Postgres, DriverName: "pgx"}, nil
	case "sqlite", "sqlite3":
		return Dialect{Name: SQLite, DriverName: "sqlite"}, nil
	default:
		return Dialect{}, errors.Errorf("db driver '%s' not supported. Must be one of: mysql, postgres or sqlite", name)
	}
}

// TransactionalDDL reports whether schema changes roll back with their
// transaction. MySQL commits each DDL statement implicitly.
func (d Dialect) TransactionalDDL() bool {
	return d.Name != MySQL
}

// Bind rewrites '?' placeholders into the dialect's native style.
func (d Dialect) Bind(query string) string {
	if d.Name != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidateTable rejects table names that are not plain (optionally
// schema-qualified) identifiers, since they are interpolated into SQL.
func ValidateTable(table string) error {
	if !tableRe.MatchString(table) {
		return errors.Errorf("invalid migrations table name %q", table)
	}
	return nil
}

// LedgerDDL returns the statements that create the ledger table and its
// indexes. Every statement is idempotent.
func (d Dialect) LedgerDDL(table string) []string {
	base := table
	if i := strings.LastIndex(table, "."); i >= 0 {
		base = table[i+1:]
	}
	switch d.Name {
	case MySQL:
		// MySQL has no partial indexes; the generated column is NULL for
		// failed attempts so only successful rows collide.
		return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  seq BIGINT PRIMARY KEY AUTO_INCREMENT,
  migration_id VARCHAR(255) NOT NULL,
  name VARCHAR(255) NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
  execution_time_ms BIGINT NOT NULL DEFAULT 0,
  success BOOLEAN NOT NULL DEFAULT TRUE,
  success_migration_id VARCHAR(255) AS (IF(success, migration_id, NULL)) STORED,
  UNIQUE KEY uniq_success_migration_id (success_migration_id),
  KEY idx_migration_id (migration_id),
  KEY idx_applied_at (applied_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, table)}
	case Postgres:
		return []string{
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  seq BIGSERIAL PRIMARY KEY,
  migration_id VARCHAR(255) NOT NULL,
  name VARCHAR(255) NOT NULL,
  checksum CHAR(64) NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  execution_time_ms BIGINT NOT NULL DEFAULT 0,
  success BOOLEAN NOT NULL DEFAULT TRUE
)`, table),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_success_uq ON %s (migration_id) WHERE success`, base, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_migration_id_idx ON %s (migration_id)`, base, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_applied_at_idx ON %s (applied_at)`, base, table),
		}
	default:
		return []string{
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  migration_id TEXT NOT NULL,
  name TEXT NOT NULL,
  checksum TEXT NOT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  execution_time_ms INTEGER NOT NULL DEFAULT 0,
  success BOOLEAN NOT NULL DEFAULT 1
)`, table),
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_success_uq ON %s (migration_id) WHERE success = 1`, base, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_migration_id_idx ON %s (migration_id)`, base, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_applied_at_idx ON %s (applied_at)`, base, table),
		}
	}
}

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnsureTable creates the ledger table for d if it does not exist yet.
func EnsureTable(ctx context.Context, ex Execer, d Dialect, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	for _, ddl := range d.LedgerDDL(table) {
		if _, err := ex.ExecContext(ctx, ddl); err != nil {
			return errors.Wrapf(err, "create ledger table %s", table)
		}
	}
	return nil
}

// TableExistsQuery returns a query yielding a single count/bool column that
// is non-zero when table exists, without creating anything.
func (d Dialect) TableExistsQuery(table string) (string, []any) {
	schema, base := "", table
	if i := strings.LastIndex(table, "."); i >= 0 {
		schema, base = table[:i], table[i+1:]
	}
	switch d.Name {
	case MySQL:
		if schema == "" {
			return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`, []any{base}
		}
		return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`, []any{schema, base}
	case Postgres:
		return `SELECT COUNT(*) FROM (SELECT to_regclass($1) AS t) r WHERE r.t IS NOT NULL`, []any{table}
	default:
		return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, []any{base}
	}
}
