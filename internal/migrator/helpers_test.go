package migrator

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/schemaledger/internal/db"
	"github.com/mirajehossain/schemaledger/internal/logger"
)

const testTable = "schema_migrations"

// helper to create a temp migration file
func writeMigration(t *testing.T, dir, id, sqlText string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".sql"), []byte(sqlText), 0o644); err != nil {
		t.Fatalf("write %s: %v", id, err)
	}
}

func openSQLite(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	sqlDB, d, err := db.Open("sqlite", filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB, d
}

func newSQLiteRunner(t *testing.T, dir string) (*Runner, *sql.DB) {
	t.Helper()
	sqlDB, d := openSQLite(t)
	return NewRunner(sqlDB, d, testTable, Source{Dir: dir}, logger.Discard()), sqlDB
}

type ledgerRow struct {
	ID      string
	Success bool
}

func ledgerRows(t *testing.T, sqlDB *sql.DB) []ledgerRow {
	t.Helper()
	rows, err := sqlDB.Query(`SELECT migration_id, success FROM ` + testTable + ` ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()
	var out []ledgerRow
	for rows.Next() {
		var r ledgerRow
		require.NoError(t, rows.Scan(&r.ID, &r.Success))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func columnExists(t *testing.T, sqlDB *sql.DB, table, column string) bool {
	t.Helper()
	var n int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n))
	return n > 0
}

func tableExists(t *testing.T, sqlDB *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n > 0
}
