package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSNAppendsOptions(t *testing.T) {
	assert.Equal(t,
		"user:pass@tcp(localhost:3306)/db?parseTime=true&multiStatements=true",
		mysqlDSN("user:pass@tcp(localhost:3306)/db"))
	assert.Equal(t,
		"u@/db?parsetime=false&multiStatements=true",
		mysqlDSN("u@/db?parsetime=false"))
}

func TestSQLiteDSNAddsBusyTimeout(t *testing.T) {
	assert.Equal(t, "file:app.db?_pragma=busy_timeout(5000)", sqliteDSN("file:app.db"))
	assert.Equal(t, "file:app.db?mode=rwc&_pragma=busy_timeout(5000)", sqliteDSN("file:app.db?mode=rwc"))
	assert.Equal(t, "x?_pragma=busy_timeout(10)", sqliteDSN("x?_pragma=busy_timeout(10)"))
}

func TestOpenDoesNotDial(t *testing.T) {
	sqlDB, d, err := Open("mysql", "user:pass@tcp(localhost:3306)/db")
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.Equal(t, MySQL, d.Name)

	_, _, err = Open("oracle", "x")
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	for name, want := range map[string]string{
		"pg": Postgres, "pgx": Postgres, "postgres": Postgres,
		"sqlite3": SQLite, "mysql": MySQL, "MariaDB": MySQL,
	} {
		d, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d.Name, name)
	}
	_, err := Lookup("oracle")
	require.ErrorContains(t, err, "not supported")
}

func TestTransactionalDDL(t *testing.T) {
	assert.False(t, Dialect{Name: MySQL}.TransactionalDDL())
	assert.True(t, Dialect{Name: Postgres}.TransactionalDDL())
	assert.True(t, Dialect{Name: SQLite}.TransactionalDDL())
}

func TestBind(t *testing.T) {
	pg := Dialect{Name: Postgres}
	my := Dialect{Name: MySQL}
	q := "UPDATE t SET success = ? WHERE seq = ?"
	assert.Equal(t, "UPDATE t SET success = $1 WHERE seq = $2", pg.Bind(q))
	assert.Equal(t, q, my.Bind(q))
}

func TestLedgerDDL(t *testing.T) {
	pg, _ := Lookup("postgres")
	stmts := pg.LedgerDDL("ops.schema_migrations")
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS ops.schema_migrations")
	assert.Contains(t, stmts[1], "schema_migrations_success_uq ON ops.schema_migrations (migration_id) WHERE success")

	my, _ := Lookup("mysql")
	stmts = my.LedgerDDL("schema_migrations")
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "UNIQUE KEY uniq_success_migration_id")
}

func TestValidateTable(t *testing.T) {
	require.NoError(t, ValidateTable("schema_migrations"))
	require.NoError(t, ValidateTable("ops.schema_migrations"))
	require.Error(t, ValidateTable("t; DROP TABLE users"))
	require.Error(t, ValidateTable(""))
}

func TestEnsureTableSQLiteIsIdempotent(t *testing.T) {
	sqlDB, d, err := Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer sqlDB.Close()

	ctx := context.Background()
	require.NoError(t, EnsureTable(ctx, sqlDB, d, "schema_migrations"))
	require.NoError(t, EnsureTable(ctx, sqlDB, d, "schema_migrations"))

	_, err = sqlDB.ExecContext(ctx, `INSERT INTO schema_migrations (migration_id, name, checksum, success) VALUES ('1_a', 'a', 'c', 1)`)
	require.NoError(t, err)
	// failed attempts may repeat
	for i := 0; i < 2; i++ {
		_, err = sqlDB.ExecContext(ctx, `INSERT INTO schema_migrations (migration_id, name, checksum, success) VALUES ('1_a', 'a', 'c', 0)`)
		require.NoError(t, err)
	}
	// a second success for the same id violates the partial unique index
	_, err = sqlDB.ExecContext(ctx, `INSERT INTO schema_migrations (migration_id, name, checksum, success) VALUES ('1_a', 'a', 'c', 1)`)
	require.Error(t, err)
}

func TestTableExistsQuery(t *testing.T) {
	sqlDB, d, err := Open("sqlite", filepath.Join(t.TempDir(), "exists.db"))
	require.NoError(t, err)
	defer sqlDB.Close()

	ctx := context.Background()
	count := func() int {
		q, args := d.TableExistsQuery("main.schema_migrations")
		var n int
		require.NoError(t, sqlDB.QueryRowContext(ctx, q, args...).Scan(&n))
		return n
	}
	assert.Equal(t, 0, count())
	require.NoError(t, EnsureTable(ctx, sqlDB, d, "schema_migrations"))
	assert.Equal(t, 1, count())

	q, args := Dialect{Name: MySQL}.TableExistsQuery("app.schema_migrations")
	assert.Contains(t, q, "table_schema = ?")
	assert.Equal(t, []any{"app", "schema_migrations"}, args)
	q, args = Dialect{Name: Postgres}.TableExistsQuery("public.schema_migrations")
	assert.Contains(t, q, "to_regclass($1)")
	assert.Equal(t, []any{"public.schema_migrations"}, args)
}

func TestTimeScan(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	var v Time
	require.NoError(t, v.Scan(now))
	assert.True(t, v.Valid)
	assert.True(t, now.Equal(v.Time))

	require.NoError(t, v.Scan("2024-01-02 03:04:05"))
	assert.True(t, now.Equal(v.Time))

	require.NoError(t, v.Scan([]byte("2024-01-02T03:04:05Z")))
	assert.True(t, now.Equal(v.Time))

	require.NoError(t, v.Scan(nil))
	assert.False(t, v.Valid)

	require.Error(t, v.Scan(42))
	require.Error(t, v.Scan("yesterday"))
}
