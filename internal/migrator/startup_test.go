package migrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStartupMigrations(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "1_a", "CREATE TABLE a (id INTEGER);")
	r, _ := newSQLiteRunner(t, dir)

	require.NoError(t, RunStartupMigrations(context.Background(), r))
	require.NoError(t, RunStartupMigrations(context.Background(), r))
}

func TestRunStartupMigrationsFailure(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "1_a", "CREATE TABLE a (id INTEGER) nope;")
	r, _ := newSQLiteRunner(t, dir)

	err := RunStartupMigrations(context.Background(), r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "startup migrations failed: 1_a: ")
}
