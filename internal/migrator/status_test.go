package migrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBeforeFirstRun(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "1_a", "CREATE TABLE a (id INTEGER);")
	r, sqlDB := newSQLiteRunner(t, dir)

	rep := &Reporter{Source: r.Source, Ledger: r.Storage}
	snap, err := rep.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &StatusSnapshot{TotalMigrations: 1, PendingMigrations: 1}, snap)
	assert.False(t, tableExists(t, sqlDB, testTable))
}

func TestStatusAccuracy(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"1_a", "2_b", "3_c"} {
		writeMigration(t, dir, id, "CREATE TABLE t"+id[:1]+" (id INTEGER);")
	}
	r, _ := newSQLiteRunner(t, dir)
	ctx := context.Background()
	require.True(t, r.Run(ctx).Success)

	writeMigration(t, dir, "4_d", "CREATE TABLE t4 (id INTEGER);")
	writeMigration(t, dir, "5_e", "CREATE TABLE t5 (id INTEGER);")

	rep := &Reporter{Source: r.Source, Ledger: r.Storage}
	snap, err := rep.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.TotalMigrations)
	assert.Equal(t, 3, snap.AppliedMigrations)
	assert.Equal(t, 2, snap.PendingMigrations)
	assert.Equal(t, 0, snap.DriftedMigrations)
	assert.Equal(t, "3_c", snap.LastMigrationID)
	require.NotNil(t, snap.LastAppliedAt)
	assert.False(t, snap.LastAppliedAt.IsZero())

	// a failed attempt does not count as applied
	writeMigration(t, dir, "4_d", "CREATE TABLE t4 (id INTEGER) broken;")
	require.False(t, r.Run(ctx).Success)
	snap, err = rep.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.AppliedMigrations)
	assert.Equal(t, 2, snap.PendingMigrations)
}
