package lock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	if KeyFor("db", "t") != "schemaledger:db:t" {
		t.Fatal("key format mismatch")
	}
}

func TestKeyIDIsStable(t *testing.T) {
	assert.Equal(t, KeyID("schemaledger:db:t"), KeyID("schemaledger:db:t"))
	assert.NotEqual(t, KeyID("schemaledger:db:t"), KeyID("schemaledger:db:u"))
}

func TestMySQLAcquireRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT GET_LOCK\(\?, \?\)`).
		WithArgs("k", 5).
		WillReturnRows(sqlmock.NewRows([]string{"got"}).AddRow(1))
	mock.ExpectQuery(`SELECT RELEASE_LOCK\(\?\)`).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"rel"}).AddRow(1))

	l := NewMySQL(db, "k")
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, 5*time.Second))
	require.NoError(t, l.Acquire(ctx, 5*time.Second)) // already held
	require.NoError(t, l.Release(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLAcquireTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT GET_LOCK`).WillReturnRows(sqlmock.NewRows([]string{"got"}).AddRow(0))

	err = NewMySQL(db, "k").Acquire(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestPostgresPollsUntilTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := KeyID("k")
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"got"}).AddRow(false))
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"got"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"rel"}).AddRow(true))

	l := NewPostgres(db, "k")
	l.interval = time.Millisecond
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, time.Minute))
	require.NoError(t, l.Release(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"got"}).AddRow(false))

	err = NewPostgres(db, "k").Acquire(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestForPicksImplementation(t *testing.T) {
	assert.IsType(t, &MySQL{}, For("mysql", nil, "k"))
	assert.IsType(t, &Postgres{}, For("postgres", nil, "k"))
	n := For("sqlite", nil, "k")
	assert.IsType(t, Noop{}, n)
	assert.Equal(t, "k", n.Key())
	require.NoError(t, n.Acquire(context.Background(), time.Second))
	require.NoError(t, n.Release(context.Background()))
}
