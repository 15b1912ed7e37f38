// Package lock serializes migration runs against one database with
// database-native advisory locks.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned when another runner held the lock past the timeout.
var ErrTimeout = errors.New("advisory lock wait timeout")

// Locker is held for the duration of a migration run.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release(ctx context.Context) error
	Key() string
}

// For returns the advisory lock implementation for a dialect name.
func For(dialect string, db *sql.DB, key string) Locker {
	switch dialect {
	case "mysql":
		return NewMySQL(db, key)
	case "postgres":
		return NewPostgres(db, key)
	default:
		// sqlite serializes writers on the file itself
		return Noop{key: key}
	}
}

// MySQL advisory lock using GET_LOCK/RELEASE_LOCK on a dedicated connection.
type MySQL struct {
	db   *sql.DB
	conn *sql.Conn
	key  string
	held bool
}

func NewMySQL(db *sql.DB, key string) *MySQL {
	return &MySQL{db: db, key: key}
}

func (m *MySQL) Acquire(ctx context.Context, timeout time.Duration) error {
	if m.held {
		return nil
	}
	var err error
	m.conn, err = m.db.Conn(ctx)
	if err != nil {
		return err
	}
	// GET_LOCK(name, timeout_seconds)
	row := m.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", m.key, int(timeout.Seconds()))
	var got sql.NullInt64
	if err := row.Scan(&got); err != nil {
		_ = m.conn.Close()
		return err
	}
	if !got.Valid || got.Int64 != 1 {
		_ = m.conn.Close()
		return errors.Wrapf(ErrTimeout, "key %s", m.key)
	}
	m.held = true
	return nil
}

func (m *MySQL) Release(ctx context.Context) error {
	if !m.held || m.conn == nil {
		return nil
	}
	row := m.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.key)
	var rel sql.NullInt64
	_ = row.Scan(&rel) // do not fail on release
	m.held = false
	return m.conn.Close()
}

func (m *MySQL) Key() string { return m.key }

// Postgres session-level advisory lock, polled with pg_try_advisory_lock so
// the wait honours the timeout.
type Postgres struct {
	db       *sql.DB
	conn     *sql.Conn
	key      string
	id       int64
	held     bool
	interval time.Duration
}

func NewPostgres(db *sql.DB, key string) *Postgres {
	return &Postgres{db: db, key: key, id: KeyID(key), interval: 250 * time.Millisecond}
}

func (p *Postgres) Acquire(ctx context.Context, timeout time.Duration) error {
	if p.held {
		return nil
	}
	var err error
	p.conn, err = p.db.Conn(ctx)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		var got bool
		if err := p.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", p.id).Scan(&got); err != nil {
			_ = p.conn.Close()
			return err
		}
		if got {
			p.held = true
			return nil
		}
		if !time.Now().Before(deadline) {
			_ = p.conn.Close()
			return errors.Wrapf(ErrTimeout, "key %s", p.key)
		}
		select {
		case <-ctx.Done():
			_ = p.conn.Close()
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

func (p *Postgres) Release(ctx context.Context) error {
	if !p.held || p.conn == nil {
		return nil
	}
	var rel bool
	_ = p.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", p.id).Scan(&rel)
	p.held = false
	return p.conn.Close()
}

func (p *Postgres) Key() string { return p.key }

// Noop satisfies Locker where the database needs no advisory lock.
type Noop struct{ key string }

func (Noop) Acquire(context.Context, time.Duration) error { return nil }
func (Noop) Release(context.Context) error                 { return nil }
func (n Noop) Key() string                                 { return n.key }

func KeyFor(database, table string) string {
	return fmt.Sprintf("schemaledger:%s:%s", database, table)
}

// KeyID folds a lock key into the bigint space pg advisory locks use.
func KeyID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
