package migrator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mirajehossain/schemaledger/internal/db"
)

// Ledger is the append-only record of apply attempts.
type Ledger interface {
	Ensure(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	Successful(ctx context.Context) ([]LedgerEntry, error)
	// Record inserts one attempt row through ex, or through the store's
	// own connection when ex is nil.
	Record(ctx context.Context, ex db.Execer, e LedgerEntry) error
	LatestSuccessful(ctx context.Context) (*LedgerEntry, error)
	MarkFailed(ctx context.Context, seq int64) error
}

// Storage is the SQL-backed Ledger.
type Storage struct {
	DB      *sql.DB
	Dialect db.Dialect
	Table   string
}

const ledgerColumns = `seq, migration_id, name, checksum, applied_at, execution_time_ms, success`

// Ensure creates the ledger table and its indexes if they are missing.
func (s *Storage) Ensure(ctx context.Context) error {
	return db.EnsureTable(ctx, s.DB, s.Dialect, s.Table)
}

// Exists reports whether the ledger table is present without creating it.
func (s *Storage) Exists(ctx context.Context) (bool, error) {
	if err := db.ValidateTable(s.Table); err != nil {
		return false, err
	}
	q, args := s.Dialect.TableExistsQuery(s.Table)
	var n int
	if err := s.DB.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, errors.Wrapf(err, "look up table %s", s.Table)
	}
	return n > 0, nil
}

// Successful returns the successful rows in seq order.
func (s *Storage) Successful(ctx context.Context) ([]LedgerEntry, error) {
	q := s.Dialect.Bind(fmt.Sprintf(`SELECT %s FROM %s WHERE success = ? ORDER BY seq`, ledgerColumns, s.Table))
	rows, err := s.DB.QueryContext(ctx, q, true)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.Table)
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, errors.Wrapf(rows.Err(), "read %s", s.Table)
}

// Record appends one attempt row through ex, or s.DB when ex is nil.
func (s *Storage) Record(ctx context.Context, ex db.Execer, e LedgerEntry) error {
	if ex == nil {
		ex = s.DB
	}
	q := s.Dialect.Bind(fmt.Sprintf(`
INSERT INTO %s (migration_id, name, checksum, applied_at, execution_time_ms, success)
VALUES (?, ?, ?, ?, ?, ?)`, s.Table))
	_, err := ex.ExecContext(ctx, q,
		e.MigrationID, e.Name, e.Checksum, e.AppliedAt.UTC(), e.ExecutionTimeMS, e.Success,
	)
	return errors.Wrapf(err, "record %s in %s", e.MigrationID, s.Table)
}

// LatestSuccessful returns the most recently applied successful row, or nil.
func (s *Storage) LatestSuccessful(ctx context.Context) (*LedgerEntry, error) {
	q := s.Dialect.Bind(fmt.Sprintf(`SELECT %s FROM %s WHERE success = ? ORDER BY applied_at DESC, seq DESC LIMIT 1`, ledgerColumns, s.Table))
	e, err := scanEntry(s.DB.QueryRowContext(ctx, q, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkFailed flips the row with seq to unsuccessful.
func (s *Storage) MarkFailed(ctx context.Context, seq int64) error {
	q := s.Dialect.Bind(fmt.Sprintf(`UPDATE %s SET success = ? WHERE seq = ?`, s.Table))
	res, err := s.DB.ExecContext(ctx, q, false, seq)
	if err != nil {
		return errors.Wrapf(err, "update %s", s.Table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "update %s", s.Table)
	}
	if n == 0 {
		return errors.Errorf("ledger row %d not found in %s", seq, s.Table)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (LedgerEntry, error) {
	var (
		e  LedgerEntry
		at db.Time
	)
	if err := row.Scan(&e.Seq, &e.MigrationID, &e.Name, &e.Checksum, &at, &e.ExecutionTimeMS, &e.Success); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, errors.Wrap(err, "scan ledger row")
	}
	e.AppliedAt = at.Time
	return e, nil
}
