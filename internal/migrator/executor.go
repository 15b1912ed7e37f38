package migrator

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mirajehossain/schemaledger/internal/logger"
)

// TxBeginner starts the transaction a migration runs in. *sql.DB satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Executor applies one migration atomically: the script and its success
// row commit together or not at all. Failed attempts are recorded outside
// the rolled back transaction.
type Executor struct {
	DB     TxBeginner
	Ledger Ledger
	Log    *logger.Logger

	now func() time.Time
}

func NewExecutor(database TxBeginner, ledger Ledger, log *logger.Logger) *Executor {
	return &Executor{DB: database, Ledger: ledger, Log: log}
}

func (e *Executor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Apply runs m and records the attempt. Once started it is not cancelled
// by ctx; it always ends in a commit or a rollback.
func (e *Executor) Apply(ctx context.Context, m Migration) Outcome {
	ctx = context.WithoutCancel(ctx)
	start := e.clock()
	entry := LedgerEntry{
		MigrationID: m.ID,
		Name:        m.Name,
		Checksum:    m.Checksum(),
		AppliedAt:   start.UTC(),
		Success:     true,
	}
	e.Log.Info("migrate.start", map[string]any{"id": m.ID})

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return e.fail(ctx, entry, start, newError(ErrExecution, m.ID, errors.Wrap(err, "begin transaction")))
	}

	// empty or comment-only scripts are rejected by some drivers; they still count as applied
	if !blankScript(m.SQL) {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			e.rollback(tx, m.ID)
			return e.fail(ctx, entry, start, newError(ErrExecution, m.ID, err))
		}
	}

	entry.ExecutionTimeMS = e.elapsed(start)
	if err := e.Ledger.Record(ctx, tx, entry); err != nil {
		e.rollback(tx, m.ID)
		return e.fail(ctx, entry, start, newError(ErrLedgerWrite, m.ID, err))
	}

	if err := tx.Commit(); err != nil {
		return e.fail(ctx, entry, start, newError(ErrExecution, m.ID, errors.Wrap(err, "commit")))
	}

	ms := e.elapsed(start)
	e.Log.Info("migrate.success", map[string]any{"id": m.ID, "duration_ms": ms})
	return Outcome{Success: true, ExecutionTimeMS: ms}
}

func (e *Executor) fail(ctx context.Context, entry LedgerEntry, start time.Time, cause error) Outcome {
	entry.Success = false
	entry.ExecutionTimeMS = e.elapsed(start)
	e.Log.Error("migrate.error", map[string]any{
		"id":          entry.MigrationID,
		"duration_ms": entry.ExecutionTimeMS,
		"error":       cause.Error(),
	})
	if err := e.Ledger.Record(ctx, nil, entry); err != nil {
		e.Log.Error("ledger.record_failed", map[string]any{"id": entry.MigrationID, "error": err.Error()})
	}
	return Outcome{Success: false, Err: cause, ExecutionTimeMS: entry.ExecutionTimeMS}
}

func (e *Executor) rollback(tx *sql.Tx, id string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		e.Log.Warn("migrate.rollback_failed", map[string]any{"id": id, "error": err.Error()})
	}
}

func (e *Executor) elapsed(start time.Time) int64 {
	return e.clock().Sub(start).Milliseconds()
}

// blankScript reports whether script holds nothing but whitespace and
// "--" or "/* */" comments.
func blankScript(script string) bool {
	for i := 0; i < len(script); {
		switch {
		case strings.HasPrefix(script[i:], "--"):
			j := strings.IndexByte(script[i:], '\n')
			if j < 0 {
				return true
			}
			i += j + 1
		case strings.HasPrefix(script[i:], "/*!"):
			// MySQL executable comment
			return false
		case strings.HasPrefix(script[i:], "/*"):
			j := strings.Index(script[i+2:], "*/")
			if j < 0 {
				return false
			}
			i += j + 4
		case strings.ContainsRune(" \t\r\n\f\v", rune(script[i])):
			i++
		default:
			return false
		}
	}
	return true
}
