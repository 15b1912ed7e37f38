package migrator

import (
	"context"
	"database/sql"
	"time"

	"github.com/mirajehossain/schemaledger/internal/db"
	"github.com/mirajehossain/schemaledger/internal/lock"
	"github.com/mirajehossain/schemaledger/internal/logger"
)

// DefaultLockTimeout bounds how long Run waits for another runner.
const DefaultLockTimeout = 30 * time.Second

// ProgressFunc is called with stage "start" before and "success" or "error"
// after each migration.
type ProgressFunc func(stage string, m Migration, out *Outcome)

// Runner brings a database up to date with its migration source.
type Runner struct {
	Source      Lister
	Storage     Ledger
	Executor    *Executor
	Locker      lock.Locker // optional
	LockTimeout time.Duration
	Log         *logger.Logger
	Progress    ProgressFunc
}

// NewRunner wires a Runner over database with the SQL ledger in table.
func NewRunner(database *sql.DB, d db.Dialect, table string, src Lister, log *logger.Logger) *Runner {
	store := &Storage{DB: database, Dialect: d, Table: table}
	if !d.TransactionalDDL() {
		log.Warn("dialect.non_transactional_ddl", map[string]any{
			"dialect": d.Name,
			"note":    "DDL commits implicitly; a failed script or ledger write can leave earlier statements applied",
		})
	}
	return &Runner{
		Source:   src,
		Storage:  store,
		Executor: NewExecutor(database, store, log),
		Log:      log,
	}
}

// Run applies every pending migration in order and stops at the first
// failure. Drift aborts the run before anything is applied.
func (r *Runner) Run(ctx context.Context) *RunResult {
	res := newRunResult()
	release, err := r.acquire(ctx)
	if err != nil {
		res.fail(err)
		return res
	}
	defer release()

	if err := r.Storage.Ensure(ctx); err != nil {
		res.fail(newError(ErrLedger, "", err))
		return res
	}
	p, err := DiscoverAndPlan(ctx, r.Source, r.Storage)
	if err != nil {
		res.fail(err)
		return res
	}
	if len(p.Drift) > 0 {
		logDrift(r.Log, p.Drift)
		res.fail(integrityError(p.Drift))
		return res
	}
	if len(p.Pending) == 0 {
		r.Log.Info("migrate.up_to_date", map[string]any{"total": len(p.All)})
		res.Success = true
		return res
	}

	for _, m := range p.Pending {
		if err := ctx.Err(); err != nil {
			r.Log.Warn("migrate.canceled", map[string]any{"next": m.ID, "applied": len(res.MigrationsApplied)})
			res.fail(newError(ErrCanceled, m.ID, err))
			return res
		}
		r.progress("start", m, nil)
		out := r.Executor.Apply(ctx, m)
		if !out.Success {
			r.progress("error", m, &out)
			res.fail(out.Err)
			return res
		}
		r.progress("success", m, &out)
		res.MigrationsApplied = append(res.MigrationsApplied, m.ID)
	}
	res.Success = true
	r.Log.Info("migrate.done", map[string]any{"applied": len(res.MigrationsApplied)})
	return res
}

// Plan returns what Run would do without applying anything.
func (r *Runner) Plan(ctx context.Context) (*Plan, error) {
	p, err := DiscoverAndPlan(ctx, r.Source, r.Storage)
	if err != nil {
		return nil, err
	}
	if len(p.Drift) > 0 {
		logDrift(r.Log, p.Drift)
	}
	return p, nil
}

// MarkForReapply flips the most recent successful ledger row to failed so
// the migration is pending again. The schema itself is not touched.
func (r *Runner) MarkForReapply(ctx context.Context) (*LedgerEntry, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	exists, err := r.Storage.Exists(ctx)
	if err != nil {
		return nil, newError(ErrLedger, "", err)
	}
	if !exists {
		return nil, ErrNothingToReapply
	}
	last, err := r.Storage.LatestSuccessful(ctx)
	if err != nil {
		return nil, newError(ErrLedger, "", err)
	}
	if last == nil {
		return nil, ErrNothingToReapply
	}
	if err := r.Storage.MarkFailed(ctx, last.Seq); err != nil {
		return nil, newError(ErrLedgerWrite, last.MigrationID, err)
	}
	last.Success = false
	r.Log.Info("migrate.marked_for_reapply", map[string]any{"id": last.MigrationID, "seq": last.Seq})
	return last, nil
}

func (r *Runner) acquire(ctx context.Context) (func(), error) {
	if r.Locker == nil {
		return func() {}, nil
	}
	timeout := r.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if err := r.Locker.Acquire(ctx, timeout); err != nil {
		return nil, newError(ErrLocked, "", err)
	}
	return func() {
		if err := r.Locker.Release(context.WithoutCancel(ctx)); err != nil {
			r.Log.Warn("lock.release_failed", map[string]any{"key": r.Locker.Key(), "error": err.Error()})
		}
	}, nil
}

func (r *Runner) progress(stage string, m Migration, out *Outcome) {
	if r.Progress != nil {
		r.Progress(stage, m, out)
	}
}
