package migrator

import (
	stderrors "errors"
	"time"

	"github.com/mirajehossain/schemaledger/internal/checksum"
)

// Migration is one versioned script read from the source. It is rebuilt on
// every listing and never persisted directly.
type Migration struct {
	ID        string // <timestamp>_<name>; sort order is application order
	Name      string
	Timestamp string
	SQL       string
	Path      string
}

// Checksum hashes the script text. It is compared against ledger rows and
// is not part of the migration's identity.
func (m Migration) Checksum() string {
	return checksum.String(m.SQL)
}

// LedgerEntry is one apply attempt.
type LedgerEntry struct {
	Seq             int64 // store-assigned, increases with every attempt
	MigrationID     string
	Name            string
	Checksum        string
	AppliedAt       time.Time
	ExecutionTimeMS int64
	Success         bool
}

// Outcome is the result of applying a single migration.
type Outcome struct {
	Success         bool
	Err             error
	ExecutionTimeMS int64
}

// RunResult summarizes a Runner pass.
type RunResult struct {
	Success           bool     `json:"success"`
	MigrationsApplied []string `json:"migrations_applied"`
	Errors            []string `json:"errors"`

	causes []error
}

func newRunResult() *RunResult {
	return &RunResult{MigrationsApplied: []string{}, Errors: []string{}}
}

func (r *RunResult) fail(err error) {
	r.Success = false
	r.Errors = append(r.Errors, err.Error())
	r.causes = append(r.causes, err)
}

// Err returns the typed errors behind Errors, or nil for a clean run.
func (r *RunResult) Err() error {
	return stderrors.Join(r.causes...)
}

// StatusSnapshot is a point-in-time view of source versus ledger.
type StatusSnapshot struct {
	TotalMigrations   int        `json:"total_migrations"`
	AppliedMigrations int        `json:"applied_migrations"`
	PendingMigrations int        `json:"pending_migrations"`
	DriftedMigrations int        `json:"drifted_migrations"`
	LastMigrationID   string     `json:"last_migration_id,omitempty"`
	LastAppliedAt     *time.Time `json:"last_applied_at,omitempty"`
}

// Drift is a successfully applied migration whose script changed since.
type Drift struct {
	ID       string
	Recorded string // checksum stored in the ledger
	Current  string // checksum of the script on disk
}
