package migrator

import (
	"github.com/pkg/errors"
)

var (
	// ErrSourceRead means the migration namespace or one of its scripts
	// could not be read.
	ErrSourceRead = errors.New("migration source unreadable")

	// ErrIntegrity means an applied migration's script no longer matches
	// the checksum recorded when it ran.
	ErrIntegrity = errors.New("checksum drift detected")

	// ErrExecution means a migration's SQL (or its transaction) failed.
	ErrExecution = errors.New("migration execution failed")

	// ErrLedgerWrite means the ledger row could not be written; the
	// migration's schema change was rolled back with it.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrLedger means the ledger could not be created or read.
	ErrLedger = errors.New("ledger unavailable")

	// ErrLocked means another runner holds the migration lock.
	ErrLocked = errors.New("migration lock not acquired")

	// ErrCanceled means the run's context ended before every pending
	// migration was started. A migration already in progress is finished.
	ErrCanceled = errors.New("migration run canceled")

	// ErrNothingToReapply means the ledger holds no successful migration.
	ErrNothingToReapply = errors.New("no applied migration to mark for reapply")
)

// Error ties one of the sentinel kinds above to a migration id and cause.
type Error struct {
	Kind error
	ID   string // empty when the failure is not tied to one migration
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ID != "" {
		return e.ID + ": " + msg
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, id string, err error) *Error {
	return &Error{Kind: kind, ID: id, Err: err}
}
