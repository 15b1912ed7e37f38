package migrator

import (
	"context"
)

// Reporter summarizes migration state. It never writes to the database.
type Reporter struct {
	Source Lister
	Ledger Ledger
}

// Status counts source, applied and pending migrations and reports the
// latest successful one.
func (r *Reporter) Status(ctx context.Context) (*StatusSnapshot, error) {
	p, err := DiscoverAndPlan(ctx, r.Source, r.Ledger)
	if err != nil {
		return nil, err
	}
	snap := &StatusSnapshot{
		TotalMigrations:   len(p.All),
		AppliedMigrations: len(p.Applied),
		PendingMigrations: len(p.Pending),
		DriftedMigrations: len(p.Drift),
	}
	if last := p.Latest(); last != nil {
		at := last.AppliedAt
		snap.LastMigrationID = last.MigrationID
		snap.LastAppliedAt = &at
	}
	return snap, nil
}
