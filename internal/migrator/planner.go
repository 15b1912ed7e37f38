package migrator

import (
	"context"
)

// Plan compares the source against the ledger.
type Plan struct {
	All     []Migration
	Applied map[string]LedgerEntry // successful rows by migration id
	Pending []Migration            // source order
	Drift   []Drift
}

// DiscoverAndPlan lists the source and the successful ledger rows and works
// out what is pending and what drifted. It never writes; a missing ledger
// table means nothing is applied yet.
func DiscoverAndPlan(ctx context.Context, src Lister, ledger Ledger) (*Plan, error) {
	all, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	exists, err := ledger.Exists(ctx)
	if err != nil {
		return nil, newError(ErrLedger, "", err)
	}
	var applied []LedgerEntry
	if exists {
		if applied, err = ledger.Successful(ctx); err != nil {
			return nil, newError(ErrLedger, "", err)
		}
	}

	p := &Plan{All: all, Applied: make(map[string]LedgerEntry, len(applied))}
	for _, e := range applied {
		p.Applied[e.MigrationID] = e
	}
	for _, m := range all {
		if _, ok := p.Applied[m.ID]; !ok {
			p.Pending = append(p.Pending, m)
		}
	}
	p.Drift = CheckIntegrity(all, applied)
	return p, nil
}

// Latest returns the successful row applied last, or nil.
func (p *Plan) Latest() *LedgerEntry {
	var last *LedgerEntry
	for id := range p.Applied {
		e := p.Applied[id]
		if last == nil || e.AppliedAt.After(last.AppliedAt) ||
			(e.AppliedAt.Equal(last.AppliedAt) && e.Seq > last.Seq) {
			last = &e
		}
	}
	return last
}
