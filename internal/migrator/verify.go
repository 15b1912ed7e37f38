package migrator

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/mirajehossain/schemaledger/internal/logger"
)

// CheckIntegrity reports successful ledger rows whose migration's current
// script hashes differently. Rows without a source file are ignored.
func CheckIntegrity(migrations []Migration, applied []LedgerEntry) []Drift {
	current := make(map[string]string, len(migrations))
	for _, m := range migrations {
		current[m.ID] = m.Checksum()
	}
	var out []Drift
	for _, e := range applied {
		if !e.Success {
			continue
		}
		sum, ok := current[e.MigrationID]
		if !ok {
			continue
		}
		if !strings.EqualFold(sum, e.Checksum) {
			out = append(out, Drift{ID: e.MigrationID, Recorded: e.Checksum, Current: sum})
		}
	}
	return out
}

// Verifier checks applied migrations against the source. It only detects;
// it never rewrites checksums.
type Verifier struct {
	Source Lister
	Ledger Ledger
	Log    *logger.Logger
}

// Drift lists every drifted migration, logging each one.
func (v *Verifier) Drift(ctx context.Context) ([]Drift, error) {
	p, err := DiscoverAndPlan(ctx, v.Source, v.Ledger)
	if err != nil {
		return nil, err
	}
	logDrift(v.Log, p.Drift)
	return p.Drift, nil
}

// Verify reports whether every applied migration still matches its source.
func (v *Verifier) Verify(ctx context.Context) (bool, error) {
	d, err := v.Drift(ctx)
	if err != nil {
		return false, err
	}
	return len(d) == 0, nil
}

func logDrift(log *logger.Logger, drift []Drift) {
	for _, d := range drift {
		log.Warn("integrity.drift", map[string]any{
			"id":       d.ID,
			"recorded": d.Recorded,
			"current":  d.Current,
		})
	}
}

func integrityError(drift []Drift) error {
	ids := make([]string, len(drift))
	for i, d := range drift {
		ids[i] = d.ID
	}
	return newError(ErrIntegrity, "", errors.Errorf("applied migrations modified since they ran: %s", strings.Join(ids, ", ")))
}
