package migrator

import (
	"context"

	"github.com/pkg/errors"
)

// RunStartupMigrations runs r once during process startup. Any failure is
// returned and should stop the process; there is no partial-success mode.
func RunStartupMigrations(ctx context.Context, r *Runner) error {
	res := r.Run(ctx)
	if res.Success {
		return nil
	}
	return errors.Wrap(res.Err(), "startup migrations failed")
}
