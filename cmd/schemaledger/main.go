package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

// NB: These are set at build time with -ldflags.
var (
	version string
	commit  string
	date    string
)

const (
	exitOK     = 0
	exitFail   = 1
	exitDrift  = 2
	exitLocked = 3
	exitConfig = 5
)

// exitError carries the process exit code out of a command action.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	cli.VersionPrinter = func(cmd *cli.Command) {
		fmt.Fprintln(cmd.Writer, "Version:", version)
		fmt.Fprintln(cmd.Writer, "Commit:", commit)
		fmt.Fprintln(cmd.Writer, "Date:", date)
	}
	os.Exit(run(context.Background(), os.Args, os.Stdout))
}

func run(ctx context.Context, args []string, out io.Writer) int {
	err := newApp(out).Run(ctx, args)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return exitConfig
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "schemaledger",
		Usage: "Apply versioned SQL migrations and keep a ledger of every attempt",
		Description: `schemaledger applies <timestamp>_<name>.sql files from a directory in order,
each inside its own transaction, and records every attempt in a ledger table.
Applied migrations are checksummed; editing one afterwards blocks further runs.`,
		Version: version,
		Writer:  out,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			upCommand(),
			planCommand(),
			statusCommand(),
			verifyCommand(),
			markReapplyCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "optional YAML config file",
			Sources: cli.EnvVars("SCHEMALEDGER_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "driver",
			Usage: "database driver: mysql, postgres or sqlite (or DB_DRIVER)",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "dsn",
			Usage: "database DSN (or DB_DSN)",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "dir",
			Usage: "migrations directory (or MIGRATIONS_DIR, default ./migrations)",
		},
		&cli.StringFlag{
			Name:  "table",
			Usage: "ledger table (or MIGRATIONS_TABLE, default schema_migrations)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "JSON logs and output",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error (or LOG_LEVEL)",
		},
		&cli.IntFlag{
			Name:  "lock-timeout",
			Usage: "advisory lock timeout in seconds (or LOCK_TIMEOUT_SEC)",
		},
		&cli.BoolFlag{
			Name:  "no-lock",
			Usage: "skip the advisory lock around runs",
		},
	}
}
