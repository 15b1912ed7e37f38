package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/mirajehossain/schemaledger/internal/config"
	"github.com/mirajehossain/schemaledger/internal/db"
	"github.com/mirajehossain/schemaledger/internal/lock"
	"github.com/mirajehossain/schemaledger/internal/logger"
	"github.com/mirajehossain/schemaledger/internal/migrator"
)

func upCommand() *cli.Command {
	return &cli.Command{
		Name:  "up",
		Usage: "Apply all pending migrations, stopping at the first failure",
		Description: `Each migration runs in its own transaction together with its ledger row.
On MySQL every DDL statement commits implicitly, so a script that fails part way
(or whose ledger write fails) can leave its earlier statements applied. Keep
MySQL migrations to one DDL statement each.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "print the plan without executing anything",
			},
		},
		Action: runUp,
	}
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:   "plan",
		Usage:  "List pending migrations in the order up would apply them",
		Action: runPlan,
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show total, applied and pending migration counts",
		Action: runStatus,
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:   "verify",
		Usage:  "Check applied migrations against their files (exit 2 on drift)",
		Action: runVerify,
	}
}

func markReapplyCommand() *cli.Command {
	return &cli.Command{
		Name:  "mark-reapply",
		Usage: "Mark the most recently applied migration as pending again",
		Description: `Flips the ledger row of the most recently applied migration to failed so the
next "up" runs it again. The schema is not changed; revert it by hand first if
the script is not safe to re-run. On MySQL, DDL from a failed attempt may also
still be present since MySQL cannot roll DDL back.`,
		Action: runMarkReapply,
	}
}

// session is everything a command needs once flags are resolved.
type session struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *sql.DB
	runner *migrator.Runner
	out    io.Writer
}

func (s *session) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadYAML(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	cfg = config.MergeEnv(cfg)
	// flags win over env and file
	for name, dst := range map[string]*string{
		"driver":    &cfg.Driver,
		"dsn":       &cfg.DSN,
		"dir":       &cfg.Dir,
		"table":     &cfg.MigrationsTable,
		"log-level": &cfg.LogLevel,
	} {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	if cmd.IsSet("json") {
		cfg.JSON = cmd.Bool("json")
	}
	if cmd.IsSet("lock-timeout") {
		cfg.LockTimeoutSec = int(cmd.Int("lock-timeout"))
	}
	if cmd.Bool("no-lock") {
		cfg.Lock = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setup(cmd *cli.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, withCode(exitConfig, err)
	}
	log := logger.NewWithOptions(cfg.JSON, logger.Options{Level: cfg.LogLevel, Writer: os.Stderr})

	database, d, err := db.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		log.Error("db open failed", map[string]any{"error": err.Error()})
		return nil, withCode(exitFail, err)
	}
	if err := db.ValidateTable(cfg.MigrationsTable); err != nil {
		_ = database.Close()
		return nil, withCode(exitConfig, err)
	}

	r := migrator.NewRunner(database, d, cfg.MigrationsTable, migrator.Source{Dir: cfg.Dir}, log)
	r.LockTimeout = cfg.LockTimeout()
	if cfg.Lock {
		r.Locker = lock.For(d.Name, database, lock.KeyFor(databaseName(cfg.DSN), cfg.MigrationsTable))
	}
	return &session{cfg: cfg, log: log, db: database, runner: r, out: cmd.Root().Writer}, nil
}

func runUp(ctx context.Context, cmd *cli.Command) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	if cmd.Bool("dry-run") || s.cfg.DryRun {
		return printPlan(ctx, s)
	}
	s.runner.Progress = func(stage string, m migrator.Migration, out *migrator.Outcome) {
		if stage == "start" {
			s.log.Debug("plan.apply", map[string]any{"id": m.ID, "path": m.Path})
		}
	}
	if err := migrator.RunStartupMigrations(ctx, s.runner); err != nil {
		s.log.Error("up failed", map[string]any{"error": err.Error()})
		if errors.Is(err, migrator.ErrLocked) {
			return withCode(exitLocked, err)
		}
		return withCode(exitFail, err)
	}
	fmt.Fprintln(s.out, "up to date")
	return nil
}

func runPlan(ctx context.Context, cmd *cli.Command) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	return printPlan(ctx, s)
}

func printPlan(ctx context.Context, s *session) error {
	p, err := s.runner.Plan(ctx)
	if err != nil {
		s.log.Error("plan failed", map[string]any{"error": err.Error()})
		return withCode(exitFail, err)
	}
	if s.log.JSONEnabled() {
		ids := make([]string, 0, len(p.Pending))
		for _, m := range p.Pending {
			ids = append(ids, m.ID)
		}
		drifted := make([]string, 0, len(p.Drift))
		for _, d := range p.Drift {
			drifted = append(drifted, d.ID)
		}
		if err := writeJSON(s.out, map[string]any{"pending": ids, "drifted": drifted}); err != nil {
			return withCode(exitFail, err)
		}
	} else {
		for _, m := range p.Pending {
			fmt.Fprintf(s.out, "pending  %s\n", m.ID)
		}
		for _, d := range p.Drift {
			fmt.Fprintf(s.out, "drifted  %s\n", d.ID)
		}
		if len(p.Pending) == 0 && len(p.Drift) == 0 {
			fmt.Fprintln(s.out, "no pending migrations")
		}
	}
	if len(p.Drift) > 0 {
		return withCode(exitDrift, migrator.ErrIntegrity)
	}
	return nil
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	rep := &migrator.Reporter{Source: s.runner.Source, Ledger: s.runner.Storage}
	snap, err := rep.Status(ctx)
	if err != nil {
		s.log.Error("status failed", map[string]any{"error": err.Error()})
		return withCode(exitFail, err)
	}
	if s.log.JSONEnabled() {
		if err := writeJSON(s.out, snap); err != nil {
			return withCode(exitFail, err)
		}
		return nil
	}
	fmt.Fprintf(s.out, "total:    %d\n", snap.TotalMigrations)
	fmt.Fprintf(s.out, "applied:  %d\n", snap.AppliedMigrations)
	fmt.Fprintf(s.out, "pending:  %d\n", snap.PendingMigrations)
	if snap.DriftedMigrations > 0 {
		fmt.Fprintf(s.out, "drifted:  %d\n", snap.DriftedMigrations)
	}
	if snap.LastAppliedAt != nil {
		fmt.Fprintf(s.out, "last:     %s at %s\n", snap.LastMigrationID, snap.LastAppliedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runVerify(ctx context.Context, cmd *cli.Command) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	v := &migrator.Verifier{Source: s.runner.Source, Ledger: s.runner.Storage, Log: s.log}
	drift, err := v.Drift(ctx)
	if err != nil {
		s.log.Error("verify failed", map[string]any{"error": err.Error()})
		return withCode(exitFail, err)
	}
	if len(drift) == 0 {
		fmt.Fprintln(s.out, "ok")
		return nil
	}
	for _, d := range drift {
		fmt.Fprintf(s.out, "drifted  %s  recorded=%s current=%s\n", d.ID, short(d.Recorded), short(d.Current))
	}
	return withCode(exitDrift, migrator.ErrIntegrity)
}

func runMarkReapply(ctx context.Context, cmd *cli.Command) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	e, err := s.runner.MarkForReapply(ctx)
	if errors.Is(err, migrator.ErrNothingToReapply) {
		fmt.Fprintln(s.out, "nothing to mark")
		return nil
	}
	if err != nil {
		s.log.Error("mark-reapply failed", map[string]any{"error": err.Error()})
		if errors.Is(err, migrator.ErrLocked) {
			return withCode(exitLocked, err)
		}
		return withCode(exitFail, err)
	}
	fmt.Fprintf(s.out, "marked %s (seq %d) for reapply\n", e.MigrationID, e.Seq)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// databaseName pulls the database name out of a DSN for the lock key.
//
//	user:pass@tcp(127.0.0.1:3306)/dbname?params
//	postgres://user@host:5432/dbname?sslmode=disable
//	host=localhost dbname=app user=postgres
func databaseName(dsn string) string {
	for _, field := range strings.Fields(dsn) {
		if v, ok := strings.CutPrefix(field, "dbname="); ok {
			return v
		}
	}
	i := strings.LastIndex(dsn, "/")
	if i == -1 || i == len(dsn)-1 {
		return "db"
	}
	rest := dsn[i+1:]
	if j := strings.Index(rest, "?"); j != -1 {
		return rest[:j]
	}
	return rest
}
