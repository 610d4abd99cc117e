package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/R3E-Network/savings_layer/internal/app/runtime"
	"github.com/R3E-Network/savings_layer/internal/config"
	"github.com/R3E-Network/savings_layer/internal/platform/migrations"
)

type migrateCmd struct {
	dsn  string
	list bool
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply the ledger schema to a Postgres database" }
func (*migrateCmd) Usage() string {
	return `migrate [-dsn <postgres url>] [-list]

  Applies every embedded migration in order. The DSN defaults to
  $DATABASE_URL. With -list the migrations are printed instead.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dsn, "dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
	f.BoolVar(&c.list, "list", false, "list migrations without applying them")
}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.list {
		all, err := migrations.All()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading migrations: %v\n", err)
			return subcommands.ExitFailure
		}
		for _, m := range all {
			fmt.Println(m.Name)
		}
		return subcommands.ExitSuccess
	}

	if c.dsn == "" {
		fmt.Fprintln(os.Stderr, "Error: -dsn or DATABASE_URL is required.")
		return subcommands.ExitUsageError
	}
	db, err := runtime.OpenDatabase(ctx, config.DatabaseConfig{DSN: c.dsn})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying migrations: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Println("migrations applied")
	return subcommands.ExitSuccess
}
