// Command savingsctl is the operator CLI for the savings layer.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

// Commands are registered with the commander in this order.
var Commands = []subcommands.Command{
	&deriveCmd{},
	&migrateCmd{},
	&tokenCmd{},
}

func main() {
	_ = godotenv.Load()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range Commands {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
