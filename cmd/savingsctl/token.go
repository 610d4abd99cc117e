package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/R3E-Network/savings_layer/internal/config"
	"github.com/R3E-Network/savings_layer/internal/middleware"
)

type tokenCmd struct {
	subject string
	role    string
	issuer  string
	secret  string
	ttl     time.Duration
	out     io.Writer
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "mint a development bearer token" }
func (*tokenCmd) Usage() string {
	return `token -sub <principal> [-role <role>] [-ttl 1h]

  Signs an HS256 token with $JWT_SECRET (or -secret). The subject becomes the
  caller identity for every ledger operation.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.subject, "sub", "", "caller principal (required)")
	f.StringVar(&c.role, "role", "", "optional role claim")
	f.StringVar(&c.issuer, "iss", os.Getenv("JWT_ISSUER"), "issuer claim")
	f.StringVar(&c.secret, "secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	f.DurationVar(&c.ttl, "ttl", time.Hour, "token lifetime")
}

func (c *tokenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	if c.subject == "" {
		fmt.Fprintln(os.Stderr, "Error: -sub is required.")
		return subcommands.ExitUsageError
	}
	if len(c.secret) < config.MinJWTSecretLen {
		fmt.Fprintf(os.Stderr, "Error: secret must be at least %d bytes.\n", config.MinJWTSecretLen)
		return subcommands.ExitUsageError
	}
	if c.ttl <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -ttl must be positive.")
		return subcommands.ExitUsageError
	}

	token, err := middleware.IssueToken([]byte(c.secret), c.issuer, c.subject, c.role, c.ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing token: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(out, token)
	return subcommands.ExitSuccess
}
