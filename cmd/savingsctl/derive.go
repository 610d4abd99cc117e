package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/R3E-Network/savings_layer/internal/derive"
)

type deriveCmd struct {
	owner    string
	treasury bool
	out      io.Writer
}

func (*deriveCmd) Name() string     { return "derive" }
func (*deriveCmd) Synopsis() string { return "print the account ids for an owner or the treasury" }
func (*deriveCmd) Usage() string {
	return `derive -owner <principal> | -treasury

  Prints the config, vault and allocation ids derived for the owner, or the
  treasury config and vault ids, as JSON.
`
}

func (c *deriveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "owner principal")
	f.BoolVar(&c.treasury, "treasury", false, "derive the treasury singleton ids")
}

type derivedID struct {
	Namespace  string `json:"namespace"`
	Address    string `json:"address"`
	ScriptHash string `json:"script_hash"`
	Bump       uint8  `json:"bump"`
}

func newDerivedID(ns string, id derive.AccountID) derivedID {
	return derivedID{Namespace: ns, Address: id.String(), ScriptHash: id.Hash.StringLE(), Bump: id.Bump}
}

func (c *deriveCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	if (c.owner == "") == !c.treasury {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -owner or -treasury is required.")
		return subcommands.ExitUsageError
	}

	var ids []derivedID
	if c.treasury {
		accts, err := derive.Default.Treasury()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error deriving treasury ids: %v\n", err)
			return subcommands.ExitFailure
		}
		ids = []derivedID{
			newDerivedID(derive.NamespaceTreasuryConfig, accts.Config),
			newDerivedID(derive.NamespaceTreasuryVault, accts.Vault),
		}
	} else {
		accts, err := derive.Default.ForOwner(c.owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error deriving ids for %q: %v\n", c.owner, err)
			return subcommands.ExitFailure
		}
		ids = []derivedID{
			newDerivedID(derive.NamespaceConfig, accts.Config),
			newDerivedID(derive.NamespaceVault, accts.Vault),
			newDerivedID(derive.NamespaceAllocationConfig, accts.Allocation),
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ids); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
