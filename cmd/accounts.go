package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/etnz/ledger"
	"github.com/etnz/ledger/renderer"
	"github.com/google/subcommands"
)

// --- Create Command ---

type createCmd struct{}

func (*createCmd) Name() string     { return "create" }
func (*createCmd) Synopsis() string { return "create new accounts with a zero balance" }
func (*createCmd) Usage() string {
	return `create <account>...

  Creates each account with a zero balance. Existing accounts are left untouched.
`
}

func (c *createCmd) SetFlags(f *flag.FlagSet) {}

func (c *createCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usage(c, "missing account name")
	}
	e, closer, err := OpenLedger()
	if err != nil {
		return fail(err)
	}
	defer closer()

	for _, id := range f.Args() {
		if err := e.CreateAccount(id); err != nil {
			return fail(err)
		}
		fmt.Fprintf(stdout, "Account %q created\n", id)
	}
	return subcommands.ExitSuccess
}

// --- Accounts Command ---

type accountsCmd struct {
	ids bool
}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list all accounts with their balance" }
func (*accountsCmd) Usage() string {
	return `accounts [-ids]

  Lists all accounts in lexicographic order, with their balance and the total.
`
}

func (c *accountsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.ids, "ids", false, "Print only account names, one per line.")
}

func (c *accountsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, closer, err := OpenLedger()
	if err != nil {
		return fail(err)
	}
	defer closer()

	ids, err := e.ListAccounts()
	if err != nil {
		return fail(err)
	}
	if c.ids {
		for _, id := range ids {
			fmt.Fprintln(stdout, id)
		}
		return subcommands.ExitSuccess
	}

	accounts := make([]ledger.Account, 0, len(ids))
	for _, id := range ids {
		balance, err := e.GetBalance(id)
		if err != nil {
			return fail(err)
		}
		accounts = append(accounts, ledger.Account{ID: id, Balance: balance})
	}
	printMarkdown(renderer.RenderAccounts(renderer.NewAccounts(accounts, e.Config().Currency)))
	return subcommands.ExitSuccess
}

// --- Balance Command ---

type balanceCmd struct {
	raw bool
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show the balance of an account" }
func (*balanceCmd) Usage() string {
	return `balance [-raw] <account>

  Shows the current balance of the account.
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.raw, "raw", false, "Print the balance as a count of minor units.")
}

func (c *balanceCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usage(c, "expecting exactly one account")
	}
	e, closer, err := OpenLedger()
	if err != nil {
		return fail(err)
	}
	defer closer()

	id := f.Arg(0)
	balance, err := e.GetBalance(id)
	if err != nil {
		return fail(err)
	}
	if c.raw {
		fmt.Fprintln(stdout, balance)
		return subcommands.ExitSuccess
	}
	fmt.Fprintf(stdout, "%s: %s\n", id, e.Display(balance))
	return subcommands.ExitSuccess
}
