package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

// --- Deposit Command ---

type depositCmd struct{}

func (*depositCmd) Name() string     { return "deposit" }
func (*depositCmd) Synopsis() string { return "credit an amount to an account" }
func (*depositCmd) Usage() string {
	return `deposit <account> <amount>

  Credits the account. The amount is a whole number of minor units, e.g. 150 for 1.50.
`
}

func (c *depositCmd) SetFlags(f *flag.FlagSet) {}

func (c *depositCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usage(c, "expecting an account and an amount")
	}
	id, amount := f.Arg(0), f.Arg(1)
	return withLedger(func(e *ledger.Engine) error {
		if err := e.Deposit(id, amount); err != nil {
			return err
		}
		return report(stdout, e, "Deposited", amount, id)
	})
}

// --- Withdraw Command ---

type withdrawCmd struct{}

func (*withdrawCmd) Name() string     { return "withdraw" }
func (*withdrawCmd) Synopsis() string { return "debit an amount from an account" }
func (*withdrawCmd) Usage() string {
	return `withdraw <account> <amount>

  Debits the account. The amount is a whole number of minor units, and cannot exceed the balance.
`
}

func (c *withdrawCmd) SetFlags(f *flag.FlagSet) {}

func (c *withdrawCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usage(c, "expecting an account and an amount")
	}
	id, amount := f.Arg(0), f.Arg(1)
	return withLedger(func(e *ledger.Engine) error {
		if err := e.Withdraw(id, amount); err != nil {
			return err
		}
		return report(stdout, e, "Withdrew", amount, id)
	})
}

// --- Transfer Command ---

type transferCmd struct{}

func (*transferCmd) Name() string     { return "transfer" }
func (*transferCmd) Synopsis() string { return "move an amount from one account to another" }
func (*transferCmd) Usage() string {
	return `transfer <from> <to> <amount>

  Moves the amount from one account to the other: both balances are updated, or neither.
`
}

func (c *transferCmd) SetFlags(f *flag.FlagSet) {}

func (c *transferCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		return usage(c, "expecting two accounts and an amount")
	}
	src, dst, amount := f.Arg(0), f.Arg(1), f.Arg(2)
	return withLedger(func(e *ledger.Engine) error {
		if err := e.Transfer(src, dst, amount); err != nil {
			return err
		}
		return report(stdout, e, "Transferred", amount, src, dst)
	})
}

// withLedger opens the ledger and runs fn on it.
func withLedger(fn func(e *ledger.Engine) error) subcommands.ExitStatus {
	e, closer, err := OpenLedger()
	if err != nil {
		return fail(err)
	}
	defer closer()
	if err := fn(e); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// report prints a successful operation, and the new balance of each account.
func report(w io.Writer, e *ledger.Engine, verb, raw string, ids ...string) error {
	// raw was accepted by the operation.
	amount, err := ledger.NewAmountParser(e.Config()).Parse(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", verb, e.Display(amount))
	for _, id := range ids {
		balance, err := e.GetBalance(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", id, e.Display(balance))
	}
	return nil
}
