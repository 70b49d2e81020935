package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

type shellCmd struct{}

func (*shellCmd) Name() string     { return "shell" }
func (*shellCmd) Synopsis() string { return "manage the ledger from an interactive menu" }
func (*shellCmd) Usage() string {
	return `shell

  Shows a menu of operations, and asks for their input line by line.
  Errors are reported and the menu is shown again. Ends on Quit or end of input.
`
}

func (c *shellCmd) SetFlags(f *flag.FlagSet) {}

func (c *shellCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withLedger(func(e *ledger.Engine) error {
		return newShell(e, stdin, stdout).run()
	})
}

// menu lists the shell options in display order. A nil action quits.
var menu = []struct {
	label  string
	action func(*shell) error
}{
	{"Create account", (*shell).create},
	{"Show accounts", (*shell).list},
	{"Check balance", (*shell).balance},
	{"Deposit", (*shell).deposit},
	{"Withdraw", (*shell).withdraw},
	{"Transfer", (*shell).transfer},
	{"Clear screen", (*shell).clear},
	{"Quit", nil},
}

// shell is an interactive session on a ledger.
type shell struct {
	e   *ledger.Engine
	in  *bufio.Scanner
	out io.Writer
}

func newShell(e *ledger.Engine, in io.Reader, out io.Writer) *shell {
	return &shell{e: e, in: bufio.NewScanner(in), out: out}
}

// run shows the menu and runs the chosen actions until Quit or the end of
// the input.
func (s *shell) run() error {
	for {
		fmt.Fprintln(s.out)
		fmt.Fprintln(s.out, "What do you want to do?")
		for i, item := range menu {
			fmt.Fprintf(s.out, "  %d. %s\n", i+1, item.label)
		}
		choice, err := s.ask("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(menu) {
			fmt.Fprintf(s.out, "Unknown option %q\n", choice)
			continue
		}
		action := menu[n-1].action
		if action == nil {
			fmt.Fprintln(s.out, "Thank you for using lcs :)")
			return nil
		}
		err = action(s)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			fmt.Fprintf(s.out, "Error: %v\n", err)
			if !ledger.IsRecoverable(err) {
				fmt.Fprintln(s.out, "The ledger needs attention, see `lcs topic recovery`.")
			}
		}
	}
}

// ask prints prompt and reads one line. It returns io.EOF at the end of the
// input.
func (s *shell) ask(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if !s.in.Scan() {
		fmt.Fprintln(s.out)
		if err := s.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(s.in.Text()), nil
}

// account asks for the name of an existing account, and returns its balance.
func (s *shell) account(prompt string) (string, ledger.Amount, error) {
	id, err := s.ask(prompt)
	if err != nil {
		return "", ledger.Amount{}, err
	}
	balance, err := s.e.GetBalance(id)
	return id, balance, err
}

func (s *shell) create() error {
	id, err := s.ask("Account name: ")
	if err != nil {
		return err
	}
	if err := s.e.CreateAccount(id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Account %q created\n", id)
	return nil
}

func (s *shell) list() error {
	ids, err := s.e.ListAccounts()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "No accounts yet")
	}
	for i, id := range ids {
		balance, err := s.e.GetBalance(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Account %d: %s (%s)\n", i+1, id, s.e.Display(balance))
	}
	return nil
}

func (s *shell) balance() error {
	id, balance, err := s.account("Account name: ")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s: %s\n", id, s.e.Display(balance))
	return nil
}

func (s *shell) deposit() error {
	id, _, err := s.account("Account name: ")
	if err != nil {
		return err
	}
	amount, err := s.amount("deposit")
	if err != nil {
		return err
	}
	if err := s.e.Deposit(id, amount); err != nil {
		return err
	}
	return report(s.out, s.e, "Deposited", amount, id)
}

func (s *shell) withdraw() error {
	id, balance, err := s.account("Account name: ")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s has %s\n", id, s.e.Display(balance))
	amount, err := s.amount("withdraw")
	if err != nil {
		return err
	}
	if err := s.e.Withdraw(id, amount); err != nil {
		return err
	}
	return report(s.out, s.e, "Withdrew", amount, id)
}

func (s *shell) transfer() error {
	src, balance, err := s.account("From account: ")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s has %s\n", src, s.e.Display(balance))
	dst, balance, err := s.account("To account: ")
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s has %s\n", dst, s.e.Display(balance))
	amount, err := s.amount("transfer")
	if err != nil {
		return err
	}
	if err := s.e.Transfer(src, dst, amount); err != nil {
		return err
	}
	return report(s.out, s.e, "Transferred", amount, src, dst)
}

// amount asks for the amount to verb, in minor units of the ledger currency.
func (s *shell) amount(verb string) (string, error) {
	return s.ask(fmt.Sprintf("Amount to %s, in minor units (150 is %s): ", verb, s.e.Display(ledger.A(150))))
}

func (s *shell) clear() error {
	fmt.Fprint(s.out, "\033[H\033[2J")
	return nil
}
