// Package cmd implements the lcs CLI application to manage a ledger.
package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variables used as defaults for the global flags.
const (
	EnvRoot        = "LCS_ROOT"
	EnvCurrency    = "LCS_CURRENCY"
	EnvLockTimeout = "LCS_LOCK_TIMEOUT"
	EnvVerbose     = "LCS_VERBOSE"
)

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var rootFlag = flag.String("root", "", "Folder holding the ledger. Defaults to $"+EnvRoot+" or .ledger")
var currencyFlag = flag.String("currency", "", "ISO 4217 currency of amounts. Defaults to $"+EnvCurrency+" or BRL")
var lockTimeoutFlag = flag.Duration("lock-timeout", 0, "Time to wait for a busy account. Defaults to $"+EnvLockTimeout+" or 5s")
var verboseFlag = flag.Bool("v", false, "Log debug information on stderr. Defaults to $"+EnvVerbose)
var markdownFlag = flag.Bool("markdown", false, "Print reports as raw markdown instead of rendering them for the terminal")

// Input and output of the commands, replaced in tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	for group, cmds := range Commands() {
		for _, cmd := range cmds {
			c.Register(cmd, group)
		}
	}
}

// Commands returns the lcs commands, by group.
func Commands() map[string][]subcommands.Command {
	return map[string][]subcommands.Command{
		"accounts": {
			&createCmd{},
			&accountsCmd{},
			&balanceCmd{},
		},
		"operations": {
			&depositCmd{},
			&withdrawCmd{},
			&transferCmd{},
			&shellCmd{},
		},
		"recovery": {
			&pendingCmd{},
			&recoverCmd{},
			&discardCmd{},
		},
		"help": {
			&topicCmd{},
		},
	}
}

// Config returns the ledger configuration. Each setting comes from, in
// order of precedence: its global flag, the environment, a .env file in the
// current folder, and the ledger defaults.
func Config() (cfg ledger.Config, verbose bool, err error) {
	// A missing .env file is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, false, fmt.Errorf("cannot load .env: %w", err)
	}

	cfg.Root = firstNonEmpty(*rootFlag, os.Getenv(EnvRoot))
	cfg.Currency = firstNonEmpty(*currencyFlag, os.Getenv(EnvCurrency))
	cfg.LockTimeout = *lockTimeoutFlag
	if v := os.Getenv(EnvLockTimeout); cfg.LockTimeout == 0 && v != "" {
		if cfg.LockTimeout, err = time.ParseDuration(v); err != nil {
			return cfg, false, fmt.Errorf("invalid $%s: %w", EnvLockTimeout, err)
		}
	}
	verbose = *verboseFlag
	if v := os.Getenv(EnvVerbose); !verbose && v != "" {
		if verbose, err = strconv.ParseBool(v); err != nil {
			return cfg, false, fmt.Errorf("invalid $%s: %w", EnvVerbose, err)
		}
	}
	cfg, err = cfg.Validate()
	return cfg, verbose, err
}

// OpenLedger is the central function to open the ledger. The returned
// function flushes the logs, it must be called when done.
func OpenLedger() (*ledger.Engine, func(), error) {
	cfg, verbose, err := Config()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(verbose)
	if err != nil {
		return nil, nil, err
	}
	closer := func() { _ = log.Sync() }

	e, err := ledger.Open(cfg, ledger.WithLogger(log))
	if err != nil {
		closer()
		return nil, nil, err
	}
	return e, closer, nil
}

// newLogger returns a development logger in verbose mode, and a production
// one only reporting warnings otherwise. Both write on stderr.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}

// fail reports err on stderr and returns the matching exit status.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if !ledger.IsRecoverable(err) {
		fmt.Fprintln(stderr, "The ledger needs attention, see `lcs topic recovery`.")
	}
	return exitStatus(err)
}

// exitStatus maps errors to exit statuses: wrong input is a usage error,
// anything else a failure.
func exitStatus(err error) subcommands.ExitStatus {
	switch {
	case err == nil:
		return subcommands.ExitSuccess
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccountID),
		errors.Is(err, ledger.ErrSameAccountTransfer):
		return subcommands.ExitUsageError
	default:
		return subcommands.ExitFailure
	}
}

// usage reports a usage error for c.
func usage(c subcommands.Command, format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(stderr, "Error: "+format+"\n", args...)
	fmt.Fprintf(stderr, "Usage: lcs %s", c.Usage())
	return subcommands.ExitUsageError
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
