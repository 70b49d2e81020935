package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/google/subcommands"
)

// IsCommand reports whether name is a builtin lcs command.
func IsCommand(name string) bool {
	switch name {
	case "help", "flags", "commands":
		return true
	}
	for _, cmds := range Commands() {
		for _, c := range cmds {
			if c.Name() == name {
				return true
			}
		}
	}
	return false
}

// RunExtension attempts to find and execute an external lcs-<subcommand> binary.
// It returns (true, status) if an extension was found and executed,
// and (false, 0) if no extension was found.
//
// The extension receives the resolved configuration in its environment, so it
// can open the same ledger.
func RunExtension(subcommand string, args []string) (bool, subcommands.ExitStatus) {
	path, err := exec.LookPath("lcs-" + subcommand)
	if err != nil {
		return false, 0
	}

	cfg, verbose, err := Config()
	if err != nil {
		return true, fail(err)
	}

	c := exec.Command(path, args...)
	c.Stdin, c.Stdout, c.Stderr = stdin, stdout, stderr
	c.Env = append(os.Environ(),
		EnvRoot+"="+cfg.Root,
		EnvCurrency+"="+cfg.Currency,
		EnvLockTimeout+"="+cfg.LockTimeout.String(),
		EnvVerbose+"="+strconv.FormatBool(verbose),
	)

	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return true, subcommands.ExitStatus(exitErr.ExitCode())
		}
		fmt.Fprintf(stderr, "Error executing external command %q: %v\n", path, err)
		return true, subcommands.ExitFailure
	}
	return true, subcommands.ExitSuccess
}
