package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/etnz/ledger/cmd"
	"github.com/google/subcommands"
)

func main() {
	name := path.Base(os.Args[0])
	// Answers shell completion requests, and exits, when COMP_LINE is set.
	cmd.Completion().Complete(name)

	commander := subcommands.NewCommander(flag.CommandLine, name)
	cmd.Register(commander)

	flag.Parse()
	if sub := flag.Arg(0); sub != "" && !cmd.IsCommand(sub) {
		if found, status := cmd.RunExtension(sub, flag.Args()[1:]); found {
			os.Exit(int(status))
		}
	}
	os.Exit(int(commander.Execute(context.Background())))
}
