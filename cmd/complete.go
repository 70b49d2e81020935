package cmd

import (
	"flag"
	"maps"
	"slices"
	"strings"

	"github.com/etnz/ledger"
	"github.com/etnz/ledger/docs"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// Completion returns the shell completion of lcs: commands, their flags, and
// the names of existing accounts.
func Completion() *complete.Command {
	root := &complete.Command{
		Sub: map[string]*complete.Command{},
		Flags: map[string]complete.Predictor{
			"root":         predict.Dirs("*"),
			"currency":     predict.Set{"BRL", "EUR", "GBP", "JPY", "USD"},
			"lock-timeout": predict.Something,
			"v":            nil,
			"markdown":     nil,
		},
	}
	for _, cmds := range Commands() {
		for _, c := range cmds {
			root.Sub[c.Name()] = &complete.Command{
				Flags: commandFlags(c),
				Args:  commandArgs(c.Name()),
			}
		}
	}
	for _, name := range []string{"help", "flags", "commands"} {
		root.Sub[name] = &complete.Command{Args: predict.Set(slices.Sorted(maps.Keys(root.Sub)))}
	}
	return root
}

// commandFlags predicts the flags of c, none of them take a value.
func commandFlags(c interface{ SetFlags(*flag.FlagSet) }) map[string]complete.Predictor {
	f := flag.NewFlagSet("", flag.ContinueOnError)
	c.SetFlags(f)
	flags := map[string]complete.Predictor{}
	f.VisitAll(func(fl *flag.Flag) { flags[fl.Name] = nil })
	return flags
}

// commandArgs predicts the positional arguments of the command name.
func commandArgs(name string) complete.Predictor {
	switch name {
	case "balance", "deposit", "withdraw", "transfer":
		return predictAccounts
	case "topic":
		topics, _ := docs.GetAllTopics()
		return predict.Set(topics)
	default:
		return predict.Nothing
	}
}

// predictAccounts predicts the names of the accounts of the ledger selected
// by the environment.
var predictAccounts = complete.PredictFunc(func(prefix string) []string {
	cfg, _, err := Config()
	if err != nil {
		return nil
	}
	ids, err := ledger.AccountIDs(cfg)
	if err != nil {
		return nil
	}
	return slices.DeleteFunc(ids, func(id string) bool { return !strings.HasPrefix(id, prefix) })
})
