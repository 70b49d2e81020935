package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/ledger"
	"github.com/etnz/ledger/renderer"
	"github.com/google/subcommands"
)

// --- Pending Command ---

type pendingCmd struct {
	query string
}

func (*pendingCmd) Name() string     { return "pending" }
func (*pendingCmd) Synopsis() string { return "list transfers left pending by an interrupted process" }
func (*pendingCmd) Usage() string {
	return `pending [-jsonpath <expression>]

  Lists the pending transfer markers, and the quarantined accounts.

  With -jsonpath, evaluates the expression on the array of markers instead,
  and prints each selected value as JSON on its own line.

Usage Examples:
# Accounts debited by a pending transfer.
$ lcs pending -jsonpath '$[*].source'
`
}

func (c *pendingCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.query, "jsonpath", "", "JSONPath expression selecting values from the markers.")
}

func (c *pendingCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, closer, err := OpenLedger()
	if err != nil {
		return fail(err)
	}
	defer closer()

	pending, err := e.Pending()
	if err != nil {
		return fail(err)
	}
	if c.query != "" {
		if err := queryMarkers(stdout, pending, c.query); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}
	printMarkdown(renderer.RenderPending(renderer.NewPending("Pending transfers", pending, e.Config().Currency)))
	printErrors(pending)
	for id, cause := range e.Quarantined() {
		if id == ledger.AllAccounts {
			id = "all accounts"
		}
		fmt.Fprintf(stderr, "Quarantined: %s: %v\n", id, cause)
	}
	return subcommands.ExitSuccess
}

// --- Recover Command ---

type recoverCmd struct{}

func (*recoverCmd) Name() string     { return "recover" }
func (*recoverCmd) Synopsis() string { return "resolve transfers left pending by an interrupted process" }
func (*recoverCmd) Usage() string {
	return `recover

  Resolves every pending transfer whose accounts are not locked by a live process,
  and reports the outcome. Fails if a transfer cannot be resolved automatically.
`
}

func (c *recoverCmd) SetFlags(f *flag.FlagSet) {}

func (c *recoverCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, closer, err := OpenLedger()
	if err != nil {
		return fail(err)
	}
	defer closer()

	// Opening the ledger already resolved what it could, report it too.
	var recoveries []ledger.Recovery
	for _, r := range e.Recovered() {
		switch r.Resolution {
		case ledger.Completed, ledger.RolledBack, ledger.RolledForward:
			recoveries = append(recoveries, r)
		}
	}
	again, err := e.Recover()
	recoveries = append(recoveries, again...)

	printMarkdown(renderer.RenderPending(renderer.NewPending("Recovery", recoveries, e.Config().Currency)))
	printErrors(recoveries)
	if err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// --- Discard Command ---

type discardCmd struct{}

func (*discardCmd) Name() string     { return "discard" }
func (*discardCmd) Synopsis() string { return "remove a pending transfer marker after a manual repair" }
func (*discardCmd) Usage() string {
	return `discard <marker>...

  Removes pending transfer markers without touching any account, and lifts the
  quarantine of their accounts. Check and fix the account files first.
`
}

func (c *discardCmd) SetFlags(f *flag.FlagSet) {}

func (c *discardCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usage(c, "missing marker id, see `lcs pending`")
	}
	e, closer, err := OpenLedger()
	if err != nil {
		return fail(err)
	}
	defer closer()

	for _, id := range f.Args() {
		if err := e.Discard(id); err != nil {
			return fail(err)
		}
		fmt.Fprintf(stdout, "Marker %s discarded\n", id)
	}
	return subcommands.ExitSuccess
}

// queryMarkers prints the values selected by the JSONPath expression on the
// markers, one JSON document per line.
func queryMarkers(w io.Writer, pending []ledger.Recovery, expr string) error {
	markers := make([]ledger.Marker, 0, len(pending))
	for _, r := range pending {
		markers = append(markers, r.Marker)
	}
	data, err := json.Marshal(markers)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	selected, err := jsonpath.Get(expr, doc)
	if err != nil {
		return fmt.Errorf("invalid jsonpath %q: %w", expr, err)
	}
	values, ok := selected.([]any)
	if !ok {
		values = []any{selected}
	}
	for _, v := range values {
		out, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
	}
	return nil
}

// printErrors reports the recovery errors on stderr.
func printErrors(recoveries []ledger.Recovery) {
	for _, r := range recoveries {
		if r.Err != nil && !errors.Is(r.Err, ledger.ErrAccountBusy) {
			fmt.Fprintf(stderr, "Marker %s: %v\n", r.Marker.ID, r.Err)
		}
	}
}
