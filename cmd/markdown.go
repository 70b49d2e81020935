package cmd

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

// printMarkdown renders md for the terminal on stdout. Raw markdown is
// printed with -markdown, or if it cannot be rendered.
func printMarkdown(md string) {
	if *markdownFlag {
		fmt.Fprint(stdout, md)
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err == nil {
		var out string
		if out, err = r.Render(md); err == nil {
			fmt.Fprint(stdout, out)
			return
		}
	}
	fmt.Fprintln(stderr, "Warning: cannot render markdown:", err)
	fmt.Fprint(stdout, md)
}
