// Package printer renders run progress and failures on the terminal.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer writes coloured progress lines. Colour follows fatih/color's
// terminal detection; NO_COLOR disables it.
type Printer struct {
	out   io.Writer
	err   io.Writer
	quiet bool
}

// New returns a printer writing progress to out and failures to errOut.
// A quiet printer only reports failures.
func New(out, errOut io.Writer, quiet bool) *Printer {
	return &Printer{out: out, err: errOut, quiet: quiet}
}

// Default prints progress to stdout and failures to stderr.
func Default() *Printer {
	return New(os.Stdout, os.Stderr, false)
}

// Step announces the start of a pipeline stage.
func (p *Printer) Step(stage string) {
	if p.quiet {
		return
	}
	cyan.Fprintf(p.out, "→ %s\n", stage)
}

// StageDone reports a finished stage with its duration.
func (p *Printer) StageDone(stage string, d time.Duration) {
	if p.quiet {
		return
	}
	green.Fprintf(p.out, "✓ %s (%s)\n", stage, d.Round(time.Millisecond))
}

// StageFailed reports the stage that stopped the run.
func (p *Printer) StageFailed(stage string, d time.Duration) {
	red.Fprintf(p.err, "✗ %s failed after %s\n", stage, d.Round(time.Millisecond))
}

// Success prints a success message in green with a checkmark prefix
func (p *Printer) Success(format string, a ...any) {
	if p.quiet {
		return
	}
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprintln(p.out, msg)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprintln(p.err, msg)
}

// Failure prints a formatted error with title, explanation, context details and suggestions.
func (p *Printer) Failure(title, explanation string, details map[string]string, suggestions []string) {
	red.Fprintf(p.err, "%s\n", title)

	if explanation != "" {
		fmt.Fprintf(p.err, "\n%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(p.err)
		for _, k := range keys {
			fmt.Fprintf(p.err, "  %s: %s\n", k, details[k])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintln(p.err)
		if len(suggestions) == 1 {
			fmt.Fprintf(p.err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(p.err, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(p.err, "  %d. %s\n", i+1, suggestion)
			}
		}
	}
}
