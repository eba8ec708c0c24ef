// Package runlist formats run records for the status command.
package runlist

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/hitmap/internal/runstate"
)

// OutputFormat specifies how to format a run listing.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with shortened IDs and relative times
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete run records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output value. Empty selects the default.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s (must be '%s' or '%s')", s, OutputFormatDefault, OutputFormatJSONL)
}

// Write formats runs in the requested format.
func Write(w io.Writer, runs []runstate.Marker, format OutputFormat, now time.Time) error {
	switch format {
	case OutputFormatDefault:
		FormatTable(w, runs, now)
		return nil
	case OutputFormatJSONL:
		return FormatJSONL(w, runs)
	}
	return fmt.Errorf("unknown output format: %s", format)
}

// FormatTable writes runs as a table with columns ID, STATE, STAGE, AGE and OUTDIR.
// Ages are relative to now. Returns the number of runs formatted.
func FormatTable(w io.Writer, runs []runstate.Marker, now time.Time) int {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return 0
	}

	fmt.Fprintf(w, "%-10s %-9s %-24s %-8s %s\n", "ID", "STATE", "STAGE", "AGE", "OUTDIR")
	fmt.Fprintf(w, "%-10s %-9s %-24s %-8s %s\n",
		"----------", "---------", "------------------------", "--------", "----------------------------------------")

	for _, m := range runs {
		fmt.Fprintf(w, "%-10s %-9s %-24s %-8s %s\n",
			formatID(m.RunID),
			m.State,
			formatStage(m.Stage),
			formatAge(m.UpdatedAt, now),
			formatOutDir(m.OutDir),
		)
	}

	noun := "run"
	if len(runs) != 1 {
		noun = "runs"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(runs), noun)
	return len(runs)
}

// FormatJSONL writes each run as a single JSON object on its own line.
func FormatJSONL(w io.Writer, runs []runstate.Marker) error {
	for _, m := range runs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal run to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one run as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, m runstate.Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID truncates a run ID to its first 8 characters, enough for --run.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatStage(stage string) string {
	if stage == "" {
		return "-"
	}
	return stage
}

// formatOutDir keeps the tail of long paths, where runs differ.
func formatOutDir(dir string) string {
	if dir == "" {
		return "-"
	}
	if len(dir) > 40 {
		return "..." + dir[len(dir)-37:]
	}
	return dir
}

// formatAge shows how long ago t was, like "2m ago" or "3d ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
