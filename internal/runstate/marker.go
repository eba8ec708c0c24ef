// Package runstate records the lifecycle of a run so that a pre-existing output
// directory can be told apart as belonging to a run in progress or a finished one.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile is the state file kept in every run root.
const MarkerFile = ".hitmap_run.json"

// State of a run
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Finished reports whether the state is terminal.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateFailed
}

// Marker is the content of the state file.
type Marker struct {
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Stage     string    `json:"stage,omitempty"` // last stage started
	OutDir    string    `json:"outdir"`
	Host      string    `json:"host,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WriteMarker atomically replaces the state file in dir.
func WriteMarker(dir string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run marker: %w", err)
	}
	path := filepath.Join(dir, MarkerFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	return nil
}

// ReadMarker loads the state file of dir. ok is false when dir has none.
func ReadMarker(dir string) (m Marker, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if errors.Is(err, os.ErrNotExist) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("failed to read run marker: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("invalid run marker in %s: %w", dir, err)
	}
	return m, true, nil
}

// Describe explains what occupies an existing output directory, for error messages.
func Describe(dir string) string {
	m, ok, err := ReadMarker(dir)
	switch {
	case err != nil:
		return fmt.Sprintf("run state unknown (%v)", err)
	case !ok:
		return "no run marker found; not created by a pipeline run or created by an older one"
	case m.State == StateRunning:
		return fmt.Sprintf("run %s is in progress or was interrupted (last stage %q, started %s)",
			m.RunID, m.Stage, m.StartedAt.Format(time.RFC3339))
	case m.State.Finished():
		return fmt.Sprintf("run %s already %s at %s", m.RunID, m.State, m.UpdatedAt.Format(time.RFC3339))
	default:
		return fmt.Sprintf("run %s has unrecognised state %q", m.RunID, m.State)
	}
}
