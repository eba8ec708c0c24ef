// Package provenance writes the task start and finish records of a run.
package provenance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StartRecord is written into the run root before any stage runs.
type StartRecord struct {
	CommandLineArgs map[string]any `json:"commandlineargs"`
	StartTime       int64          `json:"start_time"`
	Version         string         `json:"version"`
	RunID           string         `json:"run_id"`
}

// FinishRecord is written into the run root however the run ends.
type FinishRecord struct {
	StartTime   int64   `json:"start_time"`
	EndTime     int64   `json:"end_time"`
	ElapsedTime float64 `json:"elapsed_time"`
	Status      int     `json:"status"`
	RunID       string  `json:"run_id"`
}

// StartFileName returns the start record name for a run started at start.
func StartFileName(start time.Time) string {
	return fmt.Sprintf("task_%d_start.json", start.Unix())
}

// FinishFileName returns the finish record name for a run started at start.
func FinishFileName(start time.Time) string {
	return fmt.Sprintf("task_%d_finish.json", start.Unix())
}

// WriteStart writes the start record into dir and returns its path.
func WriteStart(dir string, start time.Time, version, runID string, args map[string]any) (string, error) {
	rec := StartRecord{
		CommandLineArgs: args,
		StartTime:       start.Unix(),
		Version:         version,
		RunID:           runID,
	}
	path := filepath.Join(dir, StartFileName(start))
	if err := writeJSON(path, rec); err != nil {
		return "", fmt.Errorf("failed to write start record: %w", err)
	}
	return path, nil
}

// WriteFinish writes the finish record into dir and returns its path.
func WriteFinish(dir string, start, end time.Time, status int, runID string) (string, error) {
	rec := FinishRecord{
		StartTime:   start.Unix(),
		EndTime:     end.Unix(),
		ElapsedTime: end.Sub(start).Seconds(),
		Status:      status,
		RunID:       runID,
	}
	path := filepath.Join(dir, FinishFileName(start))
	if err := writeJSON(path, rec); err != nil {
		return "", fmt.Errorf("failed to write finish record: %w", err)
	}
	return path, nil
}

// ReadStart loads a start record.
func ReadStart(path string) (StartRecord, error) {
	var rec StartRecord
	err := readJSON(path, &rec)
	return rec, err
}

// ReadFinish loads a finish record.
func ReadFinish(path string) (FinishRecord, error) {
	var rec FinishRecord
	err := readJSON(path, &rec)
	return rec, err
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
}
