// Package tool runs the external batch programs the pipeline is built from.
//
// Every stage that shells out goes through a Runner, so tests substitute a
// recording fake and production picks between a local process and a Docker
// container.
package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Logical tool names. They label invocations in logs, metrics and container names.
const (
	NamePSF            = "psf"
	NameDeconvolution  = "deconvolution"
	NameImageEmbedding = "image_embedding"
	NamePPIEmbedding   = "ppi_embedding"
	NameCoEmbedding    = "co_embedding"
	NameHierarchy      = "hierarchy"
	NameHierarchyEval  = "hierarchy_eval"
)

// ErrToolFailed is matched by every *ToolError.
var ErrToolFailed = errors.New("external tool failed")

// Invocation describes one run of an external program.
type Invocation struct {
	Name   string   // logical tool name
	Binary string   // executable name or path
	Args   []string // argv after the binary
	Dir    string   // working directory, empty for the caller's

	// Paths lists existing host directories the tool reads or writes.
	// The docker runtime bind-mounts each one at the same path.
	Paths []string
}

// CommandLine renders the invocation for logs.
func (inv Invocation) CommandLine() string {
	return strings.Join(append([]string{inv.Binary}, inv.Args...), " ")
}

// Result is the outcome of a successful invocation.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes invocations. A non-zero exit is reported as a *ToolError.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ToolError reports a tool that could not be started or exited non-zero.
// ExitCode is -1 when the process never produced one.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tool %s", e.Tool)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " exited with code %d", e.ExitCode)
	} else {
		b.WriteString(" failed")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", truncate(lastLine(s), 200))
	}
	return b.String()
}

func (e *ToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrToolFailed}
	}
	return []error{ErrToolFailed, e.Err}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// truncate limits a string to maxLen characters, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
