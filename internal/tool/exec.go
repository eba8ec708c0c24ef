package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/dyluth/hitmap/internal/logging"
)

// maxOutputSize is the maximum number of bytes kept from tool stdout/stderr (10MB)
const maxOutputSize = 10 * 1024 * 1024

// ExecRunner runs tools as local subprocesses.
type ExecRunner struct {
	// Timeout bounds one invocation; zero means no limit beyond ctx
	Timeout time.Duration
	Logger  *logging.Logger
}

// NewExecRunner returns a local runner.
func NewExecRunner(logger *logging.Logger, timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout, Logger: logger}
}

// Run executes inv and waits for it to exit.
//
// The subprocess is:
//   - killed when ctx is cancelled or Timeout elapses
//   - run in inv.Dir when set
//   - given no stdin
//   - captured with a 10MB limit on stdout and stderr
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Binary == "" {
		return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: fmt.Errorf("no binary configured")}
	}

	execCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, inv.Binary, inv.Args...)
	cmd.Dir = inv.Dir

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	r.logger().Debug("executing tool", "tool", inv.Name, "command", inv.CommandLine(), "dir", inv.Dir)
	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String(), Duration: time.Since(start)}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && execCtx.Err() == nil {
			return res, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: exitErr.ExitCode(), Stderr: res.Stderr}
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("tool execution timeout (%s)", r.Timeout)
		} else if ctx.Err() != nil {
			err = ctx.Err()
		}
		return res, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Stderr: res.Stderr, Err: err}
	}

	r.logger().Debug("tool completed", "tool", inv.Name, "duration", res.Duration)
	return res, nil
}

func (r *ExecRunner) logger() *logging.Logger {
	if r.Logger == nil {
		return logging.NopLogger()
	}
	return r.Logger
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err // Return len(p) to satisfy the writer interface
}
