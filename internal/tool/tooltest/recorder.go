// Package tooltest provides a fake tool.Runner for tests.
package tooltest

import (
	"context"
	"sync"

	"github.com/dyluth/hitmap/internal/tool"
)

// Hook simulates a tool. It may create the files the real tool would write.
// A non-nil error is reported as a *tool.ToolError with exit code 1.
type Hook func(inv tool.Invocation) error

// Recorder records every invocation and dispatches it to the hook registered
// for its tool name. Tools without a hook succeed without side effects.
type Recorder struct {
	mu    sync.Mutex
	calls []tool.Invocation
	hooks map[string]Hook
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{hooks: make(map[string]Hook)}
}

// On registers the hook for a logical tool name, replacing any previous one.
func (r *Recorder) On(name string, hook Hook) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = hook
	return r
}

// Run implements tool.Runner.
func (r *Recorder) Run(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cloneInvocation(inv))
	hook := r.hooks[inv.Name]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return tool.Result{}, &tool.ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: err}
	}
	if hook == nil {
		return tool.Result{}, nil
	}
	if err := hook(inv); err != nil {
		return tool.Result{}, &tool.ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: 1, Stderr: err.Error()}
	}
	return tool.Result{}, nil
}

// Calls returns every recorded invocation in order.
func (r *Recorder) Calls() []tool.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tool.Invocation(nil), r.calls...)
}

// CallsFor returns the recorded invocations of one tool.
func (r *Recorder) CallsFor(name string) []tool.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tool.Invocation
	for _, c := range r.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the tool names in call order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Name
	}
	return out
}

func cloneInvocation(inv tool.Invocation) tool.Invocation {
	inv.Args = append([]string(nil), inv.Args...)
	inv.Paths = append([]string(nil), inv.Paths...)
	return inv
}
