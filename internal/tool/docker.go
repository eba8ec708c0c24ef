package tool

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	dockerpkg "github.com/dyluth/hitmap/internal/docker"
	"github.com/dyluth/hitmap/internal/logging"
)

// DockerRunner runs every tool as a short-lived container of one image.
// Host paths named by an invocation are bind-mounted at the same path, so
// arguments need no rewriting.
type DockerRunner struct {
	Client  client.ContainerAPIClient
	Image   string
	Network string
	Env     []string
	User    string

	// RunID and OutDir label the containers of one run
	RunID  string
	OutDir string

	Logger *logging.Logger

	seq atomic.Int64
}

// Run creates the container, waits for it to exit, collects its output and removes it.
func (r *DockerRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Binary == "" {
		return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: fmt.Errorf("no binary configured")}
	}

	containerConfig := &container.Config{
		Image:      r.Image,
		Cmd:        append([]string{inv.Binary}, inv.Args...),
		Env:        r.Env,
		User:       r.User,
		WorkingDir: inv.Dir,
		Labels:     dockerpkg.BuildLabels(r.RunID, r.OutDir, inv.Name),
	}
	mounts, err := bindMounts(inv)
	if err != nil {
		return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: err}
	}
	hostConfig := &container.HostConfig{
		AutoRemove: false, // removed explicitly once logs are read
		Mounts:     mounts,
	}
	if r.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(r.Network)
	}

	name := dockerpkg.ContainerName(r.RunID, inv.Name, int(r.seq.Add(1)))
	r.logger().Debug("creating tool container", "tool", inv.Name, "container", name, "image", r.Image, "command", inv.CommandLine())

	start := time.Now()
	resp, err := r.Client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: fmt.Errorf("failed to create container: %w", err)}
	}
	defer r.remove(resp.ID)

	if err := r.Client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: fmt.Errorf("failed to start container: %w", err)}
	}

	statusCh, errCh := r.Client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: fmt.Errorf("failed waiting for container: %w", err)}
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: fmt.Errorf("container wait: %s", status.Error.Message)}
		}
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return Result{}, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: -1, Err: ctx.Err()}
	}

	stdout, stderr := r.logs(ctx, resp.ID)
	res := Result{Stdout: stdout, Stderr: stderr, Duration: time.Since(start)}
	if exitCode != 0 {
		return res, &ToolError{Tool: inv.Name, Args: inv.Args, ExitCode: exitCode, Stderr: stderr}
	}

	r.logger().Debug("tool container completed", "tool", inv.Name, "container", name, "duration", res.Duration)
	return res, nil
}

// logs returns the container's stdout and stderr, each capped at maxOutputSize.
func (r *DockerRunner) logs(ctx context.Context, id string) (string, string) {
	reader, err := r.Client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Sprintf("(failed to retrieve logs: %v)", err)
	}
	defer reader.Close()

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	if _, err := stdcopy.StdCopy(
		&limitedWriter{w: stdoutBuf, limit: maxOutputSize},
		&limitedWriter{w: stderrBuf, limit: maxOutputSize},
		reader,
	); err != nil {
		r.logger().Warn("failed to read container logs", "container", id, "error", err)
	}
	return stdoutBuf.String(), stderrBuf.String()
}

// remove uses a fresh context so containers are cleaned up after cancellation too.
func (r *DockerRunner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.Client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		r.logger().Warn("failed to remove tool container", "container", id, "error", err)
	}
}

func (r *DockerRunner) logger() *logging.Logger {
	if r.Logger == nil {
		return logging.NopLogger()
	}
	return r.Logger
}

// bindMounts mounts the working directory and every declared path, which must
// be absolute. Paths nested inside another mounted path are skipped.
func bindMounts(inv Invocation) ([]mount.Mount, error) {
	candidates := append([]string{}, inv.Paths...)
	if inv.Dir != "" {
		candidates = append(candidates, inv.Dir)
	}

	var cleaned []string
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("cannot mount relative path %q into the tool container", p)
		}
		cleaned = append(cleaned, filepath.Clean(p))
	}
	sort.Strings(cleaned)

	var mounts []mount.Mount
next:
	for _, p := range cleaned {
		for _, m := range mounts {
			if p == m.Source || isWithin(m.Source, p) {
				continue next
			}
		}
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: p, Target: p})
	}
	return mounts, nil
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
