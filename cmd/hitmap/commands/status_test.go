package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/hitmap/internal/runstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand_Directory(t *testing.T) {
	base := t.TempDir()

	missing := filepath.Join(base, "missing")
	output, err := execute(newStatusCmd(), missing)
	require.NoError(t, err)
	assert.Contains(t, output, "does not exist")

	foreign := filepath.Join(base, "foreign")
	require.NoError(t, os.MkdirAll(foreign, 0755))
	output, err = execute(newStatusCmd(), foreign)
	require.NoError(t, err)
	assert.Contains(t, output, "no run marker found")

	done := filepath.Join(base, "done")
	require.NoError(t, os.MkdirAll(done, 0755))
	now := time.Now()
	require.NoError(t, runstate.WriteMarker(done, runstate.Marker{
		RunID: "run-1", State: runstate.StateCompleted, OutDir: done, StartedAt: now, UpdatedAt: now,
	}))
	output, err = execute(newStatusCmd(), done)
	require.NoError(t, err)
	assert.Contains(t, output, "run run-1 already completed")
}

func TestStatusCommand_Registry(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	reg, err := runstate.NewRedisRegistry(url)
	require.NoError(t, err)
	defer reg.Close()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, reg.Record(ctx, runstate.Marker{RunID: "older", State: runstate.StateFailed, Stage: "deconvolution", OutDir: "/out/a", StartedAt: start, UpdatedAt: start}))
	require.NoError(t, reg.Record(ctx, runstate.Marker{RunID: "newer", State: runstate.StateRunning, Stage: "projection", OutDir: "/out/b", StartedAt: start.Add(time.Hour), UpdatedAt: start.Add(time.Hour)}))

	output, err := execute(newStatusCmd(), "--redis-url", url, "--recent", "1")
	require.NoError(t, err)
	assert.Contains(t, output, "newer")
	assert.Contains(t, output, "projection")
	assert.NotContains(t, output, "older")
}

func TestStatusCommand_RunLookupAndRange(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	reg, err := runstate.NewRedisRegistry(url)
	require.NoError(t, err)
	defer reg.Close()

	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	require.NoError(t, reg.Record(ctx, runstate.Marker{RunID: "3f2a9c1e-old", State: runstate.StateCompleted, OutDir: "/out/old", StartedAt: old, UpdatedAt: old}))
	require.NoError(t, reg.Record(ctx, runstate.Marker{RunID: "3f2a9c1e-new", State: runstate.StateRunning, Stage: "psf", OutDir: "/out/new", StartedAt: recent, UpdatedAt: recent}))

	output, err := execute(newStatusCmd(), "--redis-url", url, "--since", "24h")
	require.NoError(t, err)
	assert.Contains(t, output, "/out/new")
	assert.NotContains(t, output, "/out/old")
	assert.Contains(t, output, "1 run found")

	output, err = execute(newStatusCmd(), "--redis-url", url, "--output", "jsonl")
	require.NoError(t, err)
	assert.Contains(t, output, `"run_id":"3f2a9c1e-new"`)
	assert.Contains(t, output, `"run_id":"3f2a9c1e-old"`)

	output, err = execute(newStatusCmd(), "--redis-url", url, "--run", "3f2a9c1e-n", "-o", "jsonl")
	require.NoError(t, err)
	assert.Contains(t, output, `"outdir": "/out/new"`)

	output, err = execute(newStatusCmd(), "--redis-url", url, "--run", "3f2a9c1e-o")
	require.NoError(t, err)
	assert.Contains(t, output, "Outdir:   /out/old")

	output, err = execute(newStatusCmd(), "--redis-url", url, "--run", "3f2a9c1e-o", "--follow")
	require.NoError(t, err)
	assert.Contains(t, output, "completed")

	output, err = execute(newStatusCmd(), "--redis-url", url, "--run", "3f2a9c1e-n", "--follow", "--timeout", "50ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for run")

	output, err = execute(newStatusCmd(), "--redis-url", url, "--run", "3f2a9c")
	require.Error(t, err)
	assert.Contains(t, output, "3f2a9c1e-new")
	assert.Contains(t, output, "3f2a9c1e-old")
}

func TestStatusCommand_UnknownOutputFormat(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := execute(newStatusCmd(), "--redis-url", "redis://"+mr.Addr(), "--output", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestStatusCommand_RequiresTarget(t *testing.T) {
	_, err := execute(newStatusCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--redis-url is required")
}
