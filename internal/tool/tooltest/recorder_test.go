package tooltest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dyluth/hitmap/internal/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	var seen []string
	rec := New().On(tool.NamePSF, func(inv tool.Invocation) error {
		seen = append(seen, inv.Args[len(inv.Args)-1])
		return nil
	})
	rec.On(tool.NameHierarchy, func(tool.Invocation) error {
		return errors.New("hierarchy exploded")
	})

	ctx := context.Background()
	_, err := rec.Run(ctx, tool.Invocation{Name: tool.NamePSF, Args: []string{"out/blue_psf.tiff"}})
	require.NoError(t, err)
	_, err = rec.Run(ctx, tool.Invocation{Name: tool.NameCoEmbedding})
	require.NoError(t, err)

	_, err = rec.Run(ctx, tool.Invocation{Name: tool.NameHierarchy})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tool.ErrToolFailed))
	assert.Contains(t, err.Error(), "hierarchy exploded")

	assert.Equal(t, []string{"out/blue_psf.tiff"}, seen)
	assert.Equal(t, []string{tool.NamePSF, tool.NameCoEmbedding, tool.NameHierarchy}, rec.Names())
	assert.Len(t, rec.CallsFor(tool.NamePSF), 1)
	assert.Len(t, rec.Calls(), 3)
}

func TestDeconwolf_ResolvesImageAgainstDir(t *testing.T) {
	raw := t.TempDir()
	sim := Deconwolf()

	err := sim(tool.Invocation{Dir: raw, Args: []string{"--prefix", "MAPK1", "img.tif", "/psf/blue_psf.tiff"}})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(raw, "MAPK1_img.tif"))
	assert.FileExists(t, filepath.Join(raw, "MAPK1_img.tif.log.txt"))

	// a path relative to the caller, not to Dir, does not resolve
	err = sim(tool.Invocation{Dir: raw, Args: []string{"--prefix", "MAPK1", "raw/img.tif", "/psf/blue_psf.tiff"}})
	assert.Error(t, err)
}

func TestRecorderCopiesArgs(t *testing.T) {
	rec := New()
	args := []string{"a"}
	_, err := rec.Run(context.Background(), tool.Invocation{Name: "x", Args: args})
	require.NoError(t, err)

	args[0] = "mutated"
	assert.Equal(t, []string{"a"}, rec.Calls()[0].Args)
}

func TestRecorderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Run(ctx, tool.Invocation{Name: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
