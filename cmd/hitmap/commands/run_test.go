package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/hitmap/internal/config"
	"github.com/dyluth/hitmap/internal/logging"
	"github.com/dyluth/hitmap/internal/pipeline"
	"github.com/dyluth/hitmap/internal/projection"
	"github.com/dyluth/hitmap/internal/provenance"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopProjector struct{}

func (nopProjector) Project(_, dst string, _ projection.Options) error {
	return os.WriteFile(dst, nil, 0644)
}

// inputs writes a complete set of run inputs whose tool binaries do not exist.
func inputs(t *testing.T) (dir string, args []string) {
	t.Helper()
	dir = t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}
	setup := write("setup.yml", "ni: 1.33\nNA: 1.4\nlambda:\n  blue: 461\nresxy: 65\nresz: 250\nthreads: 1\n")
	meta := write("image_meta.tsv", "file_directory\tchannel\ttargetted_proteins\tsave_prefix\n/raw/a.tif\tblue\tnucleus\tMAPK1\n")
	tools := write("tools.yml", "binaries:\n  psf: "+filepath.Join(dir, "missing-dw_bw")+"\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ppi"), 0755))

	return dir, []string{
		"--outdir", filepath.Join(dir, "out"),
		"--image-meta", meta,
		"--ppi-dir", filepath.Join(dir, "ppi"),
		"--microscope-setup", setup,
		"--psigma", "1.5",
		"--tools", tools,
		"-q",
	}
}

func TestRunCommand_RequiredFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no outdir", nil, "--outdir is required"},
		{"no image meta", []string{"--outdir", "out"}, "--image-meta is required"},
		{"no setup", []string{"--outdir", "out", "--image-meta", "m.tsv", "--ppi-dir", "ppi"}, "--microscope-setup is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(newRunCmd(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, output, "invalid configuration")

			var reported *reportedError
			assert.True(t, errors.As(err, &reported), "error must be marked as already printed")
		})
	}
}

func TestRunCommand_EnvironmentOverrides(t *testing.T) {
	t.Setenv("HITMAP_OUTDIR", "out")
	t.Setenv("HITMAP_IMAGE_META", "m.tsv")
	t.Setenv("HITMAP_PPI_DIR", "ppi")

	_, err := execute(newRunCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--microscope-setup is required")
}

func TestRunCommand_ToolFailure(t *testing.T) {
	SetProjector(nopProjector{})
	t.Cleanup(func() { SetProjector(nil) })
	dir, args := inputs(t)

	output, err := execute(newRunCmd(), args...)
	require.Error(t, err)

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StagePSF, stageErr.Stage)
	assert.Contains(t, output, "pipeline run failed")
	assert.Contains(t, output, "stage: psf")

	finishes, _ := filepath.Glob(filepath.Join(dir, "out", "task_*_finish.json"))
	require.Len(t, finishes, 1)
	finish, err := provenance.ReadFinish(finishes[0])
	require.NoError(t, err)
	assert.Equal(t, config.FailureExitCode, finish.Status)

	starts, _ := filepath.Glob(filepath.Join(dir, "out", "task_*_start.json"))
	require.Len(t, starts, 1)
	start, err := provenance.ReadStart(starts[0])
	require.NoError(t, err)
	assert.Equal(t, "1.5", fmt.Sprint(start.CommandLineArgs["psigma"]))
	assert.Contains(t, start.CommandLineArgs, "image_meta")
}

func TestRunCommand_OutputExists(t *testing.T) {
	SetProjector(nopProjector{})
	t.Cleanup(func() { SetProjector(nil) })
	dir, args := inputs(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0755))

	output, err := execute(newRunCmd(), args...)
	require.ErrorIs(t, err, pipeline.ErrOutputExists)
	assert.Contains(t, output, "output directory already exists")
	assert.Contains(t, output, "Choose a new --outdir.")
}

func TestRunCommand_NoProjector(t *testing.T) {
	SetProjector(nil)
	_, args := inputs(t)

	_, err := execute(newRunCmd(), args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projector is required")
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose int
		want    string
		wantErr bool
	}{
		{name: "default", want: logging.LevelError},
		{name: "one v", verbose: 1, want: logging.LevelWarn},
		{name: "three v", verbose: 3, want: logging.LevelDebug},
		{name: "explicit level wins", level: "info", verbose: 3, want: logging.LevelInfo},
		{name: "python spelling", level: "warning", want: logging.LevelWarn},
		{name: "unknown", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(flagLogLevel, tt.level)
			v.Set(flagVerbose, tt.verbose)

			got, err := logLevel(v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
