package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/hitmap/internal/config"
	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/projection"
	"github.com/dyluth/hitmap/internal/provenance"
	"github.com/dyluth/hitmap/internal/runstate"
	"github.com/dyluth/hitmap/internal/tool"
	"github.com/dyluth/hitmap/internal/tool/tooltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fileProjector writes a placeholder image for every stack.
type fileProjector struct {
	rename func(dst string) string
}

func (p *fileProjector) Project(_, dst string, _ projection.Options) error {
	if p.rename != nil {
		dst = p.rename(dst)
	}
	return os.WriteFile(dst, []byte("jpg"), 0644)
}

type memRegistry struct {
	mu      sync.Mutex
	markers []runstate.Marker
}

func (m *memRegistry) Record(_ context.Context, marker runstate.Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers = append(m.markers, marker)
	return nil
}

func (m *memRegistry) Close() error { return nil }

func (m *memRegistry) last() runstate.Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[len(m.markers)-1]
}

type progressEvent struct {
	kind  string
	stage string
}

type recordingProgress struct {
	events []progressEvent
}

func (p *recordingProgress) Step(stage string) {
	p.events = append(p.events, progressEvent{"step", stage})
}

func (p *recordingProgress) StageDone(stage string, _ time.Duration) {
	p.events = append(p.events, progressEvent{"done", stage})
}

func (p *recordingProgress) StageFailed(stage string, _ time.Duration) {
	p.events = append(p.events, progressEvent{"failed", stage})
}

func mkdirFirstArg(inv tool.Invocation) error {
	return os.MkdirAll(inv.Args[0], 0755)
}

func imageEmbeddingSim(inv tool.Invocation) error {
	if err := os.MkdirAll(inv.Args[0], 0755); err != nil {
		return err
	}
	table := "\t0\t1\n" +
		"MAPK1_rep1_B2AI_1_a\t1\t2\n" +
		"MAPK1_rep1_B2AI_1_a\t3\t4\n"
	return os.WriteFile(filepath.Join(inv.Args[0], layout.ImageEmbeddingFile), []byte(table), 0644)
}

// newRecorder returns a recorder that simulates every tool of a successful run.
func newRecorder() *tooltest.Recorder {
	return tooltest.New().
		On(tool.NamePSF, tooltest.PSF()).
		On(tool.NameDeconvolution, tooltest.Deconwolf()).
		On(tool.NameImageEmbedding, imageEmbeddingSim).
		On(tool.NamePPIEmbedding, mkdirFirstArg).
		On(tool.NameCoEmbedding, mkdirFirstArg).
		On(tool.NameHierarchy, mkdirFirstArg).
		On(tool.NameHierarchyEval, mkdirFirstArg)
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	base := t.TempDir()

	raw := filepath.Join(base, "raw")
	require.NoError(t, os.MkdirAll(raw, 0755))
	metaPath := filepath.Join(base, "image_meta.tsv")
	table := "file_directory\tchannel\ttargetted_proteins\tsave_prefix\n" +
		filepath.Join(raw, "B2AI_1_a.tif") + "\tblue\tnucleus\tMAPK1_rep1\n" +
		filepath.Join(raw, "B2AI_1_a_g.tif") + "\tgreen\tMAPK1\tMAPK1_rep1\n"
	require.NoError(t, os.WriteFile(metaPath, []byte(table), 0644))

	ppi := filepath.Join(base, "ppi")
	require.NoError(t, os.MkdirAll(ppi, 0755))

	setup, err := config.NewMicroscopeSetup(1.33, 1.4, map[layout.Channel]int{
		layout.ChannelBlue:   461,
		layout.ChannelGreen:  525,
		layout.ChannelRed:    599,
		layout.ChannelYellow: 668,
	}, 65, 250, 4)
	require.NoError(t, err)

	return config.Settings{
		ImageMeta: metaPath,
		PPIDir:    ppi,
		Setup:     setup,
		PSigma:    1.5,
		OutDir:    filepath.Join(base, "out"),
		Tools:     config.DefaultTools(),
		Version:   "test",
		Inputs:    map[string]any{"outdir": "out"},
	}
}

func newRunner(t *testing.T, settings config.Settings, deps Dependencies) *Runner {
	t.Helper()
	if deps.Projector == nil {
		deps.Projector = &fileProjector{}
	}
	r, err := New(settings, deps, WithClock(func() time.Time { return fixedStart }), WithRunID("run-1234"))
	require.NoError(t, err)
	return r
}

func TestRun_EndToEnd(t *testing.T) {
	settings := testSettings(t)
	rec := newRecorder()
	reg := &memRegistry{}
	progress := &recordingProgress{}
	r := newRunner(t, settings, Dependencies{Runner: rec, Registry: reg, Progress: progress})

	status, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status)

	l := r.Layout()

	t.Run("tools run in stage order", func(t *testing.T) {
		assert.Equal(t, []string{
			tool.NamePSF, tool.NamePSF, tool.NamePSF, tool.NamePSF,
			tool.NameDeconvolution, tool.NameDeconvolution,
			tool.NameImageEmbedding,
			tool.NamePPIEmbedding,
			tool.NameCoEmbedding,
		}, rec.Names())
	})

	t.Run("stage outputs", func(t *testing.T) {
		for _, c := range layout.Channels() {
			assert.FileExists(t, l.PSFFile(c))
		}
		assert.FileExists(t, filepath.Join(l.DeconvChannelDir(layout.ChannelBlue), "MAPK1_rep1_B2AI_1_a.tif"))
		assert.FileExists(t, filepath.Join(l.DeconvChannelDir(layout.ChannelGreen), "MAPK1_rep1_B2AI_1_a_g.tif"))
		assert.FileExists(t, filepath.Join(l.ProjectionChannelDir(layout.ChannelBlue), "MAPK1_rep1_B2AI_1_a_blue.jpg"))
		assert.FileExists(t, filepath.Join(l.ProjectionChannelDir(layout.ChannelGreen), "MAPK1_rep1_B2AI_1_a_g_green.jpg"))

		attrs, err := os.ReadFile(l.NodeAttributesFile())
		require.NoError(t, err)
		assert.Equal(t, "name\tfilename\nMAPK1\tMAPK1_rep1_B2AI_1_a_\n", string(attrs))

		emb, err := os.ReadFile(l.ImageEmbeddingFile())
		require.NoError(t, err)
		assert.Equal(t, "MAPK1_rep1_B2AI_1_a\t2\t3\n", string(emb))

		assert.NoDirExists(t, l.HierarchyDir())
	})

	t.Run("provenance written once", func(t *testing.T) {
		starts, _ := filepath.Glob(filepath.Join(l.Root, "task_*_start.json"))
		finishes, _ := filepath.Glob(filepath.Join(l.Root, "task_*_finish.json"))
		require.Len(t, starts, 1)
		require.Len(t, finishes, 1)

		start, err := provenance.ReadStart(starts[0])
		require.NoError(t, err)
		assert.Equal(t, "run-1234", start.RunID)
		assert.Equal(t, "test", start.Version)

		finish, err := provenance.ReadFinish(finishes[0])
		require.NoError(t, err)
		assert.Equal(t, 0, finish.Status)
	})

	t.Run("run state and logs", func(t *testing.T) {
		m, ok, err := runstate.ReadMarker(l.Root)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, runstate.StateCompleted, m.State)
		assert.Equal(t, StageCoEmbedding, m.Stage)
		assert.Equal(t, runstate.StateCompleted, reg.last().State)

		assert.FileExists(t, filepath.Join(l.Root, "output.log"))
		assert.FileExists(t, filepath.Join(l.Root, "error.log"))
		assert.FileExists(t, filepath.Join(l.Root, "metrics.prom"))
	})

	t.Run("progress events", func(t *testing.T) {
		require.Len(t, progress.events, 2*len(Stages(false)))
		for i, stage := range Stages(false) {
			assert.Equal(t, progressEvent{"step", stage}, progress.events[2*i])
			assert.Equal(t, progressEvent{"done", stage}, progress.events[2*i+1])
		}
	})
}

func TestRun_ExitCodePassthrough(t *testing.T) {
	settings := testSettings(t)
	settings.ExitCode = 3
	r := newRunner(t, settings, Dependencies{Runner: newRecorder()})

	status, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status)

	finish, err := provenance.ReadFinish(filepath.Join(r.Layout().Root, provenance.FinishFileName(fixedStart)))
	require.NoError(t, err)
	assert.Equal(t, 3, finish.Status)
}

func TestRun_GenerateHierarchy(t *testing.T) {
	settings := testSettings(t)
	settings.GenerateHierarchy = true
	rec := newRecorder()
	r := newRunner(t, settings, Dependencies{Runner: rec})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	names := rec.Names()
	assert.Equal(t, []string{tool.NameHierarchy, tool.NameHierarchyEval}, names[len(names)-2:])

	hier := rec.CallsFor(tool.NameHierarchy)
	require.Len(t, hier, 1)
	assert.Equal(t, []string{r.Layout().HierarchyDir(), "--coembedding_dirs", r.Layout().CoEmbeddingDir()}, hier[0].Args)
}

func TestRun_OutputExists(t *testing.T) {
	settings := testSettings(t)
	require.NoError(t, os.MkdirAll(settings.OutDir, 0755))
	rec := newRecorder()
	r := newRunner(t, settings, Dependencies{Runner: rec})

	status, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutputExists)
	assert.Equal(t, config.FailureExitCode, status)
	assert.Empty(t, rec.Calls())

	entries, err := os.ReadDir(settings.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a rejected run must not write into the existing directory")
}

func TestRun_OutputExistsDescribesPreviousRun(t *testing.T) {
	settings := testSettings(t)
	first := newRunner(t, settings, Dependencies{Runner: newRecorder()})
	_, err := first.Run(context.Background())
	require.NoError(t, err)

	second := newRunner(t, settings, Dependencies{Runner: newRecorder()})
	_, err = second.Run(context.Background())
	require.ErrorIs(t, err, ErrOutputExists)
	assert.Contains(t, err.Error(), "run-1234")
}

func TestCreateRoot(t *testing.T) {
	base := t.TempDir()

	t.Run("creates missing parents", func(t *testing.T) {
		root := filepath.Join(base, "a", "b", "out")
		require.NoError(t, createRoot(root))
		assert.DirExists(t, root)
		assert.ErrorIs(t, createRoot(root), ErrOutputExists)
	})

	t.Run("a file in the way", func(t *testing.T) {
		root := filepath.Join(base, "file")
		require.NoError(t, os.WriteFile(root, nil, 0644))
		assert.ErrorIs(t, createRoot(root), ErrOutputExists)
	})

	t.Run("one of several concurrent runs wins", func(t *testing.T) {
		root := filepath.Join(base, "contended")
		const runs = 16

		var wg sync.WaitGroup
		errs := make([]error, runs)
		for i := 0; i < runs; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = createRoot(root)
			}(i)
		}
		wg.Wait()

		created := 0
		for _, err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, ErrOutputExists)
		}
		assert.Equal(t, 1, created)
	})
}

func TestRun_ToolFailure(t *testing.T) {
	settings := testSettings(t)
	rec := newRecorder().On(tool.NameDeconvolution, func(tool.Invocation) error {
		return errors.New("cannot read image")
	})
	reg := &memRegistry{}
	progress := &recordingProgress{}
	r := newRunner(t, settings, Dependencies{Runner: rec, Registry: reg, Progress: progress})

	status, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, config.FailureExitCode, status)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDeconvolution, stageErr.Stage)
	assert.ErrorIs(t, err, tool.ErrToolFailed)
	assert.Contains(t, err.Error(), "cannot read image")

	assert.Empty(t, rec.CallsFor(tool.NameImageEmbedding))
	assert.Equal(t, progressEvent{"failed", StageDeconvolution}, progress.events[len(progress.events)-1])

	root := r.Layout().Root
	finish, err := provenance.ReadFinish(filepath.Join(root, provenance.FinishFileName(fixedStart)))
	require.NoError(t, err)
	assert.Equal(t, config.FailureExitCode, finish.Status)

	starts, _ := filepath.Glob(filepath.Join(root, "task_*_start.json"))
	assert.Len(t, starts, 1)

	m, _, err := runstate.ReadMarker(root)
	require.NoError(t, err)
	assert.Equal(t, runstate.StateFailed, m.State)
	assert.Equal(t, StageDeconvolution, m.Stage)
	assert.Equal(t, runstate.StateFailed, reg.last().State)

	errLog, err := os.ReadFile(filepath.Join(root, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "stage failed")
}

func TestRun_UntracedImage(t *testing.T) {
	tests := []struct {
		name    string
		rename  func(base string) string
		wantMsg string
	}{
		{
			name:    "unknown gene",
			rename:  func(base string) string { return "GHOST_" + base },
			wantMsg: "GHOST/GHOST_MAPK1_rep1_B2AI_1_a",
		},
		{
			name:    "known gene from another source",
			rename:  func(base string) string { return strings.Replace(base, "_rep1_", "_rep9_", 1) },
			wantMsg: "MAPK1/MAPK1_rep9_B2AI_1_a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(t)
			projector := &fileProjector{rename: func(dst string) string {
				return filepath.Join(filepath.Dir(dst), tt.rename(filepath.Base(dst)))
			}}
			rec := newRecorder()
			r := newRunner(t, settings, Dependencies{Runner: rec, Projector: projector})

			status, err := r.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, config.FailureExitCode, status)
			assert.ErrorIs(t, err, ErrUntracedImage)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, rec.CallsFor(tool.NameImageEmbedding))
		})
	}
}

func TestRun_MissingEmbeddingOutput(t *testing.T) {
	settings := testSettings(t)
	rec := newRecorder().On(tool.NameImageEmbedding, mkdirFirstArg)
	r := newRunner(t, settings, Dependencies{Runner: rec})

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, layout.ErrNotPopulated)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEmbeddingReconciliation, stageErr.Stage)
}

func TestRun_MissingPSFForMetadataChannel(t *testing.T) {
	settings := testSettings(t)
	setup, err := config.NewMicroscopeSetup(1.33, 1.4, map[layout.Channel]int{layout.ChannelBlue: 461}, 65, 250, 4)
	require.NoError(t, err)
	settings.Setup = setup
	rec := newRecorder()
	r := newRunner(t, settings, Dependencies{Runner: rec})

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, layout.ErrNotPopulated)
	assert.Contains(t, err.Error(), "no PSF for channel green")
	assert.Empty(t, rec.CallsFor(tool.NameDeconvolution))
}

func TestRun_SkipLogging(t *testing.T) {
	settings := testSettings(t)
	settings.SkipLogging = true
	r := newRunner(t, settings, Dependencies{Runner: newRecorder()})

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(r.Layout().Root, "output.log"))
	assert.NoFileExists(t, filepath.Join(r.Layout().Root, "error.log"))
}

func TestRun_Cancelled(t *testing.T) {
	settings := testSettings(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRunner(t, settings, Dependencies{Runner: newRecorder()})

	status, err := r.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, config.FailureExitCode, status)

	finish, err := provenance.ReadFinish(filepath.Join(r.Layout().Root, provenance.FinishFileName(fixedStart)))
	require.NoError(t, err)
	assert.Equal(t, config.FailureExitCode, finish.Status)
}

func TestNew(t *testing.T) {
	settings := testSettings(t)

	_, err := New(settings, Dependencies{Projector: &fileProjector{}})
	assert.ErrorContains(t, err, "tool runner is required")

	_, err = New(settings, Dependencies{Runner: tooltest.New()})
	assert.ErrorContains(t, err, "projector is required")

	bad := settings
	bad.OutDir = ""
	_, err = New(bad, Dependencies{Runner: tooltest.New(), Projector: &fileProjector{}})
	assert.ErrorContains(t, err, "output directory is required")

	rel := settings
	rel.ImageMeta = "relative/meta.tsv"
	r, err := New(rel, Dependencies{Runner: tooltest.New(), Projector: &fileProjector{}})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(r.settings.ImageMeta))
	assert.True(t, strings.HasSuffix(r.settings.ImageMeta, filepath.Join("relative", "meta.tsv")))
	assert.NotEmpty(t, r.RunID())
}

func TestStages(t *testing.T) {
	assert.Len(t, Stages(false), 8)
	assert.Equal(t, []string{StageHierarchy, StageHierarchyEval}, Stages(true)[8:])
}
