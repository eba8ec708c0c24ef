// Package pipeline runs the HIT-MAP stages in order against one output root.
//
// A run owns its output root: the directory must not exist when the run starts,
// and every artifact, log, marker and provenance record is written beneath it.
// Stages communicate only through that tree, so each stage checks the outputs
// of its predecessors before doing any work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dyluth/hitmap/internal/config"
	"github.com/dyluth/hitmap/internal/embedding"
	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/logging"
	"github.com/dyluth/hitmap/internal/meta"
	"github.com/dyluth/hitmap/internal/metrics"
	"github.com/dyluth/hitmap/internal/projection"
	"github.com/dyluth/hitmap/internal/provenance"
	"github.com/dyluth/hitmap/internal/runstate"
	"github.com/dyluth/hitmap/internal/tool"
	"github.com/google/uuid"
)

// Progress receives stage transitions for display.
type Progress interface {
	Step(stage string)
	StageDone(stage string, d time.Duration)
	StageFailed(stage string, d time.Duration)
}

type nopProgress struct{}

func (nopProgress) Step(string)                      {}
func (nopProgress) StageDone(string, time.Duration)   {}
func (nopProgress) StageFailed(string, time.Duration) {}

// Dependencies are the collaborators a run is built from. Runner and Projector
// are required; the rest fall back to no-op implementations.
type Dependencies struct {
	Runner    tool.Runner
	Projector projection.Projector
	Registry  runstate.Registry
	Logger    *logging.Logger
	Progress  Progress
}

// Option customises a Runner.
type Option func(*Runner)

// WithClock replaces the wall clock used for provenance timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithoutMetricsFile disables writing metrics.prom into the output root.
func WithoutMetricsFile() Option {
	return func(r *Runner) { r.metricsFile = false }
}

// Runner executes one pipeline run. It is not reusable.
type Runner struct {
	settings config.Settings
	deps     Dependencies
	layout   layout.Layout
	logger   *logging.Logger
	adapters *embedding.Adapters
	metrics  *metrics.PrometheusRecorder

	now         func() time.Time
	runID       string
	metricsFile bool

	// filled in as stages complete
	psfs map[layout.Channel]string
	keys []meta.ImageKey
}

// New validates settings and assembles a Runner. Relative input paths are
// resolved against the working directory so that tools run elsewhere, or in a
// container, see the same files.
func New(settings config.Settings, deps Dependencies, opts ...Option) (*Runner, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("a tool runner is required")
	}
	if deps.Projector == nil {
		return nil, fmt.Errorf("a projector is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := absolutize(&settings); err != nil {
		return nil, err
	}

	l, err := layout.New(settings.OutDir)
	if err != nil {
		return nil, err
	}

	if deps.Registry == nil {
		deps.Registry = runstate.NopRegistry{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Progress == nil {
		deps.Progress = nopProgress{}
	}

	r := &Runner{
		settings:    settings,
		deps:        deps,
		layout:      l,
		logger:      deps.Logger,
		now:         time.Now,
		metricsFile: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.New().String()
	}

	r.metrics = metrics.NewPrometheusRecorder(r.runID)
	r.adapters = &embedding.Adapters{
		Runner:     deps.Runner,
		Binaries:   settings.Tools.Binaries,
		Dimensions: settings.Tools.Embedding,
		Logger:     r.logger,
	}
	return r, nil
}

func absolutize(s *config.Settings) error {
	for _, p := range []*string{&s.OutDir, &s.ImageMeta, &s.PPIDir, &s.ProvenanceImage, &s.ProvenancePPI, &s.Provenance} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string { return r.runID }

// Layout returns the output tree of this run.
func (r *Runner) Layout() layout.Layout { return r.layout }

// Metrics exposes the run's metric registry.
func (r *Runner) Metrics() *metrics.PrometheusRecorder { return r.metrics }

// Run executes every stage. On success it returns the configured exit code. Once
// the output root has been created, any failure yields FailureExitCode together
// with the error, and the finish record is written either way.
func (r *Runner) Run(ctx context.Context) (status int, err error) {
	root := r.layout.Root

	if err := createRoot(root); err != nil {
		return config.FailureExitCode, err
	}

	start := r.now()
	host, _ := os.Hostname()
	marker := runstate.Marker{
		RunID:     r.runID,
		State:     runstate.StateRunning,
		OutDir:    root,
		Host:      host,
		PID:       os.Getpid(),
		StartedAt: start,
		UpdatedAt: start,
	}

	defer func() {
		status, err = r.finish(ctx, marker, start, err)
	}()

	if !r.settings.SkipLogging {
		if err := r.logger.AttachRunFiles(root); err != nil {
			return config.FailureExitCode, err
		}
	}
	r.updateMarker(ctx, &marker)
	if _, err := provenance.WriteStart(root, start, r.settings.Version, r.runID, r.settings.Inputs); err != nil {
		return config.FailureExitCode, err
	}
	r.logger.Info("run started", "run_id", r.runID, "outdir", root)

	if err := r.runStages(ctx, &marker); err != nil {
		return config.FailureExitCode, err
	}
	return r.settings.ExitCode, nil
}

// createRoot creates the output root and fails with ErrOutputExists if anything
// is already there. Of several runs racing for one root, exactly one succeeds.
func createRoot(root string) error {
	if err := layout.EnsureDir(filepath.Dir(root)); err != nil {
		return err
	}
	err := os.Mkdir(root, 0755)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s (%s)", ErrOutputExists, root, runstate.Describe(root))
	}
	if err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", root, err)
	}
	return nil
}

func (r *Runner) runStages(ctx context.Context, marker *runstate.Marker) error {
	funcs := r.stageFuncs()
	for _, name := range Stages(r.settings.GenerateHierarchy) {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: name, Err: err}
		}

		marker.Stage = name
		r.updateMarker(ctx, marker)
		r.deps.Progress.Step(name)
		r.logger.WithStage(name).Info("stage started")

		begin := time.Now()
		err := funcs[name](ctx)
		elapsed := time.Since(begin)
		r.metrics.Observe(name, err == nil, elapsed)

		if err != nil {
			r.deps.Progress.StageFailed(name, elapsed)
			r.logger.WithStage(name).Error("stage failed", "error", err, "duration", elapsed)
			return &StageError{Stage: name, Err: err}
		}
		r.deps.Progress.StageDone(name, elapsed)
		r.logger.WithStage(name).Info("stage completed", "duration", elapsed)
	}
	return nil
}

// finish writes the finish record, the final marker and the metrics file. A
// failure to record the finish turns a successful run into a failed one.
func (r *Runner) finish(ctx context.Context, marker runstate.Marker, start time.Time, runErr error) (int, error) {
	status := r.settings.ExitCode
	if runErr != nil {
		status = config.FailureExitCode
	}
	end := r.now()
	root := r.layout.Root

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if _, err := provenance.WriteFinish(root, start, end, status, r.runID); err != nil {
		errs = append(errs, err)
		status = config.FailureExitCode
	}

	marker.State = runstate.StateCompleted
	if len(errs) > 0 {
		marker.State = runstate.StateFailed
	}
	r.updateMarker(context.WithoutCancel(ctx), &marker)

	r.metrics.SetRunStatus(status)
	if r.metricsFile {
		if err := r.metrics.WriteTextfile(filepath.Join(root, metrics.TextfileName)); err != nil {
			r.logger.Warn("failed to write metrics file", "error", err)
		}
	}

	if len(errs) == 0 {
		r.logger.Info("run completed", "run_id", r.runID, "status", status, "elapsed", end.Sub(start))
	} else {
		r.logger.Error("run failed", "run_id", r.runID, "status", status, "error", errors.Join(errs...))
	}
	if err := r.logger.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return config.FailureExitCode, errors.Join(errs...)
	}
	return status, nil
}

// updateMarker persists the marker locally and in the registry. Neither is
// allowed to fail the run.
func (r *Runner) updateMarker(ctx context.Context, m *runstate.Marker) {
	m.UpdatedAt = r.now()
	if err := runstate.WriteMarker(r.layout.Root, *m); err != nil {
		r.logger.Warn("failed to write run marker", "error", err)
	}
	if err := r.deps.Registry.Record(ctx, *m); err != nil {
		r.logger.Warn("failed to record run in registry", "error", err)
	}
}
