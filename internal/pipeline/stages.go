package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/dyluth/hitmap/internal/deconv"
	"github.com/dyluth/hitmap/internal/embedding"
	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/meta"
	"github.com/dyluth/hitmap/internal/nodeattr"
	"github.com/dyluth/hitmap/internal/projection"
	"github.com/dyluth/hitmap/internal/psf"
)

// Stage names, in execution order
const (
	StagePSF                     = "psf"
	StageDeconvolution           = "deconvolution"
	StageProjection              = "projection"
	StageNodeAttributes          = "node_attributes"
	StageImageEmbedding          = "image_embedding"
	StageEmbeddingReconciliation = "embedding_reconciliation"
	StagePPIEmbedding            = "ppi_embedding"
	StageCoEmbedding             = "co_embedding"
	StageHierarchy               = "hierarchy"
	StageHierarchyEval           = "hierarchy_eval"
)

// Stages lists the stages a run executes.
func Stages(generateHierarchy bool) []string {
	names := []string{
		StagePSF,
		StageDeconvolution,
		StageProjection,
		StageNodeAttributes,
		StageImageEmbedding,
		StageEmbeddingReconciliation,
		StagePPIEmbedding,
		StageCoEmbedding,
	}
	if generateHierarchy {
		names = append(names, StageHierarchy, StageHierarchyEval)
	}
	return names
}

type stageFunc func(ctx context.Context) error

func (r *Runner) stageFuncs() map[string]stageFunc {
	return map[string]stageFunc{
		StagePSF:                     r.runPSF,
		StageDeconvolution:           r.runDeconvolution,
		StageProjection:              r.runProjection,
		StageNodeAttributes:          r.runNodeAttributes,
		StageImageEmbedding:          r.runImageEmbedding,
		StageEmbeddingReconciliation: r.runReconciliation,
		StagePPIEmbedding:            r.runPPIEmbedding,
		StageCoEmbedding:             r.runCoEmbedding,
		StageHierarchy:               r.runHierarchy,
		StageHierarchyEval:           r.runHierarchyEval,
	}
}

func (r *Runner) runPSF(ctx context.Context) error {
	paths, err := psf.Generate(ctx, r.deps.Runner, r.settings.Setup, r.settings.Tools.Binaries.PSF,
		r.layout.PSFDir(), r.logger.WithStage(StagePSF))
	if err != nil {
		return err
	}
	r.psfs = paths
	return nil
}

// runDeconvolution loads the metadata table, checks that every channel it uses
// has a PSF on disk and deconvolves each row.
func (r *Runner) runDeconvolution(ctx context.Context) error {
	rows, err := meta.Load(r.settings.ImageMeta)
	if err != nil {
		return err
	}
	for _, c := range meta.Channels(rows) {
		if err := layout.RequireFile(r.layout.PSFFile(c)); err != nil {
			return fmt.Errorf("no PSF for channel %s: %w", c, err)
		}
	}

	stage := &deconv.Stage{
		Runner:     r.deps.Runner,
		Binary:     r.settings.Tools.Binaries.Deconvolution,
		Layout:     r.layout,
		PSigma:     r.settings.PSigma,
		Iterations: r.settings.Tools.Deconvolution.Iterations,
		Logger:     r.logger.WithStage(StageDeconvolution),
	}
	results, err := stage.Run(ctx, rows, r.psfs)
	if err != nil {
		return err
	}

	r.keys = make([]meta.ImageKey, len(results))
	for i, res := range results {
		r.keys[i] = res.Key
	}
	return r.recordItems(StageDeconvolution, r.layout.DeconvChannelDir)
}

func (r *Runner) runProjection(ctx context.Context) error {
	total := 0
	for _, c := range layout.Channels() {
		n, err := layout.CountEntries(r.layout.DeconvChannelDir(c))
		if err != nil {
			return err
		}
		total += n
	}
	if total == 0 {
		return fmt.Errorf("%w: no deconvolved images under %s", layout.ErrNotPopulated, r.layout.DeconvImagesDir())
	}

	if err := layout.EnsureDir(r.layout.ProjectionDir()); err != nil {
		return err
	}
	stage := &projection.Stage{
		Projector: r.deps.Projector,
		Options:   projection.OptionsFrom(r.settings.Tools.Projection),
		Logger:    r.logger.WithStage(StageProjection),
	}
	for _, c := range layout.Channels() {
		if _, err := stage.Run(ctx, c, r.layout.DeconvChannelDir(c), r.layout.ProjectionChannelDir(c)); err != nil {
			return err
		}
	}
	return r.recordItems(StageProjection, r.layout.ProjectionChannelDir)
}

// runNodeAttributes builds the table from the nucleus channel and checks that
// every row of it derives from a deconvolved metadata row.
func (r *Runner) runNodeAttributes(_ context.Context) error {
	blue := r.layout.ProjectionChannelDir(layout.ChannelBlue)
	if err := layout.RequirePopulated(blue); err != nil {
		return err
	}

	table, err := nodeattr.Build(blue, r.layout.NodeAttributesFile())
	if err != nil {
		return err
	}

	known := make(map[meta.ImageKey]bool, len(r.keys))
	for _, k := range r.keys {
		known[k] = true
	}
	var untraced []string
	for _, e := range table {
		if !known[e.Key] {
			untraced = append(untraced, e.Key.String())
		}
	}
	if len(untraced) > 0 {
		sort.Strings(untraced)
		return fmt.Errorf("%w: %v", ErrUntracedImage, untraced)
	}

	r.logger.WithStage(StageNodeAttributes).Info("wrote node attribute table",
		"path", r.layout.NodeAttributesFile(), "rows", len(table))
	return nil
}

func (r *Runner) runImageEmbedding(ctx context.Context) error {
	if err := layout.EnsureDir(r.layout.EmbeddingDir()); err != nil {
		return err
	}
	return r.adapters.ImageEmbedding(ctx, r.layout.ImageEmbeddingDir(), r.layout.ProjectionDir(), r.settings.ProvenanceImage)
}

func (r *Runner) runReconciliation(_ context.Context) error {
	path := r.layout.ImageEmbeddingFile()
	if err := layout.RequireFile(path); err != nil {
		return err
	}
	n, err := embedding.Reconcile(path)
	if err != nil {
		return err
	}
	r.logger.WithStage(StageEmbeddingReconciliation).Info("reconciled image embedding", "path", path, "rows", n)
	return nil
}

func (r *Runner) runPPIEmbedding(ctx context.Context) error {
	return r.adapters.PPIEmbedding(ctx, r.layout.PPIEmbeddingDir(), r.settings.PPIDir, r.settings.ProvenancePPI)
}

func (r *Runner) runCoEmbedding(ctx context.Context) error {
	if err := layout.RequireDir(r.layout.ImageEmbeddingDir()); err != nil {
		return err
	}
	if err := layout.RequireDir(r.layout.PPIEmbeddingDir()); err != nil {
		return err
	}
	return r.adapters.CoEmbedding(ctx, r.layout.CoEmbeddingDir(), r.layout.ImageEmbeddingDir(), r.layout.PPIEmbeddingDir())
}

func (r *Runner) runHierarchy(ctx context.Context) error {
	if err := layout.RequireDir(r.layout.CoEmbeddingDir()); err != nil {
		return err
	}
	return r.adapters.Hierarchy(ctx, r.layout.HierarchyDir(), r.layout.CoEmbeddingDir())
}

func (r *Runner) runHierarchyEval(ctx context.Context) error {
	if err := layout.RequireDir(r.layout.HierarchyDir()); err != nil {
		return err
	}
	return r.adapters.HierarchyEval(ctx, r.layout.HierarchyEvalDir(), r.layout.HierarchyDir())
}

// recordItems logs and records the number of files per channel directory.
func (r *Runner) recordItems(stage string, dir func(layout.Channel) string) error {
	logger := r.logger.WithStage(stage)
	for _, c := range layout.Channels() {
		n, err := layout.CountEntries(dir(c))
		if err != nil {
			return err
		}
		r.metrics.SetItems(stage, c.String(), n)
		logger.Info("channel output", "channel", c.String(), "count", n)
	}
	return nil
}
