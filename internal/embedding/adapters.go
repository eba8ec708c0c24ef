package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dyluth/hitmap/internal/config"
	"github.com/dyluth/hitmap/internal/logging"
	"github.com/dyluth/hitmap/internal/tool"
)

// Adapters invoke the cellmaps tools. Each takes its output directory as the
// first positional argument and creates it itself, so callers must not.
// Only the exit status is checked; outputs are validated by whichever stage
// consumes them.
type Adapters struct {
	Runner     tool.Runner
	Binaries   config.BinariesConfig
	Dimensions config.EmbeddingConfig
	Logger     *logging.Logger
}

// ImageEmbedding embeds the projected images of inputDir.
func (a *Adapters) ImageEmbedding(ctx context.Context, outDir, inputDir, provenance string) error {
	args := []string{outDir, "--inputdir", inputDir}
	args = appendProvenance(args, provenance)
	args = appendDimensions(args, a.Dimensions.ImageDimensions)
	return a.run(ctx, tool.NameImageEmbedding, a.Binaries.ImageEmbedding, args, outDir, inputDir, provenanceDir(provenance))
}

// PPIEmbedding embeds the protein interaction network found in ppiDir.
func (a *Adapters) PPIEmbedding(ctx context.Context, outDir, ppiDir, provenance string) error {
	args := []string{outDir, "--inputdir", ppiDir}
	args = appendProvenance(args, provenance)
	args = appendDimensions(args, a.Dimensions.PPIDimensions)
	return a.run(ctx, tool.NamePPIEmbedding, a.Binaries.PPIEmbedding, args, outDir, ppiDir, provenanceDir(provenance))
}

// CoEmbedding fuses the image and PPI embeddings.
func (a *Adapters) CoEmbedding(ctx context.Context, outDir, imageDir, ppiDir string) error {
	args := []string{outDir, "--embeddings", imageDir, ppiDir}
	args = appendDimensions(args, a.Dimensions.CoDimensions)
	return a.run(ctx, tool.NameCoEmbedding, a.Binaries.CoEmbedding, args, outDir, imageDir, ppiDir)
}

// Hierarchy builds the hierarchy from the co-embedding.
func (a *Adapters) Hierarchy(ctx context.Context, outDir, coEmbeddingDir string) error {
	args := []string{outDir, "--coembedding_dirs", coEmbeddingDir}
	return a.run(ctx, tool.NameHierarchy, a.Binaries.Hierarchy, args, outDir, coEmbeddingDir)
}

// HierarchyEval evaluates the generated hierarchy.
func (a *Adapters) HierarchyEval(ctx context.Context, outDir, hierarchyDir string) error {
	args := []string{outDir, "--hierarchy_dir", hierarchyDir}
	return a.run(ctx, tool.NameHierarchyEval, a.Binaries.HierarchyEval, args, outDir, hierarchyDir)
}

// run mounts the parent of outDir, which exists, rather than outDir, which the tool creates.
func (a *Adapters) run(ctx context.Context, name, binary string, args []string, outDir string, inputs ...string) error {
	paths := []string{filepath.Dir(outDir)}
	for _, in := range inputs {
		if in != "" {
			paths = append(paths, in)
		}
	}

	inv := tool.Invocation{Name: name, Binary: binary, Args: args, Paths: paths}
	res, err := a.Runner.Run(ctx, inv)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	if a.Logger != nil {
		a.Logger.Debug("tool finished", "tool", name, "out", outDir, "duration", res.Duration)
	}
	return nil
}

func appendProvenance(args []string, provenance string) []string {
	if provenance == "" {
		return args
	}
	return append(args, "--provenance", provenance)
}

func appendDimensions(args []string, k int) []string {
	if k <= 0 {
		return args
	}
	return append(args, "--k", strconv.Itoa(k))
}

func provenanceDir(provenance string) string {
	if provenance == "" {
		return ""
	}
	abs, err := filepath.Abs(provenance)
	if err != nil {
		return ""
	}
	return filepath.Dir(abs)
}
