// Package projection collapses deconvolved 3-D stacks into enhanced 2-D images.
package projection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/hitmap/internal/config"
	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/logging"
)

// Options tune one projection.
type Options struct {
	// DX and DZ are the pixel size and plane spacing multipliers of the stack.
	// A maximum projection does not depend on them; they are carried for the record.
	DX float64
	DZ float64

	// ClipLimit and TileGrid parameterise adaptive histogram equalisation
	ClipLimit float64
	TileGrid  int
}

// OptionsFrom derives projection options from the tools configuration.
func OptionsFrom(cfg config.ProjectionConfig) Options {
	return Options{DX: cfg.DX, DZ: cfg.DZ, ClipLimit: cfg.ClipLimit, TileGrid: config.DefaultTileGrid}
}

// Projector turns one multi-page stack into one 8-bit image.
type Projector interface {
	Project(src, dst string, opts Options) error
}

// SuffixError reports a file in a channel directory that is not a 3-D stack.
type SuffixError struct {
	Path   string
	Suffix string
}

func (e *SuffixError) Error() string {
	return fmt.Sprintf("expected %s images, but got %q: %s", layout.DeconvolvedTIFFSuffix, e.Suffix, e.Path)
}

// OutputName derives the projected image name: the stack name without its
// suffix, followed by the channel.
func OutputName(stack string, c layout.Channel) string {
	stem := strings.TrimSuffix(stack, layout.DeconvolvedTIFFSuffix)
	return fmt.Sprintf("%s_%s%s", stem, c, layout.ProjectedImageSuffix)
}

// Stage projects every stack of a channel directory.
type Stage struct {
	Projector Projector
	Options   Options
	Logger    *logging.Logger
}

// Run projects srcDir into dstDir and returns the written paths in listing order.
// Every entry of srcDir is checked before anything is written, so a stray file
// leaves dstDir untouched.
func (s *Stage) Run(ctx context.Context, c layout.Channel, srcDir, dstDir string) ([]string, error) {
	logger := s.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithChannel(c.String())

	if err := layout.RequireDir(srcDir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", srcDir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), layout.DeconvolvedTIFFSuffix) {
			return nil, &SuffixError{Path: filepath.Join(srcDir, e.Name()), Suffix: filepath.Ext(e.Name())}
		}
	}

	if err := layout.EnsureDir(dstDir); err != nil {
		return nil, err
	}

	written := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		src := filepath.Join(srcDir, e.Name())
		dst := filepath.Join(dstDir, OutputName(e.Name(), c))
		if err := s.Projector.Project(src, dst, s.Options); err != nil {
			return written, fmt.Errorf("failed to project %s: %w", src, err)
		}
		written = append(written, dst)
	}

	logger.Info("projected images", "dir", dstDir, "count", len(written),
		"dx", s.Options.DX, "dz", s.Options.DZ, "clip_limit", s.Options.ClipLimit)
	return written, nil
}
