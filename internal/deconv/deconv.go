// Package deconv runs deconwolf over every row of the image metadata table and
// moves its artifacts into the run tree.
package deconv

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/logging"
	"github.com/dyluth/hitmap/internal/meta"
	"github.com/dyluth/hitmap/internal/tool"
)

// LogSuffix is appended by deconwolf to its output image name for the run log.
const LogSuffix = ".log.txt"

// RelocationError reports a deconwolf artifact that was not where the row says it should be.
type RelocationError struct {
	Row      meta.Row
	Expected string
	Err      error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("failed to relocate output of metadata line %d (%s): expected %s: %v",
		e.Row.Line, e.Row.FileDirectory, e.Expected, e.Err)
}

func (e *RelocationError) Unwrap() error { return e.Err }

// Result records where one row's artifacts ended up.
type Result struct {
	Key   meta.ImageKey
	Image string
	Log   string
}

// Stage deconvolves raw images. Rows are processed in table order and the first
// failing row aborts the stage.
type Stage struct {
	Runner     tool.Runner
	Binary     string
	Layout     layout.Layout
	PSigma     float64
	Iterations int
	Logger     *logging.Logger
}

// Args builds the deconwolf argument list for one row.
func (s *Stage) Args(row meta.Row, psf string) []string {
	return []string{
		"--iter", strconv.Itoa(s.Iterations),
		"--psigma", strconv.FormatFloat(s.PSigma, 'g', -1, 64),
		"--prefix", row.SavePrefix,
		row.FileDirectory,
		psf,
	}
}

// Run deconvolves every row against its channel's PSF.
func (s *Stage) Run(ctx context.Context, rows []meta.Row, psfs map[layout.Channel]string) ([]Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	if err := layout.EnsureChannelDirs(s.Layout.DeconvImagesDir()); err != nil {
		return nil, err
	}
	if err := layout.EnsureDir(s.Layout.DeconvLogsDir()); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		psf, ok := psfs[row.Channel]
		if !ok {
			return nil, fmt.Errorf("metadata line %d: no PSF generated for channel %s", row.Line, row.Channel)
		}

		image, err := filepath.Abs(row.FileDirectory)
		if err != nil {
			return nil, fmt.Errorf("metadata line %d: failed to resolve %s: %w", row.Line, row.FileDirectory, err)
		}
		row.FileDirectory = image

		srcDir := filepath.Dir(image)
		inv := tool.Invocation{
			Name:   tool.NameDeconvolution,
			Binary: s.Binary,
			Args:   s.Args(row, psf),
			Dir:    srcDir,
			Paths:  []string{srcDir, filepath.Dir(psf)},
		}
		if _, err := s.Runner.Run(ctx, inv); err != nil {
			return nil, fmt.Errorf("failed to deconvolve metadata line %d (%s): %w", row.Line, row.FileDirectory, err)
		}

		res, err := s.relocate(row)
		if err != nil {
			return nil, err
		}
		logger.WithChannel(row.Channel.String()).Debug("deconvolved image", "image", res.Image, "gene", res.Key.Gene)
		results = append(results, res)
	}

	for _, c := range layout.Channels() {
		n, err := layout.CountEntries(s.Layout.DeconvChannelDir(c))
		if err != nil {
			return nil, err
		}
		logger.WithChannel(c.String()).Info("deconvolved images", "dir", s.Layout.DeconvChannelDir(c), "count", n)
	}
	return results, nil
}

// relocate moves the image and its log from next to the source image into the run tree.
func (s *Stage) relocate(row meta.Row) (Result, error) {
	name := row.OutputName()
	srcImage := filepath.Join(filepath.Dir(row.FileDirectory), name)
	srcLog := srcImage + LogSuffix

	dstImage := filepath.Join(s.Layout.DeconvChannelDir(row.Channel), name)
	dstLog := filepath.Join(s.Layout.DeconvLogsDir(), fmt.Sprintf("%s_%s%s", row.Channel, name, LogSuffix))

	if err := moveFile(srcImage, dstImage); err != nil {
		return Result{}, &RelocationError{Row: row, Expected: srcImage, Err: err}
	}
	if err := moveFile(srcLog, dstLog); err != nil {
		return Result{}, &RelocationError{Row: row, Expected: srcLog, Err: err}
	}
	return Result{Key: row.Key(), Image: dstImage, Log: dstLog}, nil
}
