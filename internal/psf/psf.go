// Package psf generates the theoretical point-spread function of every channel.
package psf

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dyluth/hitmap/internal/config"
	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/logging"
	"github.com/dyluth/hitmap/internal/tool"
)

// FileName is the PSF file written for a channel.
func FileName(c layout.Channel) string {
	return fmt.Sprintf("%s_psf.tiff", c)
}

// Args builds the dw_bw argument list for one channel.
func Args(setup config.MicroscopeSetup, c layout.Channel, out string) ([]string, error) {
	lambda, ok := setup.Wavelength(c)
	if !ok {
		return nil, fmt.Errorf("no wavelength configured for channel %s", c)
	}
	return []string{
		"--ni", strconv.FormatFloat(setup.NI(), 'g', -1, 64),
		"--NA", strconv.FormatFloat(setup.NA(), 'g', -1, 64),
		"--lambda", strconv.Itoa(lambda),
		"--resxy", strconv.Itoa(setup.ResXY()),
		"--resz", strconv.Itoa(setup.ResZ()),
		"--threads", strconv.Itoa(setup.Threads()),
		out,
	}, nil
}

// Generate runs the PSF tool once per channel of the setup's wavelength map, in
// canonical channel order, writing <dir>/<channel>_psf.tiff. The first failure
// stops generation and names the channel.
func Generate(ctx context.Context, runner tool.Runner, setup config.MicroscopeSetup, binary, dir string, logger *logging.Logger) (map[layout.Channel]string, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := layout.EnsureDir(dir); err != nil {
		return nil, err
	}

	paths := make(map[layout.Channel]string)
	for _, c := range setup.Channels() {
		out := filepath.Join(dir, FileName(c))
		args, err := Args(setup, c, out)
		if err != nil {
			return nil, err
		}

		inv := tool.Invocation{
			Name:   tool.NamePSF,
			Binary: binary,
			Args:   args,
			Paths:  []string{dir},
		}
		if _, err := runner.Run(ctx, inv); err != nil {
			return nil, fmt.Errorf("failed to generate PSF for channel %s: %w", c, err)
		}

		logger.WithChannel(c.String()).Info("generated theoretical PSF", "path", out)
		paths[c] = out
	}
	return paths, nil
}
