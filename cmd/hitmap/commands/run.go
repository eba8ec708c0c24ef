package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/hitmap/internal/config"
	dockerpkg "github.com/dyluth/hitmap/internal/docker"
	"github.com/dyluth/hitmap/internal/logging"
	"github.com/dyluth/hitmap/internal/pipeline"
	"github.com/dyluth/hitmap/internal/printer"
	"github.com/dyluth/hitmap/internal/projection"
	"github.com/dyluth/hitmap/internal/runstate"
	"github.com/dyluth/hitmap/internal/tool"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag names of the run command
const (
	flagImageMeta         = "image-meta"
	flagPPIDir            = "ppi-dir"
	flagMicroscopeSetup   = "microscope-setup"
	flagPSigma            = "psigma"
	flagProvenanceImage   = "provenance-image"
	flagProvenancePPI     = "provenance-ppi"
	flagProvenance        = "provenance"
	flagGenerateHierarchy = "generate-hierarchy"
	flagOutDir            = "outdir"
	flagExitCode          = "exitcode"
	flagSkipLogging       = "skip-logging"
	flagTools             = "tools"
	flagToolTimeout       = "tool-timeout"
	flagRedisURL          = "redis-url"
	flagVerbose           = "verbose"
	flagLogLevel          = "log-level"
	flagQuiet             = "quiet"
)

// projector turns deconvolved stacks into 2-D images; main installs the native one.
var projector projection.Projector

// SetProjector installs the projector used by the run command.
func SetProjector(p projection.Projector) {
	projector = p
}

func newRunCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline into a new output directory",
		Long: `Run every pipeline stage in order: PSF generation, deconvolution, z-max
projection, node attributes, image embedding, PPI embedding, co-embedding and,
with --generate-hierarchy, hierarchy generation and evaluation.

The output directory must not exist. A run that fails leaves its partial
output in place and records status 99 in its finish record.

Every flag can also be set through the environment, e.g. HITMAP_PSIGMA=1.5.

Examples:
  hitmap run --outdir out --image-meta image_meta.tsv --ppi-dir ppi \
    --microscope-setup setup.yml --psigma 1.5 -vv

  # Run the tools inside a container
  hitmap run --outdir out ... --tools tools.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := runPipeline(cmd, v)
			if err != nil {
				return err
			}
			exitStatus = status
			return nil
		},
	}

	f := cmd.Flags()
	f.String(flagImageMeta, "", "Tab-separated image metadata (file_directory, channel, targetted_proteins, save_prefix)")
	f.String(flagPPIDir, "", "Directory holding the AP-MS PPI scoring table")
	f.String(flagMicroscopeSetup, "", "Microscope setup document (YAML or JSON)")
	f.Float64(flagPSigma, 0, "Deconwolf psigma parameter")
	f.String(flagProvenanceImage, "", "Provenance of the image inputs, forwarded to image embedding")
	f.String(flagProvenancePPI, "", "Provenance of the AP-MS inputs, forwarded to PPI embedding")
	f.String(flagProvenance, "", "General provenance of the input files")
	f.Bool(flagGenerateHierarchy, false, "Generate and evaluate a hierarchy from the co-embedding")
	f.String(flagOutDir, "", "Directory to write results to (must not exist)")
	f.Int(flagExitCode, 0, "Exit code returned by a successful run")
	f.Bool(flagSkipLogging, false, "Do not write output.log and error.log into the output directory")
	f.String(flagTools, "", "Tools configuration (binaries, runtime, tuning)")
	f.Duration(flagToolTimeout, 0, "Limit for one local tool invocation (0 = none)")
	f.String(flagRedisURL, "", "Record run state in this Redis (e.g. redis://localhost:6379/0)")
	f.CountP(flagVerbose, "v", "Increase log verbosity on stderr: -v WARN, -vv INFO, -vvv DEBUG (default ERROR)")
	f.String(flagLogLevel, "", "Log level (debug, info, warn, error); overrides -v")
	f.BoolP(flagQuiet, "q", false, "Suppress progress output")

	// BindPFlags only fails on a nil flag set
	_ = bindEnv(v, cmd)
	return cmd
}

func runPipeline(cmd *cobra.Command, v *viper.Viper) (int, error) {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), v.GetBool(flagQuiet))

	level, err := logLevel(v)
	if err != nil {
		p.Failure("invalid log level", err.Error(), nil, []string{fmt.Sprintf("Use one of: %s", strings.Join(logging.ValidLevels(), ", "))})
		return 0, &reportedError{err}
	}
	logger := logging.NewLogger(cmd.ErrOrStderr(), level)

	settings, err := buildSettings(v, cmd)
	if err != nil {
		p.Failure("invalid configuration", err.Error(), nil, []string{"Run 'hitmap run --help' to see the required flags."})
		return 0, &reportedError{err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.New().String()
	runner, closeRunner, err := newToolRunner(ctx, settings, runID, v.GetDuration(flagToolTimeout), logger)
	if err != nil {
		p.Failure("tool runtime unavailable", err.Error(), nil, nil)
		return 0, &reportedError{err}
	}
	defer closeRunner()

	registry := openRegistry(ctx, v.GetString(flagRedisURL), p, logger)
	defer registry.Close()

	r, err := pipeline.New(settings, pipeline.Dependencies{
		Runner:    runner,
		Projector: projector,
		Registry:  registry,
		Logger:    logger,
		Progress:  p,
	}, pipeline.WithRunID(runID))
	if err != nil {
		p.Failure("invalid configuration", err.Error(), nil, nil)
		return 0, &reportedError{err}
	}

	started := time.Now()
	status, err := r.Run(ctx)
	if err != nil {
		reportRunFailure(p, r, err)
		return status, &reportedError{err}
	}

	p.Success("run %s completed in %s", runID, time.Since(started).Round(time.Second))
	return status, nil
}

func logLevel(v *viper.Viper) (string, error) {
	level := strings.ToUpper(v.GetString(flagLogLevel))
	if level == "" {
		return logging.LevelFromVerbosity(v.GetInt(flagVerbose)), nil
	}
	if level == "WARNING" {
		level = logging.LevelWarn
	}
	if !slices.Contains(logging.ValidLevels(), level) {
		return "", fmt.Errorf("unknown log level %q", v.GetString(flagLogLevel))
	}
	return level, nil
}

// buildSettings assembles the run settings from flags and environment.
func buildSettings(v *viper.Viper, cmd *cobra.Command) (config.Settings, error) {
	outDir := v.GetString(flagOutDir)
	if outDir == "" {
		return config.Settings{}, fmt.Errorf("--%s is required", flagOutDir)
	}
	for _, name := range []string{flagImageMeta, flagPPIDir, flagMicroscopeSetup} {
		if v.GetString(name) == "" {
			return config.Settings{}, fmt.Errorf("--%s is required", name)
		}
	}

	setup, err := config.LoadMicroscopeSetup(v.GetString(flagMicroscopeSetup))
	if err != nil {
		return config.Settings{}, err
	}
	tools, err := config.LoadTools(v.GetString(flagTools))
	if err != nil {
		return config.Settings{}, err
	}

	return config.Settings{
		ImageMeta:         v.GetString(flagImageMeta),
		PPIDir:            v.GetString(flagPPIDir),
		Setup:             setup,
		PSigma:            v.GetFloat64(flagPSigma),
		ProvenanceImage:   v.GetString(flagProvenanceImage),
		ProvenancePPI:     v.GetString(flagProvenancePPI),
		Provenance:        v.GetString(flagProvenance),
		GenerateHierarchy: v.GetBool(flagGenerateHierarchy),
		OutDir:            outDir,
		ExitCode:          v.GetInt(flagExitCode),
		SkipLogging:       v.GetBool(flagSkipLogging),
		Inputs:            inputSnapshot(v, cmd),
		Tools:             tools,
		Version:           version,
	}, nil
}

// inputSnapshot records the effective value of every flag, keyed by its name
// with underscores, for the start record.
func inputSnapshot(v *viper.Viper, cmd *cobra.Command) map[string]any {
	inputs := map[string]any{
		"program": cmd.CommandPath(),
		"version": version,
	}
	for _, key := range v.AllKeys() {
		inputs[strings.ReplaceAll(key, "-", "_")] = v.Get(key)
	}
	return inputs
}

func newToolRunner(ctx context.Context, settings config.Settings, runID string, timeout time.Duration, logger *logging.Logger) (tool.Runner, func(), error) {
	tools := settings.Tools
	if tools.Runtime != config.RuntimeDocker {
		return tool.NewExecRunner(logger, timeout), func() {}, nil
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	outDir, err := filepath.Abs(settings.OutDir)
	if err != nil {
		cli.Close()
		return nil, nil, err
	}
	runner := &tool.DockerRunner{
		Client:  cli,
		Image:   tools.Docker.Image,
		Network: tools.Docker.Network,
		Env:     tools.Docker.Environment,
		User:    tools.Docker.User,
		RunID:   runID,
		OutDir:  outDir,
		Logger:  logger,
	}
	return runner, func() { cli.Close() }, nil
}

// openRegistry connects to the run registry. A registry that cannot be reached
// is reported and replaced by a no-op one; it never stops a run.
func openRegistry(ctx context.Context, url string, p *printer.Printer, logger *logging.Logger) runstate.Registry {
	if url == "" {
		return runstate.NopRegistry{}
	}
	reg, err := runstate.NewRedisRegistry(url)
	if err == nil {
		err = reg.Ping(ctx)
		if err != nil {
			reg.Close()
		}
	}
	if err != nil {
		p.Warning("run registry disabled: %v", err)
		logger.Warn("run registry disabled", "url", url, "error", err)
		return runstate.NopRegistry{}
	}
	return reg
}

func reportRunFailure(p *printer.Printer, r *pipeline.Runner, err error) {
	details := map[string]string{
		"run id": r.RunID(),
		"outdir": r.Layout().Root,
	}

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		details["stage"] = stageErr.Stage
	}
	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) {
		details["tool"] = toolErr.Tool
		details["arguments"] = strings.Join(toolErr.Args, " ")
	}

	switch {
	case errors.Is(err, pipeline.ErrOutputExists):
		p.Failure("output directory already exists", err.Error(), details,
			[]string{"Choose a new --outdir.", "Remove the existing directory if its results are no longer needed."})
	case errors.Is(err, context.Canceled):
		p.Failure("run interrupted", err.Error(), details,
			[]string{"Partial output was left in place; rerun into a new --outdir."})
	default:
		p.Failure("pipeline run failed", err.Error(), details,
			[]string{fmt.Sprintf("Inspect %s in the output directory.", logging.ErrorLogFile)})
	}
}
