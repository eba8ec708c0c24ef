package config

import (
	"fmt"
)

// FailureExitCode is recorded as the finish status of a run that did not complete.
const FailureExitCode = 99

// Settings holds everything one pipeline run needs. It is assembled by the CLI and
// validated before the run starts.
type Settings struct {
	// ImageMeta is the tab-separated image metadata table
	ImageMeta string

	// PPIDir is the directory holding the AP-MS PPI scoring file
	PPIDir string

	// Setup is the microscope configuration driving PSF generation
	Setup MicroscopeSetup

	// PSigma is the deconwolf smoothing parameter shared by every row
	PSigma float64

	// ProvenanceImage and ProvenancePPI are forwarded to the embedding tools
	ProvenanceImage string
	ProvenancePPI   string

	// Provenance is the general input provenance file, kept in the argument snapshot
	Provenance string

	// GenerateHierarchy enables the hierarchy and hierarchy evaluation stages
	GenerateHierarchy bool

	// OutDir is the run root; it must not exist when the run starts
	OutDir string

	// ExitCode is returned by a successful run
	ExitCode int

	// SkipLogging suppresses output.log and error.log in the run root
	SkipLogging bool

	// Inputs is the command-line argument snapshot written into the start record
	Inputs map[string]any

	// Tools describes how external tools are invoked
	Tools ToolsConfig

	// Version is the binary version recorded in provenance
	Version string
}

// Validate checks that required fields are present. The existence of OutDir is checked
// by the orchestrator, not here.
func (s *Settings) Validate() error {
	if s.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if s.ImageMeta == "" {
		return fmt.Errorf("image metadata file is required")
	}
	if s.PPIDir == "" {
		return fmt.Errorf("PPI directory is required")
	}
	if err := s.Setup.Validate(); err != nil {
		return fmt.Errorf("invalid microscope setup: %w", err)
	}
	if s.PSigma < 0 {
		return fmt.Errorf("psigma must be >= 0, got %v", s.PSigma)
	}
	if err := s.Tools.Validate(); err != nil {
		return fmt.Errorf("invalid tools configuration: %w", err)
	}
	return nil
}
