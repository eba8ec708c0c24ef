package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/hitmap/internal/printer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrorExitCode is the process exit code for any error reaching the command line.
const ErrorExitCode = 2

// envPrefix namespaces environment overrides: --image-meta becomes HITMAP_IMAGE_META.
const envPrefix = "HITMAP"

var (
	version string
	commit  string
	date    string

	// exitStatus is the code chosen by the last successful command
	exitStatus int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hitmap",
	Short: "HIT-MAP - microscopy and proteomics pipeline orchestrator",
	Long: `HIT-MAP turns raw immunofluorescence image stacks and an AP-MS protein
interaction table into image, PPI and co-embeddings, and optionally a
protein hierarchy.

Each run writes into a fresh output directory: theoretical PSFs, deconvolved
stacks, z-max projections, the node attribute table, the embeddings, and
start/finish provenance records.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// reportedError marks an error that has already been printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Execute runs the root command and returns the process exit status.
// A non-nil error has already been printed.
func Execute() (int, error) {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	exitStatus = 0
	if err := rootCmd.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			printer.Default().Failure(err.Error(), "", nil, []string{"Run 'hitmap --help' for usage."})
		}
		return ErrorExitCode, err
	}
	return exitStatus, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// bindEnv makes every flag of cmd readable through v, with environment
// variables taking effect when the flag is not set.
func bindEnv(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(cmd.Flags())
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newInitCmd())
}
