package commands

import (
	"fmt"

	"github.com/dyluth/hitmap/internal/printer"
	"github.com/dyluth/hitmap/internal/scaffold"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write example run inputs",
		Long: `Write an example microscope setup, tools configuration and image
metadata table into dir (default: the current directory).

Edit the files to describe your data, then start a run with:
  hitmap run --microscope-setup microscope_setup.yml --tools tools.yml \
    --image-meta image_meta.tsv --ppi-dir <ppi> --outdir <out>`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			paths, err := scaffold.Initialize(dir, force)
			if err != nil {
				return err
			}

			p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), false)
			p.Success("Initialized run inputs in %s", dir)
			for _, path := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing input files")
	return cmd
}
