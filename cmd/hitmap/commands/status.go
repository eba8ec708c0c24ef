package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/printer"
	"github.com/dyluth/hitmap/internal/resolver"
	"github.com/dyluth/hitmap/internal/runlist"
	"github.com/dyluth/hitmap/internal/runstate"
	"github.com/dyluth/hitmap/internal/timespec"
	"github.com/dyluth/hitmap/internal/watch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagRecent  = "recent"
	flagRun     = "run"
	flagSince   = "since"
	flagUntil   = "until"
	flagFollow  = "follow"
	flagTimeout = "timeout"
	flagOutput  = "output"
)

// followInterval is how often --follow polls the registry.
const followInterval = time.Second

func newStatusCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "status [outdir]",
		Short: "Show the state of a run",
		Long: `Show what occupies an output directory: a run in progress (or interrupted),
a completed or failed run, or something no run created.

With --redis-url, also list runs recorded in the registry, or show one run
by its ID or an unambiguous ID prefix.

Examples:
  hitmap status out
  hitmap status --redis-url redis://localhost:6379/0 --recent 5
  hitmap status --redis-url redis://localhost:6379/0 --since 24h
  hitmap status --redis-url redis://localhost:6379/0 --run 3f2a9c
  hitmap status --redis-url redis://localhost:6379/0 --run 3f2a9c --follow
  hitmap status --redis-url redis://localhost:6379/0 --output jsonl | jq .stage`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, v, args)
		},
	}

	f := cmd.Flags()
	f.String(flagRedisURL, "", "Run registry to query")
	f.Int(flagRecent, 10, "Number of runs to list")
	f.String(flagRun, "", "Show one run by ID or ID prefix")
	f.String(flagSince, "", "Only list runs started after this time (e.g. 1h, 2025-10-29T13:00:00Z)")
	f.String(flagUntil, "", "Only list runs started before this time")
	f.BoolP(flagFollow, "f", false, "With --run, print stage changes until the run finishes")
	f.Duration(flagTimeout, 0, "With --follow, give up after this long (0 = no limit)")
	f.StringP(flagOutput, "o", string(runlist.OutputFormatDefault), "Registry output format: default or jsonl")

	_ = bindEnv(v, cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper, args []string) error {
	out := cmd.OutOrStdout()
	url := v.GetString(flagRedisURL)
	if len(args) == 0 && url == "" {
		return fmt.Errorf("an output directory or --%s is required", flagRedisURL)
	}

	if len(args) == 1 {
		dir := args[0]
		exists, err := layout.Exists(dir)
		if err != nil {
			return err
		}
		if !exists {
			fmt.Fprintf(out, "%s: does not exist\n", dir)
		} else {
			fmt.Fprintf(out, "%s: %s\n", dir, runstate.Describe(dir))
		}
	}

	if url == "" {
		return nil
	}
	format, err := runlist.ParseOutputFormat(v.GetString(flagOutput))
	if err != nil {
		return err
	}

	reg, err := runstate.NewRedisRegistry(url)
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := cmd.Context()
	if err := reg.Ping(ctx); err != nil {
		return fmt.Errorf("run registry not reachable: %w", err)
	}

	if short := v.GetString(flagRun); short != "" {
		return showRun(ctx, cmd, v, reg, short, format)
	}
	return listRuns(ctx, out, reg, v, format)
}

func showRun(ctx context.Context, cmd *cobra.Command, v *viper.Viper, reg *runstate.RedisRegistry, short string, format runlist.OutputFormat) error {
	runID, err := resolver.ResolveRunID(ctx, reg, short)
	if err != nil {
		var ambiguous *resolver.AmbiguousError
		if errors.As(err, &ambiguous) {
			printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), false).Failure(err.Error(),
				"Use a longer prefix to identify the run. Matching runs:", nil, ambiguous.Suggestions())
			return &reportedError{err}
		}
		return err
	}

	out := cmd.OutOrStdout()
	var m runstate.Marker
	if v.GetBool(flagFollow) {
		m, err = watch.FollowRun(ctx, reg, runID, followInterval, v.GetDuration(flagTimeout), func(m runstate.Marker) {
			fmt.Fprintf(out, "%s  %-9s %s\n", m.UpdatedAt.Format(time.RFC3339), m.State, m.Stage)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
	} else {
		m, err = reg.Get(ctx, runID)
		if err != nil {
			return err
		}
	}

	if format == runlist.OutputFormatJSONL {
		return runlist.FormatSingleJSON(out, m)
	}

	fmt.Fprintf(out, "Run:      %s\n", m.RunID)
	fmt.Fprintf(out, "State:    %s\n", m.State)
	fmt.Fprintf(out, "Stage:    %s\n", m.Stage)
	fmt.Fprintf(out, "Outdir:   %s\n", m.OutDir)
	fmt.Fprintf(out, "Host:     %s (pid %d)\n", m.Host, m.PID)
	fmt.Fprintf(out, "Started:  %s\n", m.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:  %s\n", m.UpdatedAt.Format(time.RFC3339))
	return nil
}

func listRuns(ctx context.Context, out io.Writer, reg *runstate.RedisRegistry, v *viper.Viper, format runlist.OutputFormat) error {
	now := time.Now()
	since, until, err := timespec.ParseRange(v.GetString(flagSince), v.GetString(flagUntil), now)
	if err != nil {
		return err
	}
	limit := int64(v.GetInt(flagRecent))

	var ids []string
	if since.IsZero() && until.IsZero() {
		ids, err = reg.Recent(ctx, limit)
	} else {
		ids, err = reg.Between(ctx, since, until, limit)
	}
	if err != nil {
		return err
	}

	runs := make([]runstate.Marker, 0, len(ids))
	for _, id := range ids {
		m, err := reg.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read run %s: %w", id, err)
		}
		runs = append(runs, m)
	}
	return runlist.Write(out, runs, format, now)
}
