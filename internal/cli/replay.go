package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/engine"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	*engine.ReplayReport
	Match bool `json:"match"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <specs-dir>",
		Short: "Rebuild the graph from the commit log and compare",
		Long: `Replay every commit in the log without rules and compare the rebuilt
graph with the materialized one. Replay never writes.

Exit codes:
  0 - The log reproduces the graph
  1 - Mismatch, or a commit failed to apply
  2 - Command error (database not found, schema drift, etc.)

Examples:
  livegraph replay ./specs --db ./livegraph.db
  livegraph replay ./specs --db ./livegraph.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := requireDatabase(opts.Database); err != nil {
		return failLoad(formatter, err)
	}
	ctx := cmd.Context()
	e, st, err := openEngine(ctx, specsDir, opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()
	defer e.Close()

	report, err := e.Replay(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("replay failed: %v", err), nil)
	}
	formatter.VerboseLog("replayed hash %s", report.ReplayedHash)
	formatter.VerboseLog("current hash  %s", report.CurrentHash)

	result := ReplayResult{ReplayReport: report, Match: report.Match()}
	if !result.Match {
		return formatter.Fail(ExitFailure, "REPLAY_MISMATCH",
			fmt.Sprintf("replay of %d commits (last seq %d) does not reproduce the graph", report.Commits, report.LastSeq),
			result)
	}
	if report.Commits == 0 {
		return formatter.Success(result, "No commits found in database.")
	}
	return formatter.Success(result, fmt.Sprintf("✓ Replayed %d commits through seq %d: graph matches", report.Commits, report.LastSeq))
}
