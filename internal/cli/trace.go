package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/harness"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Since    int64
	Type     string // optional - only commits touching this entity type
}

// TraceCommit is one commit in the trace timeline.
type TraceCommit struct {
	Seq      int64       `json:"seq"`
	TxID     string      `json:"tx_id"`
	Actor    ir.Identity `json:"actor"`
	Ops      int         `json:"ops"`
	Cascades int         `json:"cascades"`
	Touches  []string    `json:"touches"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Commits []TraceCommit `json:"commits"`
	LastSeq int64         `json:"last_seq"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the commit log",
		Long: `Show committed transactions in seq order: who submitted each one, how
many ops it expanded to, and every touch it produced.

Examples:
  livegraph trace --db ./livegraph.db
  livegraph trace --db ./livegraph.db --since 10 --type posts
  livegraph trace --db ./livegraph.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only commits after this seq")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only commits touching this entity type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := requireDatabase(opts.Database); err != nil {
		return failLoad(formatter, err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	defer st.Close()

	commits, err := st.ReadCommits(cmd.Context(), opts.Since)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to read commits: %v", err), nil)
	}

	result := buildTrace(commits, opts.Type)
	if len(result.Commits) == 0 {
		return formatter.Success(result, fmt.Sprintf("No commits found after seq %d.", opts.Since))
	}
	return formatter.Success(result, traceText(result))
}

// buildTrace keeps commits touching typ (all when empty). LastSeq is the
// last seq read, filtered or not.
func buildTrace(commits []store.Commit, typ string) TraceResult {
	result := TraceResult{Commits: []TraceCommit{}}
	for _, c := range commits {
		result.LastSeq = c.Seq
		cl := c.Changelog()
		if typ != "" && !slices.Contains(cl.Types(), typ) {
			continue
		}
		tc := TraceCommit{
			Seq:     c.Seq,
			TxID:    c.TxID,
			Actor:   c.Actor,
			Ops:     len(c.Ops),
			Touches: make([]string, len(c.Touches)),
		}
		for _, op := range c.Ops {
			if op.Cascade {
				tc.Cascades++
			}
		}
		for i, t := range c.Touches {
			tc.Touches[i] = harness.FormatTouch(t)
		}
		result.Commits = append(result.Commits, tc)
	}
	return result
}

func traceText(result TraceResult) string {
	var b strings.Builder
	for i, c := range result.Commits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "seq %d  tx %s  by %s  (%d ops, %d cascaded)", c.Seq, c.TxID, actorName(c.Actor), c.Ops, c.Cascades)
		for _, t := range c.Touches {
			fmt.Fprintf(&b, "\n  %s", t)
		}
	}
	return b.String()
}

func actorName(who ir.Identity) string {
	switch {
	case who.Admin:
		return "admin"
	case who.ID == "":
		return "guest"
	default:
		return who.ID
	}
}
