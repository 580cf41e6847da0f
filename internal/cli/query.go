package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Database string
	As       string
	Query    string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <specs-dir>",
		Short: "Run a query once against the database",
		Long: `Run a query as a user or guest and print the visible entities.

Examples:
  livegraph query ./specs --db ./livegraph.db --as u1 --query '{"type":"posts","include":{"author":{}}}'
  livegraph query ./specs --db ./livegraph.db --query '{"type":"profiles","where":{"handle":"alyssa"}}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "./livegraph.db", "path to SQLite database")
	cmd.Flags().StringVar(&opts.As, "as", "", "user id to query as (empty: guest)")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "query JSON (required)")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runQuery(opts *QueryOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var q livequery.Query
	dec := json.NewDecoder(strings.NewReader(opts.Query))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("decoding query: %v", err), nil)
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

	res, err := e.Query(q, ir.Identity{ID: opts.As})
	if err != nil {
		if errors.Is(err, livequery.ErrInvalidQuery) {
			return formatter.Fail(ExitFailure, ErrCodeInvalidInput, err.Error(), nil)
		}
		return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	return formatter.Success(res, resultText(res))
}

// requireDatabase rejects a missing database file so that read-only
// commands never create an empty one.
func requireDatabase(path string) error {
	if _, err := os.Stat(path); err != nil {
		return &LoadError{Code: ErrCodeDatabase, Message: fmt.Sprintf("database not found: %s", path)}
	}
	return nil
}

func resultText(res livequery.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) at seq %d", len(res.Nodes), res.Seq)
	for _, n := range res.Nodes {
		writeNode(&b, n, 1)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n livequery.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	attrs, err := ir.MarshalValue(n.Attrs)
	if err != nil {
		attrs = []byte("{}")
	}
	fmt.Fprintf(b, "\n%s%s[%s] %s", indent, n.Type, n.ID, attrs)
	for _, label := range slices.Sorted(maps.Keys(n.Links)) {
		fmt.Fprintf(b, "\n%s  .%s", indent, label)
		for _, peer := range n.Links[label] {
			writeNode(b, peer, depth+2)
		}
	}
}
