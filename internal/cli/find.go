package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/querysql"
	"github.com/roach88/livegraph/internal/store"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Database string
	Query    string
}

// FindResult holds the entities found.
type FindResult struct {
	Entities []ir.Entity `json:"entities"`
	SQL      string      `json:"sql,omitempty"` // set with --verbose
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <specs-dir>",
		Short: "Look up entities in the database without rules",
		Long: `Run a query's type and where clause directly against the materialized
tables in SQLite. No engine is started and no rules apply, so every
matching entity is returned. Includes are not supported.

Examples:
  livegraph find ./specs --db ./livegraph.db --query '{"type":"profiles","where":{"handle":"alyssa"}}'
  livegraph find ./specs --db ./livegraph.db --query '{"type":"posts","where":{"author.owner.id":"u1"}}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "./livegraph.db", "path to SQLite database")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "query JSON (required)")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runFind(opts *FindOptions, specsDir string, cmd *cobra.Command) error {
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
	if len(q.Include) > 0 {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "find does not follow includes; use query", nil)
	}

	spec, err := LoadSpecs(specsDir)
	if err != nil {
		return failLoad(formatter, err)
	}
	plan, err := livequery.Compile(spec.Registry, q)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInvalidInput, err.Error(), nil)
	}
	sql, params, err := querysql.NewSQLCompiler(spec.Registry).Compile(plan)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInvalidInput, err.Error(), nil)
	}
	formatter.VerboseLog("%s %v", sql, params)

	if err := requireDatabase(opts.Database); err != nil {
		return failLoad(formatter, err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	defer st.Close()

	found, err := st.FindEntities(cmd.Context(), sql, params...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}

	result := FindResult{Entities: found}
	if opts.Verbose {
		result.SQL = sql
	}
	return formatter.Success(result, findText(found))
}

func findText(found []ir.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d entit", len(found))
	if len(found) == 1 {
		b.WriteString("y")
	} else {
		b.WriteString("ies")
	}
	for _, e := range found {
		attrs, err := ir.MarshalValue(e.Attrs)
		if err != nil {
			attrs = []byte("{}")
		}
		fmt.Fprintf(&b, "\n  %s[%s] %s (created %d, updated %d)", e.Type, e.ID, attrs, e.CreatedSeq, e.UpdatedSeq)
	}
	return b.String()
}
