package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/harness"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/server"
	"github.com/roach88/livegraph/internal/txn"
)

// TransactOptions holds flags for the transact command.
type TransactOptions struct {
	*RootOptions
	Database string
	As       string
	Admin    bool
	File     string // "-" or empty reads stdin
}

// RejectionDetails accompanies a rejected transaction in JSON output.
type RejectionDetails struct {
	OpIndex int    `json:"op_index"`
	Type    string `json:"type,omitempty"`
	ID      string `json:"id,omitempty"`
}

// NewTransactCommand creates the transact command.
func NewTransactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transact <specs-dir>",
		Short: "Submit one transaction to the database",
		Long: `Submit a transaction as a user, as a guest, or as admin.

The transaction is read as JSON from --file or stdin:

  {"ops": [
    {"op": "create", "type": "profiles", "id": "p1", "attrs": {"handle": "alyssa"}},
    {"op": "link", "type": "profiles", "id": "p1", "link": "owner", "peer_id": "u1"}
  ]}

Exit codes:
  0 - Committed
  1 - Rejected (the error code is printed)
  2 - Command error (bad input, database not found, etc.)

Examples:
  livegraph transact ./specs --db ./livegraph.db --as u1 --file tx.json
  echo '{"ops":[...]}' | livegraph transact ./specs --db ./livegraph.db --admin`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransact(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "./livegraph.db", "path to SQLite database")
	cmd.Flags().StringVar(&opts.As, "as", "", "user id to transact as (empty: guest)")
	cmd.Flags().BoolVar(&opts.Admin, "admin", false, "bypass rules")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "transaction JSON file (default: stdin)")
	cmd.MarkFlagsMutuallyExclusive("as", "admin")

	return cmd
}

func runTransact(opts *TransactOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	tx, err := readTransaction(cmd.InOrStdin(), opts.File)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return formatter.Fail(ExitCommandError, le.Code, le.Message, nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}

	ctx := cmd.Context()
	e, st, err := openEngine(ctx, specsDir, opts.Database)
	if err != nil {
		return failLoad(formatter, err)
	}
	defer st.Close()
	defer e.Close()

	who := ir.Identity{ID: opts.As, Admin: opts.Admin}
	formatter.VerboseLog("Submitting %d op(s) at seq %d", len(tx.Ops), e.Seq())

	receipt, err := e.Transact(ctx, tx, who)
	if err != nil {
		return failTransaction(formatter, err)
	}
	return formatter.Success(receipt, receiptText(receipt))
}

// readTransaction decodes and validates a transaction the same way the
// HTTP API does.
func readTransaction(stdin io.Reader, path string) (ir.Transaction, error) {
	r := stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return ir.Transaction{}, &LoadError{Code: ErrCodeReadFailed, Message: err.Error()}
		}
		defer f.Close()
		r = f
	}

	var req server.TransactRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return ir.Transaction{}, fmt.Errorf("decoding transaction: %w", err)
	}
	if err := validator.New().Struct(req); err != nil {
		return ir.Transaction{}, fmt.Errorf("invalid transaction: %w", err)
	}
	return req.Transaction(), nil
}

func failTransaction(f *OutputFormatter, err error) error {
	var te *txn.Error
	if errors.As(err, &te) {
		return f.Fail(ExitFailure, string(te.Code), strings.TrimPrefix(te.Error(), string(te.Code)+": "),
			RejectionDetails{OpIndex: te.OpIndex, Type: te.Type, ID: te.ID})
	}
	if errors.Is(err, engine.ErrClosed) {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	return f.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
}

func receiptText(r *engine.Receipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Committed at seq %d (tx %s)", r.Seq, r.TxID)
	for _, t := range r.Changelog.Touches {
		fmt.Fprintf(&b, "\n  %s", harness.FormatTouch(t))
	}
	return b.String()
}
