package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                      `json:"valid"`
	Entities   int                       `json:"entities"`
	Links      int                       `json:"links"`
	RuleTypes  int                       `json:"rule_types"`
	SchemaHash string                    `json:"schema_hash"`
	Warnings   []compiler.CascadeWarning `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate schema and rules without starting an engine",
		Long: `Validate the CUE schema and rules in a directory.

Checks entity and link declarations, rule references against the schema,
and reports cascade cycles as warnings. Exits 1 when the specs are invalid.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	spec, err := LoadSpecs(specsDir)
	if err != nil {
		return failLoad(formatter, err)
	}

	hash, err := spec.Registry.Hash()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	result := ValidationResult{
		Valid:      true,
		Entities:   len(spec.Registry.EntityNames()),
		Links:      len(spec.Registry.Links()),
		RuleTypes:  len(spec.Rules.Types()),
		SchemaHash: hash,
		Warnings:   spec.Warnings,
	}
	formatter.VerboseLog("schema hash %s", result.SchemaHash)

	var text strings.Builder
	fmt.Fprintf(&text, "✓ Specs valid: %d entities, %d links, rules on %d types", result.Entities, result.Links, result.RuleTypes)
	for _, w := range spec.Warnings {
		fmt.Fprintf(&text, "\n  warning: %s (%s)", w.Message, strings.Join(w.Path, " -> "))
	}
	return formatter.Success(result, text.String())
}
