package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	GoldenDir string // compare traces against <name>.golden here
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern on the file name)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run conformance scenarios",
		Long: `Run YAML scenarios, each against a fresh in-memory engine built from the
specs directory it names.

Every scenario checks step outcomes and final assertions, then replays
its commit log. With --golden, traces are compared with golden files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  livegraph test ./scenarios
  livegraph test ./scenarios --filter "heart*"
  livegraph test ./scenarios --golden ./golden --update
  livegraph test ./scenarios/hearts.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden trace directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenarios string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Update && opts.GoldenDir == "" {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--update requires --golden", nil)
	}
	if _, err := os.Stat(scenarios); os.IsNotExist(err) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenarios not found: %s", scenarios), nil)
	}

	paths, err := harness.FindScenarios(scenarios)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScanError, fmt.Sprintf("failed to find scenarios: %v", err), nil)
	}
	paths, err = filterScenarios(paths, opts.Filter)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	for _, p := range paths {
		formatter.VerboseLog("Running %s", p)
	}
	result := harness.RunSuite(cmd.Context(), paths, harness.SuiteOptions{
		GoldenDir: opts.GoldenDir,
		Update:    opts.Update,
	})

	if !result.OK() {
		if err := formatter.Error("TEST_FAILED", fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total), result); err != nil {
			return err
		}
		if opts.Format != "json" {
			fmt.Fprint(formatter.Writer, failuresText(result))
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	if result.Total == 0 {
		return formatter.Success(result, "No scenarios found.")
	}

	text := fmt.Sprintf("✓ %d scenario(s) passed", result.Passed)
	if result.Updated > 0 {
		text += fmt.Sprintf(", %d golden file(s) updated", result.Updated)
	}
	return formatter.Success(result, text)
}

// filterScenarios keeps paths whose base name matches pattern.
func filterScenarios(paths []string, pattern string) ([]string, error) {
	if pattern == "" {
		return paths, nil
	}
	var out []string
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", pattern, err)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func failuresText(result *harness.SuiteResult) string {
	var b strings.Builder
	for _, f := range result.Failures {
		name := f.Name
		if name == "" {
			name = f.ScenarioPath
		}
		fmt.Fprintf(&b, "\n✗ %s\n  %s\n", name, f.Error)
	}
	return b.String()
}
