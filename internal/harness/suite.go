package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// SuiteOptions configures RunSuite.
type SuiteOptions struct {
	// GoldenDir, when set, holds <name>.golden traces to compare against.
	GoldenDir string

	// Update rewrites golden traces instead of comparing them.
	Update bool
}

// SuiteResult summarizes a run over many scenario files.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Updated  int               `json:"updated,omitempty"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that did not pass.
type ScenarioFailure struct {
	Name         string `json:"name,omitempty"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// OK reports whether every scenario passed.
func (r *SuiteResult) OK() bool { return r.Failed == 0 }

func (r *SuiteResult) fail(name, path, format string, args ...any) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{
		Name:         name,
		ScenarioPath: path,
		Error:        fmt.Sprintf(format, args...),
	})
}

// RunSuite loads and runs every scenario file in paths.
//
// For each path:
// 1. Load the scenario
// 2. Run it against a fresh engine
// 3. Compare or rewrite its golden trace when opts.GoldenDir is set
// 4. Collect the outcome
func RunSuite(ctx context.Context, paths []string, opts SuiteOptions) *SuiteResult {
	result := &SuiteResult{}
	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail("", path, "failed to load scenario: %v", err)
			continue
		}

		runResult, err := Run(ctx, scenario)
		if err != nil {
			result.fail(scenario.Name, path, "scenario execution failed: %v", err)
			continue
		}
		if !runResult.Pass {
			result.fail(scenario.Name, path, "scenario assertions failed: %v", runResult.Errors)
			continue
		}

		if opts.GoldenDir != "" {
			updated, err := compareGolden(opts, scenario.Name, runResult)
			if err != nil {
				result.fail(scenario.Name, path, "%v", err)
				continue
			}
			if updated {
				result.Updated++
			}
		}
		result.Passed++
	}
	return result
}

// compareGolden checks a trace against its golden file, or writes it when
// updating. It reports whether a file was written.
func compareGolden(opts SuiteOptions, name string, res *Result) (bool, error) {
	got, err := TraceJSON(name, res)
	if err != nil {
		return false, fmt.Errorf("trace: %w", err)
	}
	path := filepath.Join(opts.GoldenDir, name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return false, err
		}
		return true, os.WriteFile(path, got, 0o644)
	}
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("golden trace: %w", err)
	}
	if !bytes.Equal(got, want) {
		return false, fmt.Errorf("trace differs from %s", path)
	}
	return false, nil
}
