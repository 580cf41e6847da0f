package harness

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a schema, a sequence of
// transactions submitted under chosen identities, and checks on the
// outcome of each one and on the final graph.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs is the CUE spec directory, relative to the scenario file.
	Specs string `yaml:"specs"`

	// Setup transactions run as admin before the steps and must commit.
	Setup []Transaction `yaml:"setup,omitempty"`

	// Steps are the transactions under test.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated against the final graph.
	Assertions []Assertion `yaml:"assertions"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-"`
}

// Transaction is a list of ops applied atomically.
type Transaction struct {
	Ops []OpSpec `yaml:"ops"`
}

// OpSpec is one op as written in YAML. Attribute values are converted to
// IR values when the scenario runs; null removes an attribute in updates.
type OpSpec struct {
	Op     string         `yaml:"op"`
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id"`
	Attrs  map[string]any `yaml:"attrs,omitempty"`
	Link   string         `yaml:"link,omitempty"`
	PeerID string         `yaml:"peer_id,omitempty"`
}

// Step submits one transaction.
type Step struct {
	// As is the acting user id. Empty with Admin unset means a guest.
	As string `yaml:"as,omitempty"`

	// Admin bypasses rules.
	Admin bool `yaml:"admin,omitempty"`

	Ops []OpSpec `yaml:"ops"`

	// Expect names the rejection code. Nil means the step must commit.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Check runs assertions right after this step.
	Check []Assertion `yaml:"check,omitempty"`
}

// ExpectClause specifies the expected rejection.
type ExpectClause struct {
	// Error is a transaction error code, e.g. "PERMISSION_DENIED".
	Error string `yaml:"error"`

	// OpIndex, when set, must equal the offending op's index.
	OpIndex *int `yaml:"op_index,omitempty"`
}

// Assertion validates graph state, a query result, or the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "entity_exists" / "entity_absent": ID is (not) live
	// - "attr_equals": Attr of ID equals Value (null means absent)
	// - "linked" / "not_linked": ID has (no) peer PeerID through Label
	// - "query": Query run as As returns IDs, and Links of each node
	// - "touched": Touch appears in the trace
	Type string `yaml:"type"`

	ID     string `yaml:"id,omitempty"`
	Attr   string `yaml:"attr,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Label  string `yaml:"label,omitempty"`
	PeerID string `yaml:"peer_id,omitempty"`

	As    string         `yaml:"as,omitempty"`
	Query map[string]any `yaml:"query,omitempty"`
	IDs   []string       `yaml:"ids,omitempty"`
	// Links maps a root node id to label -> expected peer ids.
	Links map[string]map[string][]string `yaml:"links,omitempty"`

	Touch string `yaml:"touch,omitempty"`
}

// Assertion type constants.
const (
	AssertEntityExists = "entity_exists"
	AssertEntityAbsent = "entity_absent"
	AssertAttrEquals   = "attr_equals"
	AssertLinked       = "linked"
	AssertNotLinked    = "not_linked"
	AssertQuery        = "query"
	AssertTouched      = "touched"
)

var validOps = []string{"create", "update", "delete", "link", "unlink"}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The specs path is resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Reject unknown fields so "assertion:" vs "assertions:" typos fail loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.Path = path

	if scenario.Specs != "" && !filepath.IsAbs(scenario.Specs) {
		scenario.Specs = filepath.Join(filepath.Dir(path), scenario.Specs)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns every .yaml or .yml file under dir, sorted. A
// single file path is returned as is.
func FindScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Specs == "" {
		return fmt.Errorf("specs directory is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := os.Stat(s.Specs); os.IsNotExist(err) {
		return fmt.Errorf("specs directory not found: %s", s.Specs)
	}

	for i, tx := range s.Setup {
		if err := validateOps(fmt.Sprintf("setup[%d]", i), tx.Ops); err != nil {
			return err
		}
	}
	for i, step := range s.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		if err := validateOps(where, step.Ops); err != nil {
			return err
		}
		if step.Admin && step.As != "" {
			return fmt.Errorf("%s: as and admin are exclusive", where)
		}
		if step.Expect != nil && step.Expect.Error == "" {
			return fmt.Errorf("%s.expect: error is required", where)
		}
		for j := range step.Check {
			if err := validateAssertion(fmt.Sprintf("%s.check[%d]", where, j), &step.Check[j]); err != nil {
				return err
			}
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(fmt.Sprintf("assertions[%d]", i), &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateOps(where string, ops []OpSpec) error {
	if len(ops) == 0 {
		return fmt.Errorf("%s: ops list is required and must be non-empty", where)
	}
	for i, op := range ops {
		if !slices.Contains(validOps, op.Op) {
			return fmt.Errorf("%s.ops[%d]: op must be one of %s", where, i, strings.Join(validOps, ", "))
		}
		if op.Type == "" || op.ID == "" {
			return fmt.Errorf("%s.ops[%d]: type and id are required", where, i)
		}
		if (op.Op == "link" || op.Op == "unlink") && (op.Link == "" || op.PeerID == "") {
			return fmt.Errorf("%s.ops[%d]: %s requires link and peer_id", where, i, op.Op)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(where string, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", where)
	}

	switch a.Type {
	case AssertEntityExists, AssertEntityAbsent:
		if a.ID == "" {
			return fmt.Errorf("%s: id is required for %s", where, a.Type)
		}
	case AssertAttrEquals:
		if a.ID == "" || a.Attr == "" {
			return fmt.Errorf("%s: id and attr are required for attr_equals", where)
		}
	case AssertLinked, AssertNotLinked:
		if a.ID == "" || a.Label == "" || a.PeerID == "" {
			return fmt.Errorf("%s: id, label and peer_id are required for %s", where, a.Type)
		}
	case AssertQuery:
		if len(a.Query) == 0 {
			return fmt.Errorf("%s: query is required for query", where)
		}
	case AssertTouched:
		if a.Touch == "" {
			return fmt.Errorf("%s: touch is required for touched", where)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
	}
	return nil
}
