package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Outcome == OutcomeCommitted {
				fmt.Fprintf(&buf, "  [%d] %s %d committed at seq %d (%d touches)\n", i+1, event.Phase, event.Index, event.Seq, len(event.Touches))
			} else {
				fmt.Fprintf(&buf, "  [%d] %s %d rejected: %s\n", i+1, event.Phase, event.Index, event.Code)
			}
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the running engine.
type AssertionContext struct {
	Engine *engine.Engine
	Ctx    context.Context
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertEntityExists, AssertEntityAbsent:
		return assertEntity(actx, a)
	case AssertAttrEquals:
		return assertAttrEquals(actx, a)
	case AssertLinked, AssertNotLinked:
		return assertLinked(actx, a)
	case AssertQuery:
		return assertQuery(actx, a)
	case AssertTouched:
		return assertTouched(result.Trace, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertEntity(actx *AssertionContext, a Assertion) error {
	want := a.Type == AssertEntityExists
	if got := actx.Engine.Snapshot().Has(a.ID); got != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s live = %t", a.ID, want),
			Actual:   fmt.Sprintf("%s live = %t", a.ID, got),
		}
	}
	return nil
}

func assertAttrEquals(actx *AssertionContext, a Assertion) error {
	ent, ok := actx.Engine.Snapshot().Entity(a.ID)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("entity %s", a.ID), Actual: "not found"}
	}
	got, has := ent.Attr(a.Attr)
	if a.Value == nil {
		if has {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s.%s absent", a.ID, a.Attr), Actual: render(got)}
		}
		return nil
	}
	want, err := convertToIRValue(a.Value)
	if err != nil {
		return fmt.Errorf("attr_equals value: %w", err)
	}
	if !has || !ir.Equal(got, want) {
		actual := "absent"
		if has {
			actual = render(got)
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %s", a.ID, a.Attr, render(want)),
			Actual:   actual,
		}
	}
	return nil
}

func assertLinked(actx *AssertionContext, a Assertion) error {
	peers, err := actx.Engine.Snapshot().NeighborsByLabel(a.ID, a.Label)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s.%s", a.ID, a.Label), Actual: err.Error()}
	}
	want := a.Type == AssertLinked
	if got := slices.Contains(peers, a.PeerID); got != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s contains %s = %t", a.ID, a.Label, a.PeerID, want),
			Actual:   fmt.Sprintf("peers %v", peers),
		}
	}
	return nil
}

// assertQuery runs the query once as the given user and compares root ids
// in order, and for the roots named in Links the peer ids per label.
func assertQuery(actx *AssertionContext, a Assertion) error {
	q, err := decodeQuery(a.Query)
	if err != nil {
		return err
	}
	res, err := actx.Engine.Query(q, ir.Identity{ID: a.As})
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("ids %v", a.IDs), Actual: err.Error()}
	}

	ids := make([]string, len(res.Nodes))
	byID := make(map[string]livequery.Node, len(res.Nodes))
	for i, n := range res.Nodes {
		ids[i] = n.ID
		byID[n.ID] = n
	}
	if !slices.Equal(ids, a.IDs) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("ids %v", a.IDs), Actual: fmt.Sprintf("ids %v", ids)}
	}

	for _, root := range sortedKeys(a.Links) {
		node := byID[root]
		for _, label := range sortedKeys(a.Links[root]) {
			want := a.Links[root][label]
			got := make([]string, len(node.Links[label]))
			for i, peer := range node.Links[label] {
				got[i] = peer.ID
			}
			if !slices.Equal(got, want) {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("%s.%s = %v", root, label, want),
					Actual:   fmt.Sprintf("%s.%s = %v", root, label, got),
				}
			}
		}
	}
	return nil
}

// decodeQuery goes through JSON so that where values become IR values
// exactly as they would over the wire.
func decodeQuery(raw map[string]any) (livequery.Query, error) {
	var q livequery.Query
	data, err := json.Marshal(raw)
	if err != nil {
		return q, fmt.Errorf("query: %w", err)
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, fmt.Errorf("query: %w", err)
	}
	return q, nil
}

// assertTouched checks that some committed event recorded the touch.
func assertTouched(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if slices.Contains(event.Touches, a.Touch) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: a.Touch,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func render(v ir.IRValue) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
