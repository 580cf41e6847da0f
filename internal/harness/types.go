package harness

import (
	"fmt"

	"github.com/roach88/livegraph/internal/ir"
)

// Trace event phases.
const (
	PhaseSetup = "setup"
	PhaseStep  = "step"
)

// Trace event outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

// TraceEvent records the outcome of one setup transaction or step.
// Transaction ids are left out so traces stay readable; they are a pure
// function of the expanded ops and seq.
type TraceEvent struct {
	Phase   string   `json:"phase"`
	Index   int      `json:"index"`
	Outcome string   `json:"outcome"`
	Seq     int64    `json:"seq,omitempty"`
	Touches []string `json:"touches,omitempty"`
	Code    string   `json:"code,omitempty"`
	OpIndex int      `json:"op_index,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per setup transaction and step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Seq is the last committed seq.
	Seq int64 `json:"seq"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddCommit records a committed transaction.
func (r *Result) AddCommit(phase string, index int, cl ir.Changelog) {
	touches := make([]string, len(cl.Touches))
	for i, t := range cl.Touches {
		touches[i] = FormatTouch(t)
	}
	r.Trace = append(r.Trace, TraceEvent{
		Phase:   phase,
		Index:   index,
		Outcome: OutcomeCommitted,
		Seq:     cl.Seq,
		Touches: touches,
	})
	r.Seq = cl.Seq
}

// AddRejection records a rejected transaction. opIndex is -1 when the
// rejection is not tied to one op.
func (r *Result) AddRejection(phase string, index int, code string, opIndex int) {
	r.Trace = append(r.Trace, TraceEvent{
		Phase:   phase,
		Index:   index,
		Outcome: OutcomeRejected,
		Code:    code,
		OpIndex: opIndex,
	})
}

// FormatTouch renders a touch as "<action> <type>[<id>].<name>", with
// " -> <peer>" appended for link touches.
func FormatTouch(t ir.Touch) string {
	s := fmt.Sprintf("%s %s[%s].%s", t.Action, t.Type, t.ID, t.Name)
	if t.Peer != "" {
		s += " -> " + t.Peer
	}
	return s
}
