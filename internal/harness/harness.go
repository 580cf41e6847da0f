package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/livegraph/internal/compiler"
	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/store"
	"github.com/roach88/livegraph/internal/testutil"
	"github.com/roach88/livegraph/internal/txn"
)

// Harness runs one scenario against a real engine.
type Harness struct {
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database so that the commit
// log can be replayed at the end; a replay that does not reproduce the
// published graph fails the scenario.
//
// Execution flow:
// 1. Compile the CUE specs and open an engine over an in-memory store
// 2. Commit setup transactions as admin
// 3. Submit steps, checking each outcome against its expect clause
// 4. Evaluate final assertions and replay the log
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	spec, err := compiler.LoadDir(scenario.Specs)
	if err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	eng, err := engine.New(ctx, spec.Registry, spec.Rules,
		engine.WithStore(st),
		engine.WithIDGenerator(testutil.NewSequentialIDs(scenario.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	h := &Harness{
		engine: eng,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	actx := &AssertionContext{Engine: eng, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	report, err := eng.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to replay: %w", err)
	}
	if !report.Match() {
		result.AddError(fmt.Sprintf("replay of %d commits does not reproduce the graph", report.Commits))
	}
	return result, nil
}

// executeSetup commits every setup transaction as admin. Setup is
// expected to succeed; a rejection aborts the run.
func (h *Harness) executeSetup(ctx context.Context, setup []Transaction, result *Result) error {
	for i, tx := range setup {
		ops, err := convertOps(tx.Ops)
		if err != nil {
			return fmt.Errorf("setup %d: %w", i, err)
		}
		receipt, err := h.engine.TransactAdmin(ctx, ir.Transaction{Ops: ops})
		if err != nil {
			return fmt.Errorf("setup %d: %w", i, err)
		}
		result.AddCommit(PhaseSetup, i, receipt.Changelog)
		h.logger.Info("setup committed", "index", i, "seq", receipt.Seq)
	}
	return nil
}

// executeSteps submits every step and compares its outcome with the
// expect clause. Mismatches are recorded on result; only failures
// unrelated to the transaction itself abort the run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		ops, err := convertOps(step.Ops)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		who := ir.Identity{ID: step.As, Admin: step.Admin}

		receipt, err := h.engine.Transact(ctx, ir.Transaction{Ops: ops}, who)
		var te *txn.Error
		switch {
		case err == nil:
			result.AddCommit(PhaseStep, i, receipt.Changelog)
			if step.Expect != nil {
				result.AddError(fmt.Sprintf("steps[%d]: expected %s, transaction committed at seq %d", i, step.Expect.Error, receipt.Seq))
			}
		case errors.As(err, &te):
			result.AddRejection(PhaseStep, i, string(te.Code), te.OpIndex)
			checkRejection(i, step.Expect, te, result)
		default:
			return fmt.Errorf("step %d: %w", i, err)
		}
		h.logger.Info("step finished", "index", i, "identity", who.ID, "error", err)

		actx := &AssertionContext{Engine: h.engine, Ctx: ctx}
		for _, msg := range EvaluateAssertions(result, step.Check, actx) {
			result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
		}
	}
	return nil
}

func checkRejection(i int, expect *ExpectClause, te *txn.Error, result *Result) {
	if expect == nil {
		result.AddError(fmt.Sprintf("steps[%d]: expected commit, got %v", i, te))
		return
	}
	if string(te.Code) != expect.Error {
		result.AddError(fmt.Sprintf("steps[%d]: expected %s, got %v", i, expect.Error, te))
		return
	}
	if expect.OpIndex != nil && *expect.OpIndex != te.OpIndex {
		result.AddError(fmt.Sprintf("steps[%d]: expected op index %d, got %d", i, *expect.OpIndex, te.OpIndex))
	}
}

// convertOps turns YAML ops into IR ops.
func convertOps(specs []OpSpec) ([]ir.Op, error) {
	ops := make([]ir.Op, len(specs))
	for i, s := range specs {
		attrs, err := convertAttrs(s.Attrs)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops[i] = ir.Op{
			Kind:   ir.OpKind(s.Op),
			Type:   s.Type,
			ID:     s.ID,
			Attrs:  attrs,
			Link:   s.Link,
			PeerID: s.PeerID,
		}
	}
	return ops, nil
}

// convertAttrs converts YAML-parsed attribute values to IR values. Null
// becomes ir.IRNull, which updates use to remove an attribute.
func convertAttrs(attrs map[string]any) (ir.IRObject, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(ir.IRObject, len(attrs))
	for key, val := range attrs {
		if val == nil {
			out[key] = ir.IRNull{}
			continue
		}
		v, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// convertToIRValue converts a YAML scalar to an IRValue. Entity
// attributes are scalars, so lists and maps are rejected here rather
// than by the transaction processor.
func convertToIRValue(val any) (ir.IRValue, error) {
	switch v := val.(type) {
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are not supported: %v", v)
	case bool:
		return ir.IRBool(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
