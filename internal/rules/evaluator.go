package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/schema"
)

// ErrDenied is wrapped by every deny decision. Test with errors.Is.
var ErrDenied = errors.New("rules: permission denied")

// Denyf returns a formatted error wrapping ErrDenied.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, ErrDenied)...)
}

// StateView is the read-only graph state a rule is evaluated against.
// Neighbors returns peer ids sorted ascending.
type StateView interface {
	Entity(id string) (ir.Entity, bool)
	Neighbors(id string, t schema.Traversal) []string
}

// Evaluator decides whether an identity may perform an operation on an
// entity. It is immutable and safe for concurrent use.
type Evaluator struct {
	reg   *schema.Registry
	rules *RuleSet
}

// NewEvaluator binds a rule set to the registry it was validated against.
func NewEvaluator(reg *schema.Registry, rs *RuleSet) *Evaluator {
	if rs == nil {
		rs = NewRuleSet()
	}
	return &Evaluator{reg: reg, rules: rs}
}

// Rules returns the rule set.
func (e *Evaluator) Rules() *RuleSet { return e.rules }

// Authorize returns nil if who may perform cat on ent as seen in view, or
// an error wrapping ErrDenied. Admin identities are always allowed.
func (e *Evaluator) Authorize(cat Category, ent ir.Entity, view StateView, who ir.Identity) error {
	if who.Admin {
		return nil
	}
	expr, from, ok := e.rules.Resolve(ent.Type, cat)
	if !ok {
		return Denyf("%s %s[%s]: no rule declared", cat, ent.Type, ent.ID)
	}
	if !e.eval(expr, ent, view, who) {
		return Denyf("%s %s[%s]: %s rule %s", cat, ent.Type, ent.ID, from, expr)
	}
	return nil
}

// CanView reports whether who may see ent.
func (e *Evaluator) CanView(ent ir.Entity, view StateView, who ir.Identity) bool {
	return e.Authorize(View, ent, view, who) == nil
}

func (e *Evaluator) eval(expr Expr, ent ir.Entity, view StateView, who ir.Identity) bool {
	switch x := expr.(type) {
	case Literal:
		return x.Allow
	case AttrEq:
		want, ok := x.Value.resolve(who)
		if !ok {
			return false
		}
		got, ok := ent.Attr(x.Attr)
		return ok && ir.Equal(got, want)
	case AttrPrefix:
		got, ok := ent.Attr(x.Attr)
		if !ok {
			return false
		}
		s, isString := got.(ir.IRString)
		if !isString {
			return false
		}
		var prefix strings.Builder
		for _, part := range x.Parts {
			v, ok := part.resolve(who)
			if !ok {
				return false
			}
			ps, isString := v.(ir.IRString)
			if !isString {
				return false
			}
			prefix.WriteString(string(ps))
		}
		return strings.HasPrefix(string(s), prefix.String())
	case LinkTraverse:
		want, ok := x.Value.resolve(who)
		if !ok {
			return false
		}
		for _, id := range e.follow(ent, x.Path, view) {
			reached, ok := view.Entity(id)
			if !ok {
				continue
			}
			if got, ok := reached.Attr(x.Attr); ok && ir.Equal(got, want) {
				return true
			}
		}
		return false
	case And:
		for _, sub := range x.Exprs {
			if !e.eval(sub, ent, view, who) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range x.Exprs {
			if e.eval(sub, ent, view, who) {
				return true
			}
		}
		return false
	case Not:
		if x.Expr == nil {
			return false
		}
		return !e.eval(x.Expr, ent, view, who)
	}
	return false
}

// follow walks a label path breadth-first and returns the ids reached at
// the end, deduplicated and sorted. An unresolvable label yields nothing.
func (e *Evaluator) follow(start ir.Entity, path []string, view StateView) []string {
	frontier := []string{start.ID}
	typ := start.Type
	for _, label := range path {
		t, ok := e.reg.Resolve(typ, label)
		if !ok {
			return nil
		}
		seen := make(map[string]bool)
		var next []string
		for _, id := range frontier {
			for _, peer := range view.Neighbors(id, t) {
				if !seen[peer] {
					seen[peer] = true
					next = append(next, peer)
				}
			}
		}
		slices.Sort(next)
		frontier = next
		typ = t.PeerType()
	}
	return frontier
}

// DependentTypes returns the entity types whose changes can alter the
// outcome of the rule governing cat on typ: typ itself plus every type a
// link path in the rule passes through. Sorted.
func (e *Evaluator) DependentTypes(typ string, cat Category) []string {
	set := map[string]bool{typ: true}
	if expr, _, ok := e.rules.Resolve(typ, cat); ok {
		e.collectTypes(expr, typ, set)
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (e *Evaluator) collectTypes(expr Expr, typ string, set map[string]bool) {
	switch x := expr.(type) {
	case LinkTraverse:
		cur := typ
		for _, label := range x.Path {
			t, ok := e.reg.Resolve(cur, label)
			if !ok {
				return
			}
			cur = t.PeerType()
			set[cur] = true
		}
	case And:
		for _, sub := range x.Exprs {
			e.collectTypes(sub, typ, set)
		}
	case Or:
		for _, sub := range x.Exprs {
			e.collectTypes(sub, typ, set)
		}
	case Not:
		if x.Expr != nil {
			e.collectTypes(x.Expr, typ, set)
		}
	}
}
