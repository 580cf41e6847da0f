package rules

import (
	"fmt"
	"slices"

	"github.com/roach88/livegraph/internal/schema"
)

// RuleSet maps (entity type, category) to a rule expression.
type RuleSet struct {
	rules map[string]map[Category]Expr
}

// NewRuleSet returns an empty rule set. With no rules every operation is
// denied.
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[string]map[Category]Expr)}
}

// Set declares the rule for (typ, cat), replacing any previous one.
func (rs *RuleSet) Set(typ string, cat Category, e Expr) *RuleSet {
	if rs.rules[typ] == nil {
		rs.rules[typ] = make(map[Category]Expr)
	}
	rs.rules[typ][cat] = e
	return rs
}

// Resolve picks the rule governing cat on typ and reports which category
// supplied it. ok is false when no rule applies, which means deny.
func (rs *RuleSet) Resolve(typ string, cat Category) (e Expr, from Category, ok bool) {
	byCat := rs.rules[typ]
	if byCat == nil {
		return nil, "", false
	}
	if e, ok := byCat[cat]; ok {
		return e, cat, true
	}
	if cat == Link || cat == Unlink {
		if e, ok := byCat[Update]; ok {
			return e, Update, true
		}
	}
	if e, ok := byCat[Default]; ok {
		return e, Default, true
	}
	return nil, "", false
}

// Types returns the entity types that have at least one rule, sorted.
func (rs *RuleSet) Types() []string {
	out := make([]string, 0, len(rs.rules))
	for t := range rs.rules {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Categories returns the categories declared for typ, sorted.
func (rs *RuleSet) Categories(typ string) []Category {
	out := make([]Category, 0, len(rs.rules[typ]))
	for c := range rs.rules[typ] {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Validate checks every rule against the registry: the type exists, the
// category is known, and every attribute and link path resolves.
// All problems are returned, not just the first.
func (rs *RuleSet) Validate(reg *schema.Registry) []error {
	var errs []error
	for _, typ := range rs.Types() {
		if _, ok := reg.Entity(typ); !ok {
			errs = append(errs, fmt.Errorf("rules for undeclared entity type %q", typ))
			continue
		}
		for _, cat := range rs.Categories(typ) {
			if !ValidCategories[cat] {
				errs = append(errs, fmt.Errorf("%s: unknown rule category %q", typ, cat))
				continue
			}
			for _, err := range validateExpr(reg, typ, rs.rules[typ][cat]) {
				errs = append(errs, fmt.Errorf("%s.%s: %w", typ, cat, err))
			}
		}
	}
	return errs
}

func validateExpr(reg *schema.Registry, typ string, e Expr) []error {
	switch x := e.(type) {
	case Literal:
		return nil
	case AttrEq:
		return checkAttr(reg, typ, x.Attr)
	case AttrPrefix:
		errs := checkAttr(reg, typ, x.Attr)
		if a, ok := reg.Attr(typ, x.Attr); ok && a.Type != schema.TypeString && a.Type != schema.TypeAny {
			errs = append(errs, fmt.Errorf("startsWith on non-string attribute %q", x.Attr))
		}
		return errs
	case LinkTraverse:
		target, err := PathType(reg, typ, x.Path)
		if err != nil {
			return []error{err}
		}
		return checkAttr(reg, target, x.Attr)
	case And:
		return validateAll(reg, typ, x.Exprs)
	case Or:
		return validateAll(reg, typ, x.Exprs)
	case Not:
		if x.Expr == nil {
			return []error{fmt.Errorf("negation of nothing")}
		}
		return validateExpr(reg, typ, x.Expr)
	case nil:
		return []error{fmt.Errorf("missing rule expression")}
	}
	return []error{fmt.Errorf("unsupported rule expression %T", e)}
}

func validateAll(reg *schema.Registry, typ string, exprs []Expr) []error {
	var errs []error
	for _, e := range exprs {
		errs = append(errs, validateExpr(reg, typ, e)...)
	}
	return errs
}

func checkAttr(reg *schema.Registry, typ, attr string) []error {
	if attr == "id" {
		return nil
	}
	if _, ok := reg.Attr(typ, attr); !ok {
		return []error{fmt.Errorf("unknown attribute %s.%s", typ, attr)}
	}
	return nil
}

// PathType follows a label path from typ and returns the type reached.
func PathType(reg *schema.Registry, typ string, path []string) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("empty link path")
	}
	cur := typ
	for _, label := range path {
		t, ok := reg.Resolve(cur, label)
		if !ok {
			return "", fmt.Errorf("no link %q on %s", label, cur)
		}
		cur = t.PeerType()
	}
	return cur, nil
}
