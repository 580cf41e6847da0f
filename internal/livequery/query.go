package livequery

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
)

// ErrInvalidQuery wraps every query compilation failure.
var ErrInvalidQuery = errors.New("invalid query")

// Query is the declarative shape clients subscribe to.
//
// Where keys select root entities:
//
//	"handle": "alyssa"         attribute (or "id") equals value
//	"author": "pr1"            a peer through label has that id
//	"author.handle": "alyssa"  a peer through label has attribute = value
//
// Longer dotted paths follow several labels. Include nests a query per
// label; a nested Type may be omitted and is then taken from the link.
type Query struct {
	Type    string            `json:"type,omitempty"`
	Where   ir.IRObject       `json:"where,omitempty"`
	Include map[string]*Query `json:"include,omitempty"`
}

// Predicate filters candidate entities.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
	String() string
}

// Equals matches entities whose attribute (or "id") equals Value.
type Equals struct {
	Attr  string
	Value ir.IRValue
}

// LinkEquals matches entities from which some entity reached through Path
// has Attr equal to Value.
type LinkEquals struct {
	Path  []string
	Attr  string
	Value ir.IRValue
}

// And matches when every predicate matches. An empty And matches all.
type And struct {
	Predicates []Predicate
}

func (Equals) predicateNode()     {}
func (LinkEquals) predicateNode() {}
func (And) predicateNode()        {}

func (p Equals) String() string {
	return fmt.Sprintf("%s = %s", p.Attr, renderValue(p.Value))
}

func (p LinkEquals) String() string {
	return fmt.Sprintf("%s.%s = %s", strings.Join(p.Path, "."), p.Attr, renderValue(p.Value))
}

func (p And) String() string {
	parts := make([]string, len(p.Predicates))
	for i, sub := range p.Predicates {
		parts[i] = sub.String()
	}
	return "(" + strings.Join(parts, " && ") + ")"
}

func renderValue(v ir.IRValue) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return "?"
	}
	return string(b)
}

// Plan is a compiled, schema-checked query.
type Plan struct {
	Type     string
	Filter   Predicate // nil matches every entity
	Includes []Include // sorted by label
}

// Include is one nested traversal of a plan.
type Include struct {
	Label     string
	Traversal schema.Traversal
	Plan      *Plan
}

// Compile checks q against reg and builds its plan.
func Compile(reg *schema.Registry, q Query) (*Plan, error) {
	if q.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidQuery)
	}
	return compile(reg, q, q.Type, q.Type)
}

func compile(reg *schema.Registry, q Query, typ, at string) (*Plan, error) {
	if _, ok := reg.Entity(typ); !ok {
		return nil, fmt.Errorf("%w: %s: unknown entity type %q", ErrInvalidQuery, at, typ)
	}
	if q.Type != "" && q.Type != typ {
		return nil, fmt.Errorf("%w: %s: link reaches %s, query names %s", ErrInvalidQuery, at, typ, q.Type)
	}
	p := &Plan{Type: typ}

	var preds []Predicate
	for _, key := range q.Where.SortedKeys() {
		pred, err := compileWhere(reg, typ, key, q.Where[key])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, at, err)
		}
		preds = append(preds, pred)
	}
	switch len(preds) {
	case 0:
	case 1:
		p.Filter = preds[0]
	default:
		p.Filter = And{Predicates: preds}
	}

	labels := make([]string, 0, len(q.Include))
	for label := range q.Include {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	for _, label := range labels {
		t, ok := reg.Resolve(typ, label)
		if !ok {
			return nil, fmt.Errorf("%w: %s: no link labelled %q", ErrInvalidQuery, at, label)
		}
		sub := q.Include[label]
		if sub == nil {
			sub = &Query{}
		}
		nested, err := compile(reg, *sub, t.PeerType(), at+"."+label)
		if err != nil {
			return nil, err
		}
		p.Includes = append(p.Includes, Include{Label: label, Traversal: t, Plan: nested})
	}
	return p, nil
}

func compileWhere(reg *schema.Registry, typ, key string, v ir.IRValue) (Predicate, error) {
	if k := ir.KindName(v); k == "" || k == "null" {
		return nil, fmt.Errorf("where %q: value must be a string, number or boolean", key)
	}
	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		if key == "id" {
			return Equals{Attr: "id", Value: v}, nil
		}
		if _, ok := reg.Attr(typ, key); ok {
			return Equals{Attr: key, Value: v}, nil
		}
		if _, ok := reg.Resolve(typ, key); ok {
			return LinkEquals{Path: []string{key}, Attr: "id", Value: v}, nil
		}
		return nil, fmt.Errorf("where %q: no attribute or link on %s", key, typ)
	}
	path, last := parts[:len(parts)-1], parts[len(parts)-1]
	end, err := rules.PathType(reg, typ, path)
	if err != nil {
		return nil, fmt.Errorf("where %q: %v", key, err)
	}
	if last == "id" {
		return LinkEquals{Path: path, Attr: "id", Value: v}, nil
	}
	if _, ok := reg.Attr(end, last); ok {
		return LinkEquals{Path: path, Attr: last, Value: v}, nil
	}
	if _, ok := reg.Resolve(end, last); ok {
		return LinkEquals{Path: parts, Attr: "id", Value: v}, nil
	}
	return nil, fmt.Errorf("where %q: no attribute or link %s on %s", key, last, end)
}

// Types returns every entity type the plan reads, sorted.
func (p *Plan) Types(reg *schema.Registry) []string {
	set := make(map[string]bool)
	p.collectTypes(reg, set)
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (p *Plan) collectTypes(reg *schema.Registry, set map[string]bool) {
	set[p.Type] = true
	collectPredicateTypes(reg, p.Type, p.Filter, set)
	for _, inc := range p.Includes {
		inc.Plan.collectTypes(reg, set)
	}
}

func collectPredicateTypes(reg *schema.Registry, typ string, pred Predicate, set map[string]bool) {
	switch x := pred.(type) {
	case LinkEquals:
		cur := typ
		for _, label := range x.Path {
			t, ok := reg.Resolve(cur, label)
			if !ok {
				return
			}
			cur = t.PeerType()
			set[cur] = true
		}
	case And:
		for _, sub := range x.Predicates {
			collectPredicateTypes(reg, typ, sub, set)
		}
	}
}
