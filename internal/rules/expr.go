package rules

import (
	"fmt"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
)

// Category is the operation a rule governs.
type Category string

const (
	View    Category = "view"
	Create  Category = "create"
	Update  Category = "update"
	Delete  Category = "delete"
	Link    Category = "link"
	Unlink  Category = "unlink"
	Default Category = "$default"
)

// ValidCategories lists the categories a rule may be declared under.
var ValidCategories = map[Category]bool{
	View: true, Create: true, Update: true, Delete: true,
	Link: true, Unlink: true, Default: true,
}

// CategoryFor maps a transaction op kind to its rule category.
func CategoryFor(kind ir.OpKind) Category {
	switch kind {
	case ir.OpCreate:
		return Create
	case ir.OpUpdate:
		return Update
	case ir.OpDelete:
		return Delete
	case ir.OpLink:
		return Link
	case ir.OpUnlink:
		return Unlink
	}
	return Category(kind)
}

// Operand is a comparison value: a literal, or a field of the acting
// identity (auth.id, auth.email).
type Operand struct {
	Auth  string     `json:"auth,omitempty"`
	Value ir.IRValue `json:"value,omitempty"`
}

// AuthField references a field of the acting identity.
func AuthField(name string) Operand { return Operand{Auth: name} }

// AuthID references the acting identity's id.
func AuthID() Operand { return AuthField("id") }

// Lit is a literal operand.
func Lit(v ir.IRValue) Operand { return Operand{Value: v} }

// Str is a literal string operand.
func Str(s string) Operand { return Lit(ir.IRString(s)) }

// resolve returns the operand's value for who. An identity field that is
// unset does not resolve, so comparisons against it fail.
func (o Operand) resolve(who ir.Identity) (ir.IRValue, bool) {
	if o.Auth != "" {
		return who.Field(o.Auth)
	}
	if o.Value == nil {
		return nil, false
	}
	return o.Value, true
}

func (o Operand) String() string {
	if o.Auth != "" {
		return "auth." + o.Auth
	}
	b, err := ir.MarshalValue(o.Value)
	if err != nil {
		return "?"
	}
	return string(b)
}

// Expr is a rule expression. The interface is sealed; the node types in
// this file are the only implementations.
type Expr interface {
	expr()
	String() string
}

// Literal is an unconditional decision.
type Literal struct {
	Allow bool
}

// AttrEq holds when the candidate's attribute equals the operand.
// Attr "id" compares the entity id.
type AttrEq struct {
	Attr  string
	Value Operand
}

// LinkTraverse follows Path (a sequence of labels) from the candidate and
// holds when any reached entity's Attr equals Value. This is the
// "auth.id in data.ref('author.owner.id')" form.
type LinkTraverse struct {
	Path  []string
	Attr  string
	Value Operand
}

// AttrPrefix holds when the candidate's string attribute starts with the
// concatenation of Parts, e.g. path startsWith "/" + auth.id + "/".
type AttrPrefix struct {
	Attr  string
	Parts []Operand
}

// And holds when every operand holds. An empty And holds.
type And struct{ Exprs []Expr }

// Or holds when any operand holds. An empty Or does not.
type Or struct{ Exprs []Expr }

// Not negates its operand.
type Not struct{ Expr Expr }

func (Literal) expr()      {}
func (AttrEq) expr()       {}
func (LinkTraverse) expr() {}
func (AttrPrefix) expr()   {}
func (And) expr()          {}
func (Or) expr()           {}
func (Not) expr()          {}

func (l Literal) String() string {
	if l.Allow {
		return "true"
	}
	return "false"
}

func (a AttrEq) String() string {
	return fmt.Sprintf("data.%s == %s", a.Attr, a.Value)
}

func (l LinkTraverse) String() string {
	return fmt.Sprintf("%s in data.ref('%s.%s')", l.Value, strings.Join(l.Path, "."), l.Attr)
}

func (a AttrPrefix) String() string {
	parts := make([]string, len(a.Parts))
	for i, p := range a.Parts {
		parts[i] = p.String()
	}
	return fmt.Sprintf("data.%s.startsWith(%s)", a.Attr, strings.Join(parts, " + "))
}

func (a And) String() string { return joinExprs(a.Exprs, " && ") }
func (o Or) String() string  { return joinExprs(o.Exprs, " || ") }
func (n Not) String() string { return "!(" + n.Expr.String() + ")" }

func joinExprs(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// AllowAll and DenyAll are the literal rules.
var (
	AllowAll Expr = Literal{Allow: true}
	DenyAll  Expr = Literal{Allow: false}
)
