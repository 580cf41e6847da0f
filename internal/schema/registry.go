package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
)

// AttrType is the declared value type of an attribute.
type AttrType string

const (
	TypeString  AttrType = "string"
	TypeNumber  AttrType = "number"
	TypeBoolean AttrType = "boolean"
	TypeAny     AttrType = "any" // any scalar
)

var validAttrTypes = map[AttrType]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeAny:     true,
}

// Attr describes one attribute of an entity type.
type Attr struct {
	Name     string   `json:"name"`
	Type     AttrType `json:"type"`
	Unique   bool     `json:"unique,omitempty"`
	Indexed  bool     `json:"indexed,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

// Accepts reports whether v is a legal stored value for the attribute.
// Null is never stored; callers handle it as a removal first.
func (a Attr) Accepts(v ir.IRValue) bool {
	kind := ir.KindName(v)
	switch a.Type {
	case TypeAny:
		return kind == "string" || kind == "number" || kind == "boolean"
	default:
		return kind == string(a.Type)
	}
}

// Keyed reports whether the attribute is maintained in an equality index.
func (a Attr) Keyed() bool { return a.Unique || a.Indexed }

// EntityDef is a declared entity type.
type EntityDef struct {
	Name  string `json:"name"`
	Attrs []Attr `json:"attrs"` // sorted by name

	byName map[string]Attr
}

// Attr looks up an attribute by name.
func (e *EntityDef) Attr(name string) (Attr, bool) {
	a, ok := e.byName[name]
	return a, ok
}

// Required returns the names of attributes that must be present on create.
func (e *EntityDef) Required() []string {
	var out []string
	for _, a := range e.Attrs {
		if !a.Optional {
			out = append(out, a.Name)
		}
	}
	return out
}

// Cardinality bounds how many peers an entity may have through a role.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// OnDelete is the delete behavior attached to a role.
type OnDelete string

const (
	NoAction OnDelete = ""
	Cascade  OnDelete = "cascade"
)

// Role is one side of a link.
//
// Has bounds how many peers an entity of type On has through Label.
// OnDelete=Cascade means an entity on this side is deleted when its peer
// on the other side is deleted.
type Role struct {
	On       string      `json:"on"`
	Has      Cardinality `json:"has"`
	Label    string      `json:"label"`
	OnDelete OnDelete    `json:"on_delete,omitempty"`
}

// LinkDef is a declared bidirectional link.
type LinkDef struct {
	Name    string `json:"name"`
	Forward Role   `json:"forward"`
	Reverse Role   `json:"reverse"`
}

// Side selects one of a link's two roles.
type Side int

const (
	Forward Side = iota
	Reverse
)

func (s Side) String() string {
	if s == Forward {
		return "forward"
	}
	return "reverse"
}

// Traversal is a link seen from one of its sides, as resolved from
// (entity type, label).
type Traversal struct {
	Link *LinkDef
	Side Side
}

// Self is the role on the starting entity's side.
func (t Traversal) Self() Role {
	if t.Side == Forward {
		return t.Link.Forward
	}
	return t.Link.Reverse
}

// Peer is the role on the far side.
func (t Traversal) Peer() Role {
	if t.Side == Forward {
		return t.Link.Reverse
	}
	return t.Link.Forward
}

// Label is the label used to traverse from the starting side.
func (t Traversal) Label() string { return t.Self().Label }

// PeerType is the entity type reached by the traversal.
func (t Traversal) PeerType() string { return t.Peer().On }

// Single reports whether the starting entity may have at most one peer.
func (t Traversal) Single() bool { return t.Self().Has == One }

// Cascades reports whether deleting the starting entity deletes its peers.
func (t Traversal) Cascades() bool { return t.Peer().OnDelete == Cascade }

// Edge orients (self, peer) into a stored edge.
func (t Traversal) Edge(self, peer string) ir.Edge {
	if t.Side == Forward {
		return ir.Edge{Link: t.Link.Name, From: self, To: peer}
	}
	return ir.Edge{Link: t.Link.Name, From: peer, To: self}
}

// Reverse returns the same link seen from the peer's side.
func (t Traversal) Reverse() Traversal {
	if t.Side == Forward {
		return Traversal{Link: t.Link, Side: Reverse}
	}
	return Traversal{Link: t.Link, Side: Forward}
}

// Registry holds the declared entity types and links.
// Definition methods are not safe for concurrent use; lookups are, once
// definition is finished.
type Registry struct {
	entities map[string]*EntityDef
	links    map[string]*LinkDef
	labels   map[string]map[string]Traversal // type -> label -> traversal
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		entities: make(map[string]*EntityDef),
		links:    make(map[string]*LinkDef),
		labels:   make(map[string]map[string]Traversal),
	}
}

// DefineEntity declares an entity type with its attributes.
func (r *Registry) DefineEntity(name string, attrs ...Attr) error {
	if strings.TrimSpace(name) == "" {
		return &DefinitionError{Code: ErrInvalidName, Subject: name, Message: "entity name is required"}
	}
	if _, dup := r.entities[name]; dup {
		return &DefinitionError{Code: ErrDuplicateEntity, Subject: name, Message: "entity type already declared"}
	}

	def := &EntityDef{Name: name, byName: make(map[string]Attr, len(attrs))}
	for _, a := range attrs {
		if a.Name == "" || a.Name == "id" {
			return &DefinitionError{Code: ErrInvalidName, Subject: name, Field: a.Name, Message: "attribute name is empty or reserved"}
		}
		if a.Type == "" {
			a.Type = TypeAny
		}
		if !validAttrTypes[a.Type] {
			return &DefinitionError{
				Code: ErrInvalidAttrType, Subject: name, Field: a.Name,
				Message: fmt.Sprintf("unknown attribute type %q", a.Type),
			}
		}
		if _, dup := def.byName[a.Name]; dup {
			return &DefinitionError{Code: ErrDuplicateAttrName, Subject: name, Field: a.Name, Message: "attribute declared twice"}
		}
		def.byName[a.Name] = a
		def.Attrs = append(def.Attrs, a)
	}
	slices.SortFunc(def.Attrs, func(a, b Attr) int { return strings.Compare(a.Name, b.Name) })

	r.entities[name] = def
	r.labels[name] = make(map[string]Traversal)
	return nil
}

// DefineLink declares a link between two roles. Both role types must
// already be declared, and neither label may collide with an existing
// label or attribute on its type.
func (r *Registry) DefineLink(name string, forward, reverse Role) error {
	if strings.TrimSpace(name) == "" {
		return &DefinitionError{Code: ErrInvalidName, Subject: name, Message: "link name is required"}
	}
	if _, dup := r.links[name]; dup {
		return &DefinitionError{Code: ErrDuplicateLink, Subject: name, Message: "link already declared"}
	}
	for _, side := range []struct {
		field string
		role  Role
	}{{"forward", forward}, {"reverse", reverse}} {
		if err := r.checkRole(name, side.field, side.role); err != nil {
			return err
		}
	}
	if forward.On == reverse.On && forward.Label == reverse.Label {
		return &DefinitionError{
			Code: ErrDuplicateLabel, Subject: name, Field: "reverse.label",
			Message: fmt.Sprintf("label %q used on both sides of a self link", forward.Label),
		}
	}

	def := &LinkDef{Name: name, Forward: forward, Reverse: reverse}
	r.links[name] = def
	r.labels[forward.On][forward.Label] = Traversal{Link: def, Side: Forward}
	r.labels[reverse.On][reverse.Label] = Traversal{Link: def, Side: Reverse}
	return nil
}

func (r *Registry) checkRole(link, field string, role Role) error {
	ent, ok := r.entities[role.On]
	if !ok {
		return &DefinitionError{
			Code: ErrUndeclaredType, Subject: link, Field: field + ".on",
			Message: fmt.Sprintf("entity type %q is not declared", role.On),
		}
	}
	if role.Label == "" || role.Label == "id" {
		return &DefinitionError{Code: ErrInvalidName, Subject: link, Field: field + ".label", Message: "label is empty or reserved"}
	}
	if role.Has != One && role.Has != Many {
		return &DefinitionError{
			Code: ErrInvalidCardinal, Subject: link, Field: field + ".has",
			Message: fmt.Sprintf("cardinality must be one or many, got %q", role.Has),
		}
	}
	if role.OnDelete != NoAction && role.OnDelete != Cascade {
		return &DefinitionError{
			Code: ErrInvalidOnDelete, Subject: link, Field: field + ".onDelete",
			Message: fmt.Sprintf("unsupported onDelete %q", role.OnDelete),
		}
	}
	if existing, taken := r.labels[role.On][role.Label]; taken {
		return &DefinitionError{
			Code: ErrDuplicateLabel, Subject: link, Field: field + ".label",
			Message: fmt.Sprintf("label %q already used on %s by link %s", role.Label, role.On, existing.Link.Name),
		}
	}
	if _, clash := ent.byName[role.Label]; clash {
		return &DefinitionError{
			Code: ErrDuplicateLabel, Subject: link, Field: field + ".label",
			Message: fmt.Sprintf("label %q collides with an attribute of %s", role.Label, role.On),
		}
	}
	return nil
}

// MustDefineEntity is DefineEntity that panics on error.
func (r *Registry) MustDefineEntity(name string, attrs ...Attr) *Registry {
	if err := r.DefineEntity(name, attrs...); err != nil {
		panic(err)
	}
	return r
}

// MustDefineLink is DefineLink that panics on error.
func (r *Registry) MustDefineLink(name string, forward, reverse Role) *Registry {
	if err := r.DefineLink(name, forward, reverse); err != nil {
		panic(err)
	}
	return r
}

// Entity looks up an entity type.
func (r *Registry) Entity(name string) (*EntityDef, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// Attr looks up an attribute of an entity type.
func (r *Registry) Attr(typ, name string) (Attr, bool) {
	e, ok := r.entities[typ]
	if !ok {
		return Attr{}, false
	}
	return e.Attr(name)
}

// Link looks up a link by name.
func (r *Registry) Link(name string) (*LinkDef, bool) {
	l, ok := r.links[name]
	return l, ok
}

// Resolve finds the link reachable from typ through label, from either side.
func (r *Registry) Resolve(typ, label string) (Traversal, bool) {
	t, ok := r.labels[typ][label]
	return t, ok
}

// Traversals lists every link reachable from typ, ordered by link name
// then side. The order is stable so cascade expansion is deterministic.
func (r *Registry) Traversals(typ string) []Traversal {
	out := make([]Traversal, 0, len(r.labels[typ]))
	for _, t := range r.labels[typ] {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Traversal) int {
		if c := strings.Compare(a.Link.Name, b.Link.Name); c != 0 {
			return c
		}
		return int(a.Side) - int(b.Side)
	})
	return out
}

// EntityNames returns declared entity types in sorted order.
func (r *Registry) EntityNames() []string {
	out := make([]string, 0, len(r.entities))
	for name := range r.entities {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Links returns declared links sorted by name.
func (r *Registry) Links() []*LinkDef {
	out := make([]*LinkDef, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b *LinkDef) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Hash returns a content hash of the registry. It is recorded with every
// commit so replays can detect schema drift.
func (r *Registry) Hash() (string, error) {
	entities := ir.IRObject{}
	for _, name := range r.EntityNames() {
		attrs := ir.IRArray{}
		for _, a := range r.entities[name].Attrs {
			attrs = append(attrs, ir.IRObject{
				"name":     ir.IRString(a.Name),
				"type":     ir.IRString(a.Type),
				"unique":   ir.IRBool(a.Unique),
				"indexed":  ir.IRBool(a.Indexed),
				"optional": ir.IRBool(a.Optional),
			})
		}
		entities[name] = attrs
	}
	links := ir.IRObject{}
	for _, l := range r.Links() {
		links[l.Name] = ir.IRObject{
			"forward": roleObject(l.Forward),
			"reverse": roleObject(l.Reverse),
		}
	}
	return ir.HashCanonical(ir.DomainSchema, ir.IRObject{"entities": entities, "links": links})
}

func roleObject(r Role) ir.IRObject {
	return ir.IRObject{
		"on":        ir.IRString(r.On),
		"has":       ir.IRString(r.Has),
		"label":     ir.IRString(r.Label),
		"on_delete": ir.IRString(r.OnDelete),
	}
}
