package ir

import "fmt"

// Identity is the acting principal attached to every transaction and
// subscription. A zero Identity is a guest: rules comparing auth.id never
// match it.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"` // admin transactions bypass rules
}

// IsGuest reports whether no user is attached.
func (i Identity) IsGuest() bool { return i.ID == "" && !i.Admin }

// Field returns the named identity field as a value, for rule operands.
// Unknown fields and empty values return ok=false.
func (i Identity) Field(name string) (IRValue, bool) {
	switch name {
	case "id":
		if i.ID == "" {
			return nil, false
		}
		return IRString(i.ID), true
	case "email":
		if i.Email == "" {
			return nil, false
		}
		return IRString(i.Email), true
	}
	return nil, false
}

// Object renders the identity for storage.
func (i Identity) Object() IRObject {
	obj := IRObject{"id": IRString(i.ID)}
	if i.Email != "" {
		obj["email"] = IRString(i.Email)
	}
	if i.Admin {
		obj["admin"] = IRBool(true)
	}
	return obj
}

// Entity is a typed record identified by a globally unique id.
// Attrs never holds IRNull; absent optional attributes are missing keys.
type Entity struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Attrs      IRObject `json:"attrs"`
	CreatedSeq int64    `json:"created_seq"`
	UpdatedSeq int64    `json:"updated_seq"`
}

// Attr returns an attribute value. "id" resolves to the entity id.
func (e Entity) Attr(name string) (IRValue, bool) {
	if name == "id" {
		return IRString(e.ID), true
	}
	v, ok := e.Attrs[name]
	return v, ok
}

// Edge is one stored link instance. From is the entity on the link's
// forward side, To the entity on its reverse side.
type Edge struct {
	Link string `json:"link"`
	From string `json:"from"`
	To   string `json:"to"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s(%s->%s)", e.Link, e.From, e.To)
}

// OpKind names the kinds of transaction step.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
	OpLink   OpKind = "link"
	OpUnlink OpKind = "unlink"
)

// ValidOpKinds lists the accepted op kinds.
var ValidOpKinds = map[OpKind]bool{
	OpCreate: true,
	OpUpdate: true,
	OpDelete: true,
	OpLink:   true,
	OpUnlink: true,
}

// Op is one step of a transaction. Link and PeerID are set for link and
// unlink; Link is a label resolved from Type's side of the link.
type Op struct {
	Kind    OpKind   `json:"op"`
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Attrs   IRObject `json:"attrs,omitempty"`
	Link    string   `json:"link,omitempty"`
	PeerID  string   `json:"peer_id,omitempty"`
	Cascade bool     `json:"cascade,omitempty"` // delete induced by cascade
}

// Object renders the op as an IRObject for canonical hashing and storage.
func (o Op) Object() IRObject {
	obj := IRObject{
		"op":   IRString(o.Kind),
		"type": IRString(o.Type),
		"id":   IRString(o.ID),
	}
	if len(o.Attrs) > 0 {
		attrs := make(IRObject, len(o.Attrs))
		for k, v := range o.Attrs {
			// null is not canonical; removals are recorded as a marker.
			if _, isNull := v.(IRNull); isNull {
				attrs[k] = IRObject{"$remove": IRBool(true)}
				continue
			}
			attrs[k] = v
		}
		obj["attrs"] = attrs
	}
	if o.Link != "" {
		obj["link"] = IRString(o.Link)
		obj["peer_id"] = IRString(o.PeerID)
	}
	if o.Cascade {
		obj["cascade"] = IRBool(true)
	}
	return obj
}

func (o Op) String() string {
	switch o.Kind {
	case OpLink, OpUnlink:
		return fmt.Sprintf("%s %s[%s].%s -> %s", o.Kind, o.Type, o.ID, o.Link, o.PeerID)
	}
	return fmt.Sprintf("%s %s[%s]", o.Kind, o.Type, o.ID)
}

// Transaction is an ordered, atomic list of ops.
// BaseSeq is the commit seq the client built the transaction against; ops
// targeting entities deleted after BaseSeq fail with a conflict. Zero
// means the base is unknown, and such ops fail as not found.
type Transaction struct {
	ID      string `json:"id,omitempty"`
	BaseSeq int64  `json:"base_seq,omitempty"`
	Ops     []Op   `json:"ops"`
}

// TouchKind distinguishes attribute touches from link touches.
type TouchKind string

const (
	TouchAttribute TouchKind = "attribute"
	TouchLink      TouchKind = "link"
)

// Touch records one (entity, attribute-or-link) pair a commit changed.
// For attribute touches Name is the attribute ("id" for create and delete);
// for link touches Name is the label as seen from Type and Peer is the
// entity on the other side.
type Touch struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Kind   TouchKind `json:"kind"`
	Name   string    `json:"name"`
	Action OpKind    `json:"action"`
	Peer   string    `json:"peer,omitempty"`
}

// Changelog is the record of a single commit, delivered to live queries
// and written to the commit log.
type Changelog struct {
	Seq     int64   `json:"seq"`
	TxID    string  `json:"tx_id"`
	Touches []Touch `json:"touches"`
}

// Types returns the distinct entity types touched, in first-seen order.
func (c Changelog) Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range c.Touches {
		if !seen[t.Type] {
			seen[t.Type] = true
			out = append(out, t.Type)
		}
	}
	return out
}

// Session binds an opaque token to a user. IssuedSeq is the commit seq
// current when the token was issued.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	IssuedSeq int64  `json:"issued_seq"`
}

// Identity returns the acting identity the session authenticates.
func (s Session) Identity() Identity {
	return Identity{ID: s.UserID, Email: s.Email}
}
