package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/schema"
)

// Delta is the net change between a draft's base and its committed
// snapshot, in the shape the durable store writes.
type Delta struct {
	Seq         int64       `json:"seq"`
	Upserts     []ir.Entity `json:"upserts"`
	Deletes     []ir.Entity `json:"deletes"` // last state before deletion
	AddEdges    []ir.Edge   `json:"add_edges"`
	RemoveEdges []ir.Edge   `json:"remove_edges"`
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.Upserts) == 0 && len(d.Deletes) == 0 && len(d.AddEdges) == 0 && len(d.RemoveEdges) == 0
}

// Draft is a private working copy of a snapshot. It is not safe for
// concurrent use.
type Draft struct {
	base    *Snapshot
	work    *Snapshot
	seq     int64
	touches []ir.Touch

	touchedIDs   map[string]bool
	touchedEdges map[ir.Edge]bool
}

// Begin starts a draft whose changes will be stamped with seq.
func (s *Snapshot) Begin(seq int64) *Draft {
	return &Draft{
		base:         s,
		work:         s.clone(),
		seq:          seq,
		touchedIDs:   make(map[string]bool),
		touchedEdges: make(map[ir.Edge]bool),
	}
}

// Base is the snapshot the draft started from.
func (d *Draft) Base() *Snapshot { return d.base }

// View is the draft's current state. It must not be retained past Commit.
func (d *Draft) View() *Snapshot { return d.work }

// Touches returns the touches recorded so far.
func (d *Draft) Touches() []ir.Touch { return slices.Clone(d.touches) }

// Create adds a new entity. attrs must not contain IRNull.
func (d *Draft) Create(typ, id string, attrs ir.IRObject) error {
	if _, ok := d.work.reg.Entity(typ); !ok {
		return fmt.Errorf("create %s[%s]: %w", typ, id, ErrUnknownType)
	}
	if d.work.Has(id) {
		return fmt.Errorf("create %s[%s]: %w", typ, id, ErrExists)
	}
	ent := ir.Entity{ID: id, Type: typ, Attrs: attrs.Clone(), CreatedSeq: d.seq, UpdatedSeq: d.seq}
	d.work.put(ent)
	delete(d.work.tombstones, id)
	d.touchedIDs[id] = true

	d.touch(ent, ir.TouchAttribute, "id", ir.OpCreate, "")
	for _, k := range ent.Attrs.SortedKeys() {
		d.touch(ent, ir.TouchAttribute, k, ir.OpCreate, "")
	}
	return nil
}

// Update merges attrs into an existing entity. IRNull removes a key.
// Attributes whose value does not change are not touched.
func (d *Draft) Update(id string, attrs ir.IRObject) error {
	cur, ok := d.work.Entity(id)
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	next := cur
	next.Attrs = cur.Attrs.Clone()
	var changed []string
	for _, k := range attrs.SortedKeys() {
		v := attrs[k]
		old, had := next.Attrs[k]
		if _, remove := v.(ir.IRNull); remove {
			if had {
				delete(next.Attrs, k)
				changed = append(changed, k)
			}
			continue
		}
		if had && ir.Equal(old, v) {
			continue
		}
		next.Attrs[k] = v
		changed = append(changed, k)
	}
	if len(changed) == 0 {
		return nil
	}
	next.UpdatedSeq = d.seq
	d.work.drop(id)
	d.work.put(next)
	d.touchedIDs[id] = true
	for _, k := range changed {
		d.touch(next, ir.TouchAttribute, k, ir.OpUpdate, "")
	}
	return nil
}

// Delete removes id and, transitively, every entity reached through
// cascading links. It returns the deleted ids in closure order.
func (d *Draft) Delete(id string) ([]string, error) {
	closure := d.work.CascadeClosure(id)
	if len(closure) == 0 {
		return nil, fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	for _, victim := range closure {
		d.detach(victim)
	}
	for _, victim := range closure {
		ent, _ := d.work.Entity(victim)
		d.work.drop(victim)
		d.work.tombstones[victim] = d.seq
		d.touchedIDs[victim] = true
		d.touch(ent, ir.TouchAttribute, "id", ir.OpDelete, "")
	}
	return closure, nil
}

// detach removes every edge of id, touching both endpoints.
func (d *Draft) detach(id string) {
	ent, ok := d.work.Entity(id)
	if !ok {
		return
	}
	for _, t := range d.work.reg.Traversals(ent.Type) {
		for _, peer := range d.work.Neighbors(id, t) {
			d.removeEdge(t, id, peer)
		}
	}
}

// Link adds the edge (self, peer) through t, where t was resolved from
// self's type. If a role has cardinality one, any edge it already holds
// is replaced. Linking an existing edge is a no-op.
func (d *Draft) Link(t schema.Traversal, self, peer string) error {
	if err := d.checkEndpoints(t, self, peer); err != nil {
		return fmt.Errorf("link %s.%s: %w", self, t.Label(), err)
	}
	if d.work.HasEdge(t.Edge(self, peer)) {
		return nil
	}
	if t.Single() {
		for _, old := range d.work.Neighbors(self, t) {
			d.removeEdge(t, self, old)
		}
	}
	back := t.Reverse()
	if back.Single() {
		for _, old := range d.work.Neighbors(peer, back) {
			d.removeEdge(back, peer, old)
		}
	}
	e := t.Edge(self, peer)
	d.work.edges[e.Link].add(e.From, e.To)
	d.touchedEdges[e] = true
	d.touchEdge(t, self, peer, ir.OpLink)
	return nil
}

// Unlink removes the edge (self, peer) through t. Removing an edge that
// does not exist is a no-op.
func (d *Draft) Unlink(t schema.Traversal, self, peer string) error {
	if err := d.checkEndpoints(t, self, peer); err != nil {
		return fmt.Errorf("unlink %s.%s: %w", self, t.Label(), err)
	}
	if !d.work.HasEdge(t.Edge(self, peer)) {
		return nil
	}
	d.removeEdge(t, self, peer)
	return nil
}

func (d *Draft) checkEndpoints(t schema.Traversal, self, peer string) error {
	if _, ok := d.work.edges[t.Link.Name]; !ok {
		return ErrUnknownLink
	}
	a, ok := d.work.Entity(self)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, self)
	}
	if a.Type != t.Self().On {
		return fmt.Errorf("%w: %s is %s, link expects %s", ErrTypeMismatch, self, a.Type, t.Self().On)
	}
	b, ok := d.work.Entity(peer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, peer)
	}
	if b.Type != t.PeerType() {
		return fmt.Errorf("%w: %s is %s, link expects %s", ErrTypeMismatch, peer, b.Type, t.PeerType())
	}
	return nil
}

func (d *Draft) removeEdge(t schema.Traversal, self, peer string) {
	e := t.Edge(self, peer)
	d.work.edges[e.Link].remove(e.From, e.To)
	d.touchedEdges[e] = true
	d.touchEdge(t, self, peer, ir.OpUnlink)
}

func (d *Draft) touchEdge(t schema.Traversal, self, peer string, action ir.OpKind) {
	a, _ := d.work.Entity(self)
	b, _ := d.work.Entity(peer)
	d.touch(a, ir.TouchLink, t.Label(), action, peer)
	d.touch(b, ir.TouchLink, t.Reverse().Label(), action, self)
}

func (d *Draft) touch(e ir.Entity, kind ir.TouchKind, name string, action ir.OpKind, peer string) {
	d.touches = append(d.touches, ir.Touch{
		Type:   e.Type,
		ID:     e.ID,
		Kind:   kind,
		Name:   name,
		Action: action,
		Peer:   peer,
	})
}

// Commit freezes the draft. The returned snapshot carries the draft's
// seq; the draft must not be used afterwards.
func (d *Draft) Commit() (*Snapshot, []ir.Touch, Delta) {
	next := d.work
	next.seq = d.seq
	delta := Delta{Seq: d.seq}

	ids := make([]string, 0, len(d.touchedIDs))
	for id := range d.touchedIDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if e, live := next.Entity(id); live {
			if old, existed := d.base.Entity(id); !existed || !sameEntity(old, e) {
				delta.Upserts = append(delta.Upserts, e)
			}
			continue
		}
		if old, existed := d.base.Entity(id); existed {
			delta.Deletes = append(delta.Deletes, old)
		}
	}

	edges := make([]ir.Edge, 0, len(d.touchedEdges))
	for e := range d.touchedEdges {
		edges = append(edges, e)
	}
	slices.SortFunc(edges, compareEdges)
	for _, e := range edges {
		before, after := d.base.HasEdge(e), next.HasEdge(e)
		switch {
		case after && !before:
			delta.AddEdges = append(delta.AddEdges, e)
		case before && !after:
			delta.RemoveEdges = append(delta.RemoveEdges, e)
		}
	}

	d.work = nil
	return next, d.touches, delta
}

func sameEntity(a, b ir.Entity) bool {
	return a.Type == b.Type && a.UpdatedSeq == b.UpdatedSeq && ir.Equal(a.Attrs, b.Attrs)
}

func compareEdges(a, b ir.Edge) int {
	if c := strings.Compare(a.Link, b.Link); c != 0 {
		return c
	}
	if c := strings.Compare(a.From, b.From); c != 0 {
		return c
	}
	return strings.Compare(a.To, b.To)
}
