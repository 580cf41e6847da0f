package graph

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/schema"
)

type idSet map[string]struct{}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type attrKey struct {
	typ  string
	attr string
}

// edgeTable stores the edges of one link. fwd maps From -> {To},
// rev maps To -> {From}; both index the same edge set.
type edgeTable struct {
	fwd map[string]idSet
	rev map[string]idSet
}

func newEdgeTable() *edgeTable {
	return &edgeTable{fwd: make(map[string]idSet), rev: make(map[string]idSet)}
}

func (t *edgeTable) has(from, to string) bool {
	_, ok := t.fwd[from][to]
	return ok
}

func (t *edgeTable) add(from, to string) {
	if t.fwd[from] == nil {
		t.fwd[from] = make(idSet)
	}
	if t.rev[to] == nil {
		t.rev[to] = make(idSet)
	}
	t.fwd[from][to] = struct{}{}
	t.rev[to][from] = struct{}{}
}

func (t *edgeTable) remove(from, to string) {
	delete(t.fwd[from], to)
	if len(t.fwd[from]) == 0 {
		delete(t.fwd, from)
	}
	delete(t.rev[to], from)
	if len(t.rev[to]) == 0 {
		delete(t.rev, to)
	}
}

func (t *edgeTable) clone() *edgeTable {
	c := &edgeTable{fwd: make(map[string]idSet, len(t.fwd)), rev: make(map[string]idSet, len(t.rev))}
	for k, v := range t.fwd {
		c.fwd[k] = maps.Clone(v)
	}
	for k, v := range t.rev {
		c.rev[k] = maps.Clone(v)
	}
	return c
}

// Snapshot is an immutable graph state as of a commit seq.
type Snapshot struct {
	reg        *schema.Registry
	seq        int64
	entities   map[string]ir.Entity
	byType     map[string]idSet
	index      map[attrKey]map[string]idSet // keyed attr -> value key -> ids
	edges      map[string]*edgeTable        // link name -> table
	tombstones map[string]int64             // deleted id -> seq of the delete
}

// New returns the empty snapshot at seq 0.
func New(reg *schema.Registry) *Snapshot {
	s := &Snapshot{
		reg:        reg,
		entities:   make(map[string]ir.Entity),
		byType:     make(map[string]idSet),
		index:      make(map[attrKey]map[string]idSet),
		edges:      make(map[string]*edgeTable),
		tombstones: make(map[string]int64),
	}
	for _, l := range reg.Links() {
		s.edges[l.Name] = newEdgeTable()
	}
	return s
}

// Restore rebuilds a snapshot from persisted state. Entities of unknown
// types and edges of unknown links are rejected.
func Restore(reg *schema.Registry, seq int64, entities []ir.Entity, edges []ir.Edge, tombstones map[string]int64) (*Snapshot, error) {
	s := New(reg)
	s.seq = seq
	for _, e := range entities {
		if _, ok := reg.Entity(e.Type); !ok {
			return nil, fmt.Errorf("restore %s: %w: %s", e.ID, ErrUnknownType, e.Type)
		}
		s.put(e)
	}
	for _, e := range edges {
		tbl, ok := s.edges[e.Link]
		if !ok {
			return nil, fmt.Errorf("restore %s: %w", e, ErrUnknownLink)
		}
		tbl.add(e.From, e.To)
	}
	for id, at := range tombstones {
		s.tombstones[id] = at
	}
	return s, nil
}

// Registry returns the schema the snapshot was built against.
func (s *Snapshot) Registry() *schema.Registry { return s.reg }

// Seq is the commit seq that produced this snapshot.
func (s *Snapshot) Seq() int64 { return s.seq }

// Len is the number of live entities.
func (s *Snapshot) Len() int { return len(s.entities) }

// Entity returns a live entity by id.
func (s *Snapshot) Entity(id string) (ir.Entity, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// Has reports whether id is live.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.entities[id]
	return ok
}

// Tombstone returns the seq at which id was deleted, if it was.
func (s *Snapshot) Tombstone(id string) (int64, bool) {
	at, ok := s.tombstones[id]
	return at, ok
}

// Tombstones returns a copy of the tombstone table.
func (s *Snapshot) Tombstones() map[string]int64 {
	return maps.Clone(s.tombstones)
}

// Entities returns the live entities of typ ordered by creation seq, then id.
func (s *Snapshot) Entities(typ string) []ir.Entity {
	out := make([]ir.Entity, 0, len(s.byType[typ]))
	for id := range s.byType[typ] {
		out = append(out, s.entities[id])
	}
	SortEntities(out)
	return out
}

// All returns every live entity sorted by type, creation seq, then id.
func (s *Snapshot) All() []ir.Entity {
	out := make([]ir.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b ir.Entity) int {
		if c := strings.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return compareEntities(a, b)
	})
	return out
}

// SortEntities orders entities by creation seq, then id.
func SortEntities(es []ir.Entity) {
	slices.SortFunc(es, compareEntities)
}

func compareEntities(a, b ir.Entity) int {
	if c := cmp.Compare(a.CreatedSeq, b.CreatedSeq); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Neighbors returns the peers of id through t, sorted.
func (s *Snapshot) Neighbors(id string, t schema.Traversal) []string {
	tbl, ok := s.edges[t.Link.Name]
	if !ok {
		return nil
	}
	if t.Side == schema.Forward {
		return tbl.fwd[id].sorted()
	}
	return tbl.rev[id].sorted()
}

// NeighborsByLabel resolves label from id's type and returns its peers.
func (s *Snapshot) NeighborsByLabel(id, label string) ([]string, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t, ok := s.reg.Resolve(e.Type, label)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownLink, e.Type, label)
	}
	return s.Neighbors(id, t), nil
}

// HasEdge reports whether the edge is stored.
func (s *Snapshot) HasEdge(e ir.Edge) bool {
	tbl, ok := s.edges[e.Link]
	return ok && tbl.has(e.From, e.To)
}

// Edges returns every stored edge sorted by link, from, to.
func (s *Snapshot) Edges() []ir.Edge {
	var out []ir.Edge
	for _, l := range s.reg.Links() {
		tbl := s.edges[l.Name]
		for _, from := range sortedKeys(tbl.fwd) {
			for _, to := range tbl.fwd[from].sorted() {
				out = append(out, ir.Edge{Link: l.Name, From: from, To: to})
			}
		}
	}
	return out
}

// Lookup returns ids of typ whose attr equals v, sorted. Unique and
// indexed attributes are answered from the index; others are scanned.
func (s *Snapshot) Lookup(typ, attr string, v ir.IRValue) []string {
	if attr == "id" {
		if str, ok := v.(ir.IRString); ok {
			if e, live := s.entities[string(str)]; live && e.Type == typ {
				return []string{e.ID}
			}
		}
		return nil
	}
	if byValue, ok := s.index[attrKey{typ, attr}]; ok {
		key, ok := ir.IndexKey(v)
		if !ok {
			return nil
		}
		return byValue[key].sorted()
	}
	var out []string
	for id := range s.byType[typ] {
		if got, ok := s.entities[id].Attrs[attr]; ok && ir.Equal(got, v) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// CascadeClosure returns id followed by every entity its deletion would
// delete, in breadth-first order. Links are visited in the registry's
// stable order and peers in id order, and each entity appears once, so
// the result is deterministic and terminates on cyclic cascades.
func (s *Snapshot) CascadeClosure(id string) []string {
	if _, ok := s.entities[id]; !ok {
		return nil
	}
	visited := map[string]bool{id: true}
	order := []string{id}
	for i := 0; i < len(order); i++ {
		cur := s.entities[order[i]]
		for _, t := range s.reg.Traversals(cur.Type) {
			if !t.Cascades() {
				continue
			}
			for _, peer := range s.Neighbors(cur.ID, t) {
				if !visited[peer] {
					visited[peer] = true
					order = append(order, peer)
				}
			}
		}
	}
	return order
}

// Hash returns a content hash over live entities and edges.
func (s *Snapshot) Hash() (string, error) {
	ents := ir.IRArray{}
	for _, e := range s.All() {
		ents = append(ents, ir.IRObject{
			"id":          ir.IRString(e.ID),
			"type":        ir.IRString(e.Type),
			"attrs":       e.Attrs.Clone(),
			"created_seq": ir.IRInt(e.CreatedSeq),
			"updated_seq": ir.IRInt(e.UpdatedSeq),
		})
	}
	edges := ir.IRArray{}
	for _, e := range s.Edges() {
		edges = append(edges, ir.IRArray{ir.IRString(e.Link), ir.IRString(e.From), ir.IRString(e.To)})
	}
	return ir.HashCanonical(ir.DomainSnapshot, ir.IRObject{"entities": ents, "edges": edges})
}

func (s *Snapshot) put(e ir.Entity) {
	s.entities[e.ID] = e
	if s.byType[e.Type] == nil {
		s.byType[e.Type] = make(idSet)
	}
	s.byType[e.Type][e.ID] = struct{}{}
	s.indexAttrs(e, true)
}

func (s *Snapshot) drop(id string) {
	e, ok := s.entities[id]
	if !ok {
		return
	}
	s.indexAttrs(e, false)
	delete(s.byType[e.Type], id)
	delete(s.entities, id)
}

func (s *Snapshot) indexAttrs(e ir.Entity, add bool) {
	def, ok := s.reg.Entity(e.Type)
	if !ok {
		return
	}
	for _, a := range def.Attrs {
		if !a.Keyed() {
			continue
		}
		v, ok := e.Attrs[a.Name]
		if !ok {
			continue
		}
		key, ok := ir.IndexKey(v)
		if !ok {
			continue
		}
		ak := attrKey{e.Type, a.Name}
		if add {
			if s.index[ak] == nil {
				s.index[ak] = make(map[string]idSet)
			}
			if s.index[ak][key] == nil {
				s.index[ak][key] = make(idSet)
			}
			s.index[ak][key][e.ID] = struct{}{}
			continue
		}
		delete(s.index[ak][key], e.ID)
		if len(s.index[ak][key]) == 0 {
			delete(s.index[ak], key)
		}
	}
}

// clone deep-copies the mutable structure. Entity values are shared; a
// draft replaces an entity wholesale rather than editing its Attrs.
func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		reg:        s.reg,
		seq:        s.seq,
		entities:   maps.Clone(s.entities),
		byType:     make(map[string]idSet, len(s.byType)),
		index:      make(map[attrKey]map[string]idSet, len(s.index)),
		edges:      make(map[string]*edgeTable, len(s.edges)),
		tombstones: maps.Clone(s.tombstones),
	}
	for k, v := range s.byType {
		c.byType[k] = maps.Clone(v)
	}
	for k, byValue := range s.index {
		m := make(map[string]idSet, len(byValue))
		for vk, ids := range byValue {
			m[vk] = maps.Clone(ids)
		}
		c.index[k] = m
	}
	for k, v := range s.edges {
		c.edges[k] = v.clone()
	}
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
