package livequery

import (
	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/rules"
)

// Node is one entity of a query result with its included links.
type Node struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Attrs ir.IRObject       `json:"attrs"`
	Links map[string][]Node `json:"links,omitempty"`
}

// Result is a query evaluated against one committed snapshot. Hash covers
// Nodes only, so two results with the same content compare equal across
// seqs.
type Result struct {
	Seq   int64  `json:"seq"`
	Nodes []Node `json:"nodes"`
	Hash  string `json:"hash"`
}

// Evaluate runs plan against snap on behalf of who. Entities the identity
// may not view are dropped, at the root and inside includes. Nodes are
// ordered by creation seq, then id.
func Evaluate(plan *Plan, snap *graph.Snapshot, eval *rules.Evaluator, who ir.Identity) (Result, error) {
	x := &evaluation{snap: snap, eval: eval, who: who}
	nodes := x.nodes(plan, snap.Entities(plan.Type))
	hash, err := HashNodes(nodes)
	if err != nil {
		return Result{}, err
	}
	return Result{Seq: snap.Seq(), Nodes: nodes, Hash: hash}, nil
}

type evaluation struct {
	snap *graph.Snapshot
	eval *rules.Evaluator
	who  ir.Identity
}

func (x *evaluation) nodes(plan *Plan, candidates []ir.Entity) []Node {
	out := []Node{}
	for _, e := range candidates {
		if !x.match(plan.Filter, e) || !x.eval.CanView(e, x.snap, x.who) {
			continue
		}
		n := Node{ID: e.ID, Type: e.Type, Attrs: e.Attrs.Clone()}
		for _, inc := range plan.Includes {
			peers := x.entities(x.snap.Neighbors(e.ID, inc.Traversal))
			if n.Links == nil {
				n.Links = make(map[string][]Node, len(plan.Includes))
			}
			n.Links[inc.Label] = x.nodes(inc.Plan, peers)
		}
		out = append(out, n)
	}
	return out
}

func (x *evaluation) entities(ids []string) []ir.Entity {
	out := make([]ir.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := x.snap.Entity(id); ok {
			out = append(out, e)
		}
	}
	graph.SortEntities(out)
	return out
}

func (x *evaluation) match(pred Predicate, e ir.Entity) bool {
	switch p := pred.(type) {
	case nil:
		return true
	case Equals:
		v, ok := e.Attr(p.Attr)
		return ok && ir.Equal(v, p.Value)
	case LinkEquals:
		for _, id := range x.follow(e, p.Path) {
			peer, ok := x.snap.Entity(id)
			if !ok {
				continue
			}
			if v, ok := peer.Attr(p.Attr); ok && ir.Equal(v, p.Value) {
				return true
			}
		}
		return false
	case And:
		for _, sub := range p.Predicates {
			if !x.match(sub, e) {
				return false
			}
		}
		return true
	}
	return false
}

func (x *evaluation) follow(start ir.Entity, path []string) []string {
	reg := x.snap.Registry()
	frontier := []string{start.ID}
	typ := start.Type
	for _, label := range path {
		t, ok := reg.Resolve(typ, label)
		if !ok {
			return nil
		}
		seen := make(map[string]bool)
		var next []string
		for _, id := range frontier {
			for _, peer := range x.snap.Neighbors(id, t) {
				if !seen[peer] {
					seen[peer] = true
					next = append(next, peer)
				}
			}
		}
		frontier = next
		typ = t.PeerType()
	}
	return frontier
}

// HashNodes returns the canonical content hash of a result's nodes.
func HashNodes(nodes []Node) (string, error) {
	return ir.HashCanonical(ir.DomainResult, nodesValue(nodes))
}

func nodesValue(nodes []Node) ir.IRArray {
	arr := make(ir.IRArray, len(nodes))
	for i, n := range nodes {
		obj := ir.IRObject{
			"id":    ir.IRString(n.ID),
			"type":  ir.IRString(n.Type),
			"attrs": n.Attrs,
		}
		if len(n.Links) > 0 {
			links := make(ir.IRObject, len(n.Links))
			for label, peers := range n.Links {
				links[label] = nodesValue(peers)
			}
			obj["links"] = links
		}
		arr[i] = obj
	}
	return arr
}
