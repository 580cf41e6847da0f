// Package harness runs YAML conformance scenarios against a real engine.
//
// A scenario names a CUE spec directory, commits setup transactions as
// admin, then submits steps under chosen identities and checks that each
// one commits or is rejected with the expected code. After the steps,
// assertions inspect the graph and query results, and the commit log is
// replayed to confirm it reproduces the graph.
//
// # Scenario Format
//
//	name: hearts
//	description: "A heart is a link, deleting a post cascades to its photo"
//	specs: ../../../../specs
//	setup:
//	  - ops:
//	      - {op: create, type: $users, id: u1, attrs: {email: a@example.com}}
//	steps:
//	  - as: u1
//	    ops:
//	      - {op: create, type: profiles, id: p1, attrs: {handle: alyssa}}
//	      - {op: link, type: profiles, id: p1, link: owner, peer_id: u1}
//	  - ops:
//	      - {op: create, type: profiles, id: p2, attrs: {handle: eve}}
//	    expect:
//	      error: PERMISSION_DENIED
//	assertions:
//	  - {type: linked, id: p1, label: owner, peer_id: u1}
//	  - type: query
//	    as: u1
//	    query: {type: profiles}
//	    ids: [p1]
//
// # Assertion Types
//
//   - entity_exists, entity_absent: the id is or is not live
//   - attr_equals: an attribute equals a value (null: absent)
//   - linked, not_linked: a label of an entity does or does not reach a peer
//   - query: a query run as a user returns root ids and nested link ids
//   - touched: a touch string appears in the trace
//
// Steps may carry a check list of the same assertions, evaluated right
// after the step.
//
// # Traces
//
// Each setup transaction and step adds one trace event: its seq and
// touches when committed, or its error code and op index when rejected.
// Touches render as "<action> <type>[<id>].<name>" with " -> <peer>" for
// links. Traces are compared with golden files in canonical JSON.
package harness
