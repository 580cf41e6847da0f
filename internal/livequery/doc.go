// Package livequery keeps declarative query results current as commits
// land.
//
// A Query names a root entity type, an equality filter over attributes or
// link-reachable entities, and nested link traversals to include. Compile
// checks it against the schema and produces a Plan whose predicates form a
// sealed set (Equals, LinkEquals, And).
//
// Evaluate runs a plan against one immutable snapshot and drops every
// entity, root or nested, that the subscriber may not view. Result
// hashes use canonical JSON, so equal content hashes equal.
//
// # Invalidation
//
// Each subscription depends on a set of entity types: the types its plan
// reads plus the types its view rules traverse. Notify schedules a
// recompute only when a changelog touches one of them. This is a
// conservative superset of true dependencies: it can recompute without
// need, never miss a change. A recompute that yields the same hash as the
// last emission is suppressed, so subscribers see a quiescent stream.
package livequery
