// Package graph holds entity and edge state.
//
// A Snapshot is an immutable view of every live entity, the edge table of
// every link, the equality indexes of unique and indexed attributes, and
// the tombstones of deleted ids. Snapshots are never mutated once
// published, so readers may hold one for as long as they like while
// writers build the next.
//
// Writers call Begin to get a Draft, a private working copy. Draft methods
// create, update and delete entities and add or remove edges, recording a
// Touch for every (entity, attribute-or-link) they change. Commit freezes
// the draft into a new Snapshot and returns the touches together with the
// net Delta against the base, which the durable store persists.
//
// Each link has one edge table. Both directions are served from it by a
// forward and a reverse adjacency index; there is no mirrored copy of an
// edge.
package graph
