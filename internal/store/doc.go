// Package store provides SQLite-backed durable storage for livegraph.
//
// The store keeps:
//   - commits: the append-only log of accepted transactions, each with its
//     expanded ops, changelog touches, acting identity and schema hash
//   - entities, edges, tombstones: the graph as of the newest commit
//   - sessions: tokens issued by the identity service
//
// Every commit is written in one SQL transaction together with the delta it
// applies to the materialized tables, so a crash leaves either the whole
// commit or none of it. The engine restores its snapshot with LoadSnapshot
// on startup; ReadCommits feeds replay, which rebuilds the graph from the
// log alone and compares snapshot hashes.
//
// # Deterministic Ordering
//
// Reads order by seq (commits) or by (created_seq, id COLLATE BINARY)
// (entities), never by wall-clock time.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
