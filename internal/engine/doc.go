// Package engine is the single writer in front of the livegraph store.
//
// Commit path:
//
//  1. Transact takes the writer lock and stamps the transaction with the
//     next seq from Clock
//  2. txn.Processor validates, expands cascades and authorizes every op
//     against the published snapshot
//  3. The expanded ops, changelog and materialized delta are written to
//     SQLite in one transaction (when a store is configured)
//  4. The new snapshot is published and its changelog is handed to the
//     live query engine
//
// Steps 2 to 4 run under one lock, so commit seqs, the durable log and
// subscription updates all follow the same order.
//
// Seqs are logical: never wall-clock time. Transaction ids are derived
// from the expanded ops and seq through RFC 8785 canonical JSON, so
// Replay can rebuild the graph from the log and check every id.
package engine
