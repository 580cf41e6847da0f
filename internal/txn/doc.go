// Package txn turns a client transaction into a committed-or-rejected
// graph change.
//
// Processor.Apply works on a private graph.Draft of the base snapshot:
//
//  1. every op is validated against the schema, then the ops are applied
//     in declaration order; deletes are expanded to their cascade closure
//     by simulation
//  2. every explicit and cascade-induced op is authorized: create, update,
//     link and unlink against the post-transaction state (and, for
//     entities that already existed, the pre-transaction state too),
//     delete against the pre-transaction state. A link or unlink is
//     checked on its subject and on every endpoint whose cardinality-one
//     role it changes, including edges displaced by replacement.
//  3. unique attributes are checked over every touched entity
//
// Any failure discards the draft and returns an *Error whose Code names the
// failure class. On success the caller receives the next snapshot, the
// touches for the changelog, the persistence delta, and the
// cascade-expanded op list.
//
// The processor holds no state between calls. Serializing commits is the
// caller's job (see package engine).
package txn
