// Package ir holds the value and record types shared by every livegraph
// package: attribute values, entities, edges, transaction ops, changelog
// touches and the acting identity.
//
// ir imports nothing internal, so every other package can depend on it
// without cycles.
//
// Constraints that hold across the package:
//   - no float values anywhere; numbers are int64
//   - JSON tags are snake_case
//   - ordering uses logical commit seqs, never wall-clock time
//   - hashing goes through MarshalCanonical (RFC 8785)
package ir
