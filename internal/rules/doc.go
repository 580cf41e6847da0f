// Package rules evaluates per-entity, per-operation permission rules.
//
// A rule is an expression tree (Expr) built from literal decisions,
// attribute comparisons, link-path traversals and boolean connectives.
// Rules are attached to an entity type under a category: view, create,
// update, delete, link, unlink, or $default.
//
// Resolution for an operation picks the most specific rule declared:
//
//	op-specific  >  update (for link/unlink only)  >  $default  >  deny
//
// An absent rule denies. Evaluation is pure: it reads the entity and the
// supplied View and nothing else, so the same inputs always produce the
// same decision.
//
// Decisions follow the sentinel-error convention: Authorize returns nil to
// allow, or an error wrapping ErrDenied that callers test with errors.Is.
package rules
