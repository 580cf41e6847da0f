// Package schema is the registry of entity types and links.
//
// Entity definitions declare typed attributes with unique, indexed and
// optional flags. Link definitions name two roles, forward and reverse, each
// with the entity type it sits on, a cardinality (one or many), the label
// used to traverse the link from that side, and an optional cascade flag.
//
// Definitions are validated as they are added: a link that references an
// undeclared type, or a label reused on the same type, is rejected with a
// *DefinitionError. Schema problems are configuration bugs, so callers that
// build a registry from static code can use the Must* variants.
//
// Once built, a Registry is read-only and safe for concurrent lookups.
package schema
