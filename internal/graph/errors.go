package graph

import "errors"

// Structural errors. Draft methods wrap these with the offending ids.
var (
	ErrNotFound     = errors.New("graph: entity not found")
	ErrExists       = errors.New("graph: entity already exists")
	ErrUnknownType  = errors.New("graph: unknown entity type")
	ErrTypeMismatch = errors.New("graph: entity type mismatch")
	ErrUnknownLink  = errors.New("graph: unknown link")
)
