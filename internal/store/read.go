package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/schema"
)

// LastSeq returns the seq of the newest commit, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM commits`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// LoadSnapshot rebuilds the graph as of the last commit from the
// materialized tables.
func (s *Store) LoadSnapshot(ctx context.Context, reg *schema.Registry) (*graph.Snapshot, error) {
	seq, err := s.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	entities, err := s.readEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	edges, err := s.readEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	tombstones, err := s.readTombstones(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := graph.Restore(reg, seq, entities, edges, tombstones)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// SchemaHash returns the schema hash recorded by the newest commit, or ""
// for an empty log.
func (s *Store) SchemaHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT schema_hash FROM commits ORDER BY seq DESC LIMIT 1
	`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("schema hash: %w", err)
	}
	return hash, nil
}

func (s *Store) readEntities(ctx context.Context) ([]ir.Entity, error) {
	return s.FindEntities(ctx, `
		SELECT id, type, attrs, created_seq, updated_seq
		FROM entities
		ORDER BY created_seq ASC, id COLLATE BINARY ASC
	`)
}

// FindEntities runs a query over the materialized entities table. The
// query must select id, type, attrs, created_seq and updated_seq in that
// order; querysql.SQLCompiler produces such queries.
func (s *Store) FindEntities(ctx context.Context, query string, args ...any) ([]ir.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	out := []ir.Entity{}
	for rows.Next() {
		var (
			e     ir.Entity
			attrs string
		)
		if err := rows.Scan(&e.ID, &e.Type, &attrs, &e.CreatedSeq, &e.UpdatedSeq); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if e.Attrs, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

func (s *Store) readEdges(ctx context.Context) ([]ir.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT link, from_id, to_id
		FROM edges
		ORDER BY link COLLATE BINARY ASC, from_id COLLATE BINARY ASC, to_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []ir.Edge
	for rows.Next() {
		var e ir.Edge
		if err := rows.Scan(&e.Link, &e.From, &e.To); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return out, nil
}

func (s *Store) readTombstones(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, seq FROM tombstones`)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  string
			seq int64
		)
		if err := rows.Scan(&id, &seq); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		out[id] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return out, nil
}
