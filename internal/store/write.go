package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
)

// Commit is one entry of the commit log.
type Commit struct {
	Seq           int64       `json:"seq"`
	TxID          string      `json:"tx_id"`
	Actor         ir.Identity `json:"actor"`
	Ops           []ir.Op     `json:"ops"` // expanded: cascade deletes included
	Touches       []ir.Touch  `json:"touches"`
	SchemaHash    string      `json:"schema_hash"`
	EngineVersion string      `json:"engine_version"`
	IRVersion     string      `json:"ir_version"`
}

// Changelog returns the live-query view of the commit.
func (c Commit) Changelog() ir.Changelog {
	return ir.Changelog{Seq: c.Seq, TxID: c.TxID, Touches: c.Touches}
}

// WriteCommit appends c to the log and applies delta to the materialized
// state in a single SQL transaction. Either both land or neither does.
func (s *Store) WriteCommit(ctx context.Context, c Commit, delta graph.Delta) error {
	if delta.Seq != c.Seq {
		return fmt.Errorf("write commit %d: delta is for seq %d", c.Seq, delta.Seq)
	}
	actor, err := marshalJSON(c.Actor)
	if err != nil {
		return fmt.Errorf("write commit %d: marshal actor: %w", c.Seq, err)
	}
	ops, err := marshalJSON(c.Ops)
	if err != nil {
		return fmt.Errorf("write commit %d: marshal ops: %w", c.Seq, err)
	}
	touches, err := marshalJSON(c.Touches)
	if err != nil {
		return fmt.Errorf("write commit %d: marshal touches: %w", c.Seq, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write commit %d: begin: %w", c.Seq, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO commits
		(seq, tx_id, actor, ops, touches, schema_hash, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Seq, c.TxID, actor, ops, touches, c.SchemaHash, c.EngineVersion, c.IRVersion)
	if err != nil {
		return fmt.Errorf("write commit %d: %w", c.Seq, err)
	}

	if err := applyDelta(ctx, tx, delta); err != nil {
		return fmt.Errorf("write commit %d: %w", c.Seq, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write commit %d: commit: %w", c.Seq, err)
	}
	return nil
}

// applyDelta orders writes so foreign keys hold at every statement:
// entities first, then edge removals and additions, then deletions.
func applyDelta(ctx context.Context, tx *sql.Tx, d graph.Delta) error {
	for _, e := range d.Upserts {
		attrs, err := marshalAttrs(e.Attrs)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", e.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (id, type, attrs, created_seq, updated_seq)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				attrs = excluded.attrs,
				created_seq = excluded.created_seq,
				updated_seq = excluded.updated_seq
		`, e.ID, e.Type, attrs, e.CreatedSeq, e.UpdatedSeq)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tombstones WHERE id = ?`, e.ID); err != nil {
			return fmt.Errorf("clear tombstone %s: %w", e.ID, err)
		}
	}

	for _, e := range d.RemoveEdges {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM edges WHERE link = ? AND from_id = ? AND to_id = ?
		`, e.Link, e.From, e.To)
		if err != nil {
			return fmt.Errorf("remove edge %s: %w", e, err)
		}
	}

	for _, e := range d.AddEdges {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO edges (link, from_id, to_id) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, e.Link, e.From, e.To)
		if err != nil {
			return fmt.Errorf("add edge %s: %w", e, err)
		}
	}

	for _, e := range d.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, e.ID); err != nil {
			return fmt.Errorf("delete %s: %w", e.ID, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tombstones (id, type, seq) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET type = excluded.type, seq = excluded.seq
		`, e.ID, e.Type, d.Seq)
		if err != nil {
			return fmt.Errorf("tombstone %s: %w", e.ID, err)
		}
	}
	return nil
}
