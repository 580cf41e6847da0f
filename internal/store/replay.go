package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrCommitNotFound is returned by ReadCommit for an unknown seq.
var ErrCommitNotFound = errors.New("commit not found")

// ReadCommits returns every commit with seq > after, in seq order.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ReadCommits(ctx context.Context, after int64) ([]Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tx_id, actor, ops, touches, schema_hash, engine_version, ir_version
		FROM commits
		WHERE seq > ?
		ORDER BY seq ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	commits := []Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// ReadCommit returns the commit at seq.
func (s *Store) ReadCommit(ctx context.Context, seq int64) (Commit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, tx_id, actor, ops, touches, schema_hash, engine_version, ir_version
		FROM commits
		WHERE seq = ?
	`, seq)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Commit{}, fmt.Errorf("read commit %d: %w", seq, ErrCommitNotFound)
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommit(row scanner) (Commit, error) {
	var (
		c                   Commit
		actor, ops, touches string
	)
	err := row.Scan(&c.Seq, &c.TxID, &actor, &ops, &touches, &c.SchemaHash, &c.EngineVersion, &c.IRVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Commit{}, err
		}
		return Commit{}, fmt.Errorf("scan commit: %w", err)
	}
	if err := unmarshalJSON(actor, &c.Actor); err != nil {
		return Commit{}, fmt.Errorf("commit %d actor: %w", c.Seq, err)
	}
	if err := unmarshalJSON(ops, &c.Ops); err != nil {
		return Commit{}, fmt.Errorf("commit %d ops: %w", c.Seq, err)
	}
	if err := unmarshalJSON(touches, &c.Touches); err != nil {
		return Commit{}, fmt.Errorf("commit %d touches: %w", c.Seq, err)
	}
	return c, nil
}
