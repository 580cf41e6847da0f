package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/livegraph/internal/ir"
)

// ErrSessionNotFound is returned for unknown or revoked tokens.
var ErrSessionNotFound = errors.New("session not found")

// PutSession records a session. Re-issuing an existing token replaces it.
func (s *Store) PutSession(ctx context.Context, sess ir.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, email, issued_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			issued_seq = excluded.issued_seq
	`, sess.Token, sess.UserID, sess.Email, sess.IssuedSeq)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession looks up a session by token.
func (s *Store) GetSession(ctx context.Context, token string) (ir.Session, error) {
	var sess ir.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT token, user_id, email, issued_seq FROM sessions WHERE token = ?
	`, token).Scan(&sess.Token, &sess.UserID, &sess.Email, &sess.IssuedSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return ir.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// DeleteSession revokes a token. Revoking an unknown token is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
