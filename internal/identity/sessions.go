package identity

import (
	"context"
	"sync"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/store"
)

// SessionStore persists sessions. *store.Store implements it; lookups of
// unknown tokens return store.ErrSessionNotFound.
type SessionStore interface {
	PutSession(ctx context.Context, sess ir.Session) error
	GetSession(ctx context.Context, token string) (ir.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

var _ SessionStore = (*store.Store)(nil)

// MemorySessions is a SessionStore for in-memory engines. Sessions do not
// survive a restart.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]ir.Session
}

// NewMemorySessions creates an empty in-memory session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]ir.Session)}
}

func (m *MemorySessions) PutSession(_ context.Context, sess ir.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.Token] = sess
	return nil
}

func (m *MemorySessions) GetSession(_ context.Context, token string) (ir.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[token]
	if !ok {
		return ir.Session{}, store.ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemorySessions) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// Len returns the number of live sessions.
func (m *MemorySessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
