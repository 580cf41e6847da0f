// Package identity resolves the acting identity behind every transaction
// and query. It issues opaque session tokens bound to $users entities and
// bootstraps anonymous users with a profile.
package identity

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/store"
	"github.com/roach88/livegraph/internal/txn"
)

const (
	// UsersType is the entity type sessions are bound to.
	UsersType = "$users"

	// DefaultDomain is the email domain of anonymous users.
	DefaultDomain = "livegraph.local"
)

var (
	// ErrInvalidSession is returned for unknown or revoked tokens, and for
	// tokens whose user has since been deleted.
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidIdentifier is returned when IssueSession is given
	// something that is not an email address.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Option configures a Service.
type Option func(*Service)

// WithSessionStore sets where sessions are kept. Default: in memory.
func WithSessionStore(s SessionStore) Option {
	return func(svc *Service) { svc.sessions = s }
}

// WithTokenGenerator sets the session token source. Default: random UUIDs.
func WithTokenGenerator(g engine.IDGenerator) Option {
	return func(svc *Service) { svc.tokens = g }
}

// WithDomain sets the email domain of anonymous users.
func WithDomain(domain string) Option {
	return func(svc *Service) { svc.domain = domain }
}

// WithSeed makes character choice and pretty ids reproducible.
func WithSeed(seed [32]byte) Option {
	return func(svc *Service) { svc.rng = rand.New(rand.NewChaCha8(seed)) }
}

// Service issues and resolves sessions against an engine.
// It is safe for concurrent use.
type Service struct {
	engine   *engine.Engine
	sessions SessionStore
	tokens   engine.IDGenerator
	domain   string
	validate *validator.Validate

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

type randomTokens struct{}

func (randomTokens) Generate() string { return uuid.NewString() }

// NewService creates a Service writing users through e.
func NewService(e *engine.Engine, opts ...Option) *Service {
	svc := &Service{
		engine:   e,
		sessions: NewMemorySessions(),
		tokens:   randomTokens{},
		domain:   DefaultDomain,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.rng == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		svc.rng = rand.New(rand.NewChaCha8(seed))
	}
	return svc
}

// IssueSession returns a new session for the user with the given email,
// creating the $users entity through an admin transaction on first use.
func (s *Service) IssueSession(ctx context.Context, identifier string) (ir.Session, error) {
	email := strings.TrimSpace(identifier)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return ir.Session{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}

	userID, err := s.ensureUser(ctx, email)
	if err != nil {
		return ir.Session{}, fmt.Errorf("issue session: %w", err)
	}

	sess, err := s.newSession(ctx, userID, email)
	if err != nil {
		return ir.Session{}, fmt.Errorf("issue session: %w", err)
	}
	return sess, nil
}

// newSession stores a fresh token for an existing user.
func (s *Service) newSession(ctx context.Context, userID, email string) (ir.Session, error) {
	sess := ir.Session{
		Token:     s.tokens.Generate(),
		UserID:    userID,
		Email:     email,
		IssuedSeq: s.engine.Seq(),
	}
	if err := s.sessions.PutSession(ctx, sess); err != nil {
		return ir.Session{}, err
	}
	slog.Info("session issued", "user", userID, "seq", sess.IssuedSeq)
	return sess, nil
}

// GetSession resolves a token to the identity it was issued for.
func (s *Service) GetSession(ctx context.Context, token string) (ir.Identity, error) {
	if token == "" {
		return ir.Identity{}, ErrInvalidSession
	}
	sess, err := s.sessions.GetSession(ctx, token)
	if errors.Is(err, store.ErrSessionNotFound) {
		return ir.Identity{}, ErrInvalidSession
	}
	if err != nil {
		return ir.Identity{}, fmt.Errorf("get session: %w", err)
	}
	if !s.engine.Snapshot().Has(sess.UserID) {
		return ir.Identity{}, fmt.Errorf("%w: user %s no longer exists", ErrInvalidSession, sess.UserID)
	}
	return sess.Identity(), nil
}

// Revoke ends a session. Revoking an unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if err := s.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// ensureUser returns the id of the $users entity with email, creating it
// if needed. A concurrent create of the same email loses the uniqueness
// race and picks up the winner.
func (s *Service) ensureUser(ctx context.Context, email string) (string, error) {
	if id, ok := s.lookupUser(email); ok {
		return id, nil
	}
	id := s.engine.NewID()
	_, err := s.engine.TransactAdmin(ctx, ir.Transaction{Ops: []ir.Op{{
		Kind:  ir.OpCreate,
		Type:  UsersType,
		ID:    id,
		Attrs: ir.IRObject{"email": ir.IRString(email)},
	}}})
	if txn.IsUniqueness(err) {
		if existing, ok := s.lookupUser(email); ok {
			return existing, nil
		}
	}
	if err != nil {
		return "", err
	}
	slog.Info("user created", "user", id)
	return id, nil
}

func (s *Service) lookupUser(email string) (string, bool) {
	ids := s.engine.Snapshot().Lookup(UsersType, "email", ir.IRString(email))
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}
