package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
)

const (
	// ProfilesType is the entity type created for anonymous users.
	ProfilesType = "profiles"

	// OwnerLabel links a profile to its user.
	OwnerLabel = "owner"

	// PrettyAlphabet is Base58: no 0, O, I or l.
	PrettyAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

	// PrettyIDLength is the length of ids from PrettyID.
	PrettyIDLength = 21
)

// Character is a persona handed to an anonymous user.
type Character struct {
	Name      string `json:"name"`
	Archetype string `json:"archetype"`
}

// Characters are the personas anonymous users are drawn from.
var Characters = []Character{
	{Name: "Alyssa P. Hacker", Archetype: "alyssa"},
	{Name: "Ben Bitdiddle", Archetype: "ben"},
	{Name: "Cy D. Fect", Archetype: "cy"},
	{Name: "Eva Lu Ator", Archetype: "eva"},
	{Name: "Lem E. Tweakit", Archetype: "lem"},
	{Name: "Louis Reasoner", Archetype: "louis"},
	{Name: "Ima Qu Ri", Archetype: "ima"},
}

// Bootstrap is a freshly created anonymous user.
type Bootstrap struct {
	Session   ir.Session `json:"session"`
	ProfileID string     `json:"profile_id"`
	Handle    string     `json:"handle"`
	Character Character  `json:"character"`
}

// BootstrapAnonymous creates a user named after a random character, a
// profile owned by that user, and a session for it. The user, the profile
// and the owner link commit in one admin transaction, so a failure leaves
// no orphaned user behind.
//
// The user's email is "<archetype>-<pretty id>@<domain>" and the profile
// handle is "<archetype>_<pretty id>". Profile attributes the schema does
// not declare are left out.
func (s *Service) BootstrapAnonymous(ctx context.Context) (*Bootstrap, error) {
	s.mu.Lock()
	character := Characters[s.rng.IntN(len(Characters))]
	emailID := s.prettyID()
	handle := character.Archetype + "_" + s.prettyID()
	s.mu.Unlock()

	attrs := ir.IRObject{"handle": ir.IRString(handle)}
	reg := s.engine.Registry()
	if _, ok := reg.Attr(ProfilesType, "fullName"); ok {
		attrs["fullName"] = ir.IRString(character.Name)
	}
	if _, ok := reg.Attr(ProfilesType, "archetype"); ok {
		attrs["archetype"] = ir.IRString(character.Archetype)
	}

	email := fmt.Sprintf("%s-%s@%s", character.Archetype, emailID, s.domain)
	userID := s.engine.NewID()
	profileID := s.engine.NewID()
	_, err := s.engine.TransactAdmin(ctx, ir.Transaction{Ops: []ir.Op{
		{Kind: ir.OpCreate, Type: UsersType, ID: userID, Attrs: ir.IRObject{"email": ir.IRString(email)}},
		{Kind: ir.OpCreate, Type: ProfilesType, ID: profileID, Attrs: attrs},
		{Kind: ir.OpLink, Type: ProfilesType, ID: profileID, Link: OwnerLabel, PeerID: userID},
	}})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	sess, err := s.newSession(ctx, userID, email)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	slog.Info("anonymous user bootstrapped",
		"user", userID,
		"profile", profileID,
		"archetype", character.Archetype,
	)
	return &Bootstrap{Session: sess, ProfileID: profileID, Handle: handle, Character: character}, nil
}

// prettyID must be called with s.mu held.
func (s *Service) prettyID() string {
	return PrettyID(s.rng.IntN, PrettyIDLength)
}

// PrettyID returns n characters of PrettyAlphabet chosen by intn.
func PrettyID(intn func(int) int, n int) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(PrettyAlphabet[intn(len(PrettyAlphabet))])
	}
	return b.String()
}
