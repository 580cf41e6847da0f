package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/schema"
)

func testRegistry() *schema.Registry {
	return schema.New().
		MustDefineEntity("$users", schema.Attr{Name: "email", Type: schema.TypeString, Unique: true, Indexed: true}).
		MustDefineEntity("profiles",
			schema.Attr{Name: "handle", Type: schema.TypeString, Unique: true},
			schema.Attr{Name: "fullName", Type: schema.TypeString}).
		MustDefineEntity("posts", schema.Attr{Name: "content", Type: schema.TypeString, Optional: true}).
		MustDefineEntity("$files", schema.Attr{Name: "path", Type: schema.TypeString, Unique: true}).
		MustDefineLink("profilesOwner",
			schema.Role{On: "profiles", Has: schema.One, Label: "owner", OnDelete: schema.Cascade},
			schema.Role{On: "$users", Has: schema.One, Label: "profile"}).
		MustDefineLink("postAuthor",
			schema.Role{On: "posts", Has: schema.One, Label: "author", OnDelete: schema.Cascade},
			schema.Role{On: "profiles", Has: schema.Many, Label: "authoredPosts"}).
		MustDefineLink("postPhoto",
			schema.Role{On: "posts", Has: schema.One, Label: "photo"},
			schema.Role{On: "$files", Has: schema.One, Label: "post", OnDelete: schema.Cascade}).
		MustDefineLink("hearters",
			schema.Role{On: "posts", Has: schema.Many, Label: "hearters"},
			schema.Role{On: "profiles", Has: schema.Many, Label: "heartedPosts"})
}

func resolve(t *testing.T, reg *schema.Registry, typ, label string) schema.Traversal {
	t.Helper()
	tr, ok := reg.Resolve(typ, label)
	require.True(t, ok, "%s.%s", typ, label)
	return tr
}

// seeded builds: u1 <-owner- pr1 <-author- p1 -photo-> f1, plus u2 / pr2.
func seeded(t *testing.T) *Snapshot {
	t.Helper()
	reg := testRegistry()
	d := New(reg).Begin(1)
	require.NoError(t, d.Create("$users", "u1", ir.IRObject{"email": ir.IRString("alyssa@x")}))
	require.NoError(t, d.Create("$users", "u2", ir.IRObject{"email": ir.IRString("ben@x")}))
	require.NoError(t, d.Create("profiles", "pr1", ir.IRObject{"handle": ir.IRString("alyssa"), "fullName": ir.IRString("Alyssa P. Hacker")}))
	require.NoError(t, d.Create("profiles", "pr2", ir.IRObject{"handle": ir.IRString("ben"), "fullName": ir.IRString("Ben Bitdiddle")}))
	require.NoError(t, d.Create("posts", "p1", ir.IRObject{"content": ir.IRString("hello")}))
	require.NoError(t, d.Create("$files", "f1", ir.IRObject{"path": ir.IRString("/u1/a.png")}))
	require.NoError(t, d.Link(resolve(t, reg, "profiles", "owner"), "pr1", "u1"))
	require.NoError(t, d.Link(resolve(t, reg, "profiles", "owner"), "pr2", "u2"))
	require.NoError(t, d.Link(resolve(t, reg, "posts", "author"), "p1", "pr1"))
	require.NoError(t, d.Link(resolve(t, reg, "posts", "photo"), "p1", "f1"))
	snap, _, _ := d.Commit()
	return snap
}

func TestCreateAndLookup(t *testing.T) {
	s := seeded(t)
	assert.Equal(t, int64(1), s.Seq())
	assert.Equal(t, 6, s.Len())

	e, ok := s.Entity("pr1")
	require.True(t, ok)
	assert.Equal(t, "profiles", e.Type)
	assert.Equal(t, int64(1), e.CreatedSeq)

	assert.Equal(t, []string{"pr2"}, s.Lookup("profiles", "handle", ir.IRString("ben")))
	assert.Equal(t, []string{"p1"}, s.Lookup("posts", "content", ir.IRString("hello")), "unindexed scan")
	assert.Equal(t, []string{"u1"}, s.Lookup("$users", "id", ir.IRString("u1")))
	assert.Empty(t, s.Lookup("posts", "id", ir.IRString("u1")))
}

func TestCreateErrors(t *testing.T) {
	s := seeded(t)
	d := s.Begin(2)
	assert.ErrorIs(t, d.Create("posts", "p1", nil), ErrExists)
	assert.ErrorIs(t, d.Create("ghosts", "g1", nil), ErrUnknownType)
}

func TestEdgesBothDirections(t *testing.T) {
	s := seeded(t)
	reg := s.Registry()
	assert.Equal(t, []string{"pr1"}, s.Neighbors("p1", resolve(t, reg, "posts", "author")))
	assert.Equal(t, []string{"p1"}, s.Neighbors("pr1", resolve(t, reg, "profiles", "authoredPosts")))

	peers, err := s.NeighborsByLabel("u1", "profile")
	require.NoError(t, err)
	assert.Equal(t, []string{"pr1"}, peers)

	_, err = s.NeighborsByLabel("u1", "posts")
	assert.ErrorIs(t, err, ErrUnknownLink)

	assert.Len(t, s.Edges(), 4)
}

func TestUpdateMergesAndRemoves(t *testing.T) {
	s := seeded(t)
	d := s.Begin(2)
	require.NoError(t, d.Update("p1", ir.IRObject{"content": ir.IRNull{}}))
	require.NoError(t, d.Update("pr1", ir.IRObject{"handle": ir.IRString("alyssa"), "fullName": ir.IRString("A. P. Hacker")}))
	next, touches, delta := d.Commit()

	p1, _ := next.Entity("p1")
	_, has := p1.Attrs["content"]
	assert.False(t, has)
	assert.Equal(t, int64(2), p1.UpdatedSeq)

	assert.Equal(t, []ir.Touch{
		{Type: "posts", ID: "p1", Kind: ir.TouchAttribute, Name: "content", Action: ir.OpUpdate},
		{Type: "profiles", ID: "pr1", Kind: ir.TouchAttribute, Name: "fullName", Action: ir.OpUpdate},
	}, touches, "unchanged handle is not touched")
	assert.Len(t, delta.Upserts, 2)

	// Base snapshot unchanged.
	old, _ := s.Entity("p1")
	assert.Equal(t, ir.IRString("hello"), old.Attrs["content"])

	assert.ErrorIs(t, s.Begin(3).Update("nope", ir.IRObject{}), ErrNotFound)
}

func TestUpdateReindexes(t *testing.T) {
	s := seeded(t)
	d := s.Begin(2)
	require.NoError(t, d.Update("pr1", ir.IRObject{"handle": ir.IRString("aph")}))
	next, _, _ := d.Commit()
	assert.Empty(t, next.Lookup("profiles", "handle", ir.IRString("alyssa")))
	assert.Equal(t, []string{"pr1"}, next.Lookup("profiles", "handle", ir.IRString("aph")))
	assert.Equal(t, []string{"pr1"}, s.Lookup("profiles", "handle", ir.IRString("alyssa")))
}

func TestCascadeDelete(t *testing.T) {
	s := seeded(t)
	assert.Equal(t, []string{"u1", "pr1", "p1", "f1"}, s.CascadeClosure("u1"))

	d := s.Begin(2)
	deleted, err := d.Delete("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "pr1", "p1", "f1"}, deleted)
	next, touches, delta := d.Commit()

	for _, id := range deleted {
		assert.False(t, next.Has(id), id)
		at, ok := next.Tombstone(id)
		assert.True(t, ok)
		assert.Equal(t, int64(2), at)
	}
	assert.True(t, next.Has("u2"))
	assert.True(t, next.Has("pr2"))
	assert.Len(t, next.Edges(), 1, "only pr2 -> u2 remains")

	var deletes []string
	for _, tc := range touches {
		if tc.Action == ir.OpDelete {
			deletes = append(deletes, tc.ID)
		}
	}
	assert.Equal(t, []string{"u1", "pr1", "p1", "f1"}, deletes)
	assert.Len(t, delta.Deletes, 4)
	assert.Len(t, delta.RemoveEdges, 3)
	assert.Empty(t, delta.Upserts)
}

func TestCascadeStopsAtNonCascadingLinks(t *testing.T) {
	s := seeded(t)
	// Deleting a post removes its photo but not its author.
	d := s.Begin(2)
	deleted, err := d.Delete("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "f1"}, deleted)
	next, _, _ := d.Commit()
	assert.True(t, next.Has("pr1"))
	assert.Empty(t, next.Neighbors("pr1", resolve(t, next.Registry(), "profiles", "authoredPosts")))

	_, err = s.Begin(3).Delete("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCascadeCycleTerminates(t *testing.T) {
	reg := schema.New().
		MustDefineEntity("nodes").
		MustDefineLink("next",
			schema.Role{On: "nodes", Has: schema.One, Label: "next", OnDelete: schema.Cascade},
			schema.Role{On: "nodes", Has: schema.One, Label: "prev", OnDelete: schema.Cascade})
	d := New(reg).Begin(1)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.Create("nodes", id, nil))
	}
	tr := resolve(t, reg, "nodes", "next")
	require.NoError(t, d.Link(tr, "a", "b"))
	require.NoError(t, d.Link(tr, "b", "c"))
	require.NoError(t, d.Link(tr, "c", "a"))
	s, _, _ := d.Commit()

	assert.Equal(t, []string{"b", "c", "a"}, s.CascadeClosure("b"), "forward role first, then reverse")
	d = s.Begin(2)
	deleted, err := d.Delete("b")
	require.NoError(t, err)
	assert.Len(t, deleted, 3)
	next, _, _ := d.Commit()
	assert.Equal(t, 0, next.Len())
}

func TestLinkCardinalityOneReplaces(t *testing.T) {
	s := seeded(t)
	reg := s.Registry()
	author := resolve(t, reg, "posts", "author")

	d := s.Begin(2)
	require.NoError(t, d.Link(author, "p1", "pr2"))
	next, touches, delta := d.Commit()

	assert.Equal(t, []string{"pr2"}, next.Neighbors("p1", author))
	assert.Equal(t, []ir.Edge{{Link: "postAuthor", From: "p1", To: "pr2"}}, delta.AddEdges)
	assert.Equal(t, []ir.Edge{{Link: "postAuthor", From: "p1", To: "pr1"}}, delta.RemoveEdges)
	assert.Equal(t, []ir.Touch{
		{Type: "posts", ID: "p1", Kind: ir.TouchLink, Name: "author", Action: ir.OpUnlink, Peer: "pr1"},
		{Type: "profiles", ID: "pr1", Kind: ir.TouchLink, Name: "authoredPosts", Action: ir.OpUnlink, Peer: "p1"},
		{Type: "posts", ID: "p1", Kind: ir.TouchLink, Name: "author", Action: ir.OpLink, Peer: "pr2"},
		{Type: "profiles", ID: "pr2", Kind: ir.TouchLink, Name: "authoredPosts", Action: ir.OpLink, Peer: "p1"},
	}, touches)
}

func TestLinkFromReverseSide(t *testing.T) {
	s := seeded(t)
	reg := s.Registry()
	hearted := resolve(t, reg, "profiles", "heartedPosts")

	d := s.Begin(2)
	require.NoError(t, d.Link(hearted, "pr2", "p1"))
	require.NoError(t, d.Link(hearted, "pr2", "p1"), "relinking is a no-op")
	next, touches, _ := d.Commit()
	assert.Equal(t, []string{"pr2"}, next.Neighbors("p1", resolve(t, reg, "posts", "hearters")))
	assert.Len(t, touches, 2)
}

func TestLinkUnlinkRoundTrip(t *testing.T) {
	s := seeded(t)
	reg := s.Registry()
	hearters := resolve(t, reg, "posts", "hearters")
	before, err := s.Hash()
	require.NoError(t, err)

	d := s.Begin(2)
	require.NoError(t, d.Link(hearters, "p1", "pr2"))
	mid, _, _ := d.Commit()
	assert.True(t, mid.HasEdge(ir.Edge{Link: "hearters", From: "p1", To: "pr2"}))

	d = mid.Begin(3)
	require.NoError(t, d.Unlink(hearters, "p1", "pr2"))
	require.NoError(t, d.Unlink(hearters, "p1", "pr2"), "unlinking a missing edge is a no-op")
	after, _, delta := d.Commit()
	assert.Equal(t, []ir.Edge{{Link: "hearters", From: "p1", To: "pr2"}}, delta.RemoveEdges)

	h, err := after.Hash()
	require.NoError(t, err)
	assert.Equal(t, before, h, "entity and edge state is back where it started")
}

func TestLinkChecksEndpoints(t *testing.T) {
	s := seeded(t)
	reg := s.Registry()
	author := resolve(t, reg, "posts", "author")
	d := s.Begin(2)

	assert.ErrorIs(t, d.Link(author, "p1", "nope"), ErrNotFound)
	assert.ErrorIs(t, d.Link(author, "p1", "u1"), ErrTypeMismatch)
	assert.ErrorIs(t, d.Link(author, "pr1", "pr1"), ErrTypeMismatch)
	assert.ErrorIs(t, d.Unlink(author, "ghost", "pr1"), ErrNotFound)
}

func TestDeltaSkipsTransientEntities(t *testing.T) {
	s := seeded(t)
	d := s.Begin(2)
	require.NoError(t, d.Create("posts", "tmp", nil))
	_, err := d.Delete("tmp")
	require.NoError(t, err)
	_, _, delta := d.Commit()
	assert.True(t, delta.Empty())
}

func TestRecreateClearsTombstone(t *testing.T) {
	s := seeded(t)
	d := s.Begin(2)
	_, err := d.Delete("p1")
	require.NoError(t, err)
	s2, _, _ := d.Commit()
	_, ok := s2.Tombstone("p1")
	require.True(t, ok)

	d = s2.Begin(3)
	require.NoError(t, d.Create("posts", "p1", nil))
	s3, _, _ := d.Commit()
	_, ok = s3.Tombstone("p1")
	assert.False(t, ok)
}

func TestRestoreMatchesHash(t *testing.T) {
	s := seeded(t)
	restored, err := Restore(s.Registry(), s.Seq(), s.All(), s.Edges(), s.Tombstones())
	require.NoError(t, err)

	h1, err := s.Hash()
	require.NoError(t, err)
	h2, err := restored.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, []string{"pr2"}, restored.Lookup("profiles", "handle", ir.IRString("ben")))

	_, err = Restore(s.Registry(), 1, []ir.Entity{{ID: "x", Type: "ghosts"}}, nil, nil)
	assert.True(t, errors.Is(err, ErrUnknownType))
	_, err = Restore(s.Registry(), 1, nil, []ir.Edge{{Link: "nope", From: "a", To: "b"}}, nil)
	assert.True(t, errors.Is(err, ErrUnknownLink))
}

func TestEntitiesOrderedByCreation(t *testing.T) {
	s := seeded(t)
	d := s.Begin(2)
	require.NoError(t, d.Create("posts", "a0", nil))
	next, _, _ := d.Commit()

	var ids []string
	for _, e := range next.Entities("posts") {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"p1", "a0"}, ids)
}
