package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livegraph/internal/graph"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/schema"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRegistry() *schema.Registry {
	return schema.New().
		MustDefineEntity("$users", schema.Attr{Name: "email", Type: schema.TypeString, Unique: true}).
		MustDefineEntity("profiles",
			schema.Attr{Name: "handle", Type: schema.TypeString, Unique: true},
			schema.Attr{Name: "age", Type: schema.TypeNumber, Optional: true}).
		MustDefineLink("profilesOwner",
			schema.Role{On: "profiles", Has: schema.One, Label: "owner", OnDelete: schema.Cascade},
			schema.Role{On: "$users", Has: schema.One, Label: "profile"})
}

// commit applies build to a draft of base and persists the result.
func commit(t *testing.T, s *Store, base *graph.Snapshot, seq int64, build func(d *graph.Draft)) *graph.Snapshot {
	t.Helper()
	d := base.Begin(seq)
	build(d)
	next, touches, delta := d.Commit()
	c := Commit{
		Seq:           seq,
		TxID:          ir.MustTransactionID([]ir.Op{{Kind: ir.OpCreate, Type: "seq", ID: "x"}}, seq),
		Actor:         ir.Identity{Admin: true},
		Ops:           []ir.Op{{Kind: ir.OpCreate, Type: "seq", ID: "x"}},
		Touches:       touches,
		SchemaHash:    "schema-hash",
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
	require.NoError(t, s.WriteCommit(context.Background(), c, delta))
	return next
}

func seedUser(t *testing.T, s *Store, reg *schema.Registry) *graph.Snapshot {
	t.Helper()
	owner, _ := reg.Resolve("profiles", "owner")
	return commit(t, s, graph.New(reg), 1, func(d *graph.Draft) {
		require.NoError(t, d.Create("$users", "u1", ir.IRObject{"email": ir.IRString("alyssa@example.com")}))
		require.NoError(t, d.Create("profiles", "pr1", ir.IRObject{"handle": ir.IRString("alyssa"), "age": ir.IRInt(1 << 60)}))
		require.NoError(t, d.Link(owner, "pr1", "u1"))
	})
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}
	_, err := os.Stat(path)
	require.NoError(t, err)

	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
	assert.NoError(t, s.Ping(context.Background()))
}

func TestEmptyStore(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	seq, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	hash, err := s.SchemaHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)

	commits, err := s.ReadCommits(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, commits)
	assert.Empty(t, commits)

	snap, err := s.LoadSnapshot(ctx, testRegistry())
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
}

func TestWriteCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	reg := testRegistry()

	want := seedUser(t, s, reg)
	got, err := s.LoadSnapshot(ctx, reg)
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.Seq())
	wantHash, err := want.Hash()
	require.NoError(t, err)
	gotHash, err := got.Hash()
	require.NoError(t, err)
	assert.Equal(t, wantHash, gotHash)

	pr, ok := got.Entity("pr1")
	require.True(t, ok)
	assert.Equal(t, ir.IRInt(1<<60), pr.Attrs["age"], "large integers survive storage")
	assert.Equal(t, []string{"pr1"}, got.Lookup("profiles", "handle", ir.IRString("alyssa")))

	c, err := s.ReadCommit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ir.Identity{Admin: true}, c.Actor)
	assert.Equal(t, "schema-hash", c.SchemaHash)
	assert.Contains(t, c.Touches, ir.Touch{Type: "profiles", ID: "pr1", Kind: ir.TouchLink, Name: "owner", Action: ir.OpLink, Peer: "u1"})
	assert.Equal(t, int64(1), c.Changelog().Seq)
}

func TestWriteCommitCascadeDelete(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	reg := testRegistry()
	base := seedUser(t, s, reg)

	commit(t, s, base, 2, func(d *graph.Draft) {
		deleted, err := d.Delete("u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "pr1"}, deleted)
	})

	got, err := s.LoadSnapshot(ctx, reg)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
	assert.Empty(t, got.Edges())
	at, ok := got.Tombstone("pr1")
	assert.True(t, ok)
	assert.Equal(t, int64(2), at)

	// Recreating a deleted id clears its tombstone.
	commit(t, s, got, 3, func(d *graph.Draft) {
		require.NoError(t, d.Create("$users", "u1", ir.IRObject{"email": ir.IRString("again@example.com")}))
	})
	got, err = s.LoadSnapshot(ctx, reg)
	require.NoError(t, err)
	_, ok = got.Tombstone("u1")
	assert.False(t, ok)
	assert.True(t, got.Has("u1"))

	commits, err := s.ReadCommits(ctx, 1)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, []int64{2, 3}, []int64{commits[0].Seq, commits[1].Seq})
}

func TestWriteCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	reg := testRegistry()
	base := seedUser(t, s, reg)

	d := base.Begin(2)
	require.NoError(t, d.Update("pr1", ir.IRObject{"handle": ir.IRString("lyssa")}))
	_, touches, delta := d.Commit()

	// Seq 1 already exists; the whole write must roll back.
	err := s.WriteCommit(ctx, Commit{Seq: 1, TxID: "dup", Touches: touches}, graph.Delta{Seq: 1, Upserts: delta.Upserts})
	require.Error(t, err)

	got, err := s.LoadSnapshot(ctx, reg)
	require.NoError(t, err)
	pr, _ := got.Entity("pr1")
	assert.Equal(t, ir.IRString("alyssa"), pr.Attrs["handle"])

	err = s.WriteCommit(ctx, Commit{Seq: 2, TxID: "x"}, graph.Delta{Seq: 3})
	assert.ErrorContains(t, err, "delta is for seq 3")
}

func TestReadCommitNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadCommit(context.Background(), 42)
	assert.ErrorIs(t, err, ErrCommitNotFound)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess := ir.Session{Token: "tok", UserID: "u1", Email: "alyssa@example.com", IssuedSeq: 4}
	require.NoError(t, s.PutSession(ctx, sess))
	got, err := s.GetSession(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, sess, got)
	assert.Equal(t, ir.Identity{ID: "u1", Email: "alyssa@example.com"}, got.Identity())

	require.NoError(t, s.DeleteSession(ctx, "tok"))
	_, err = s.GetSession(ctx, "tok")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, s.DeleteSession(ctx, "tok"))
}
