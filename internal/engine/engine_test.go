package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
	"github.com/roach88/livegraph/internal/store"
	"github.com/roach88/livegraph/internal/testutil"
	"github.com/roach88/livegraph/internal/txn"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(context.Background(), testutil.PhotoRegistry(), testutil.PhotoRules(), opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedUsers commits alyssa (u1, profile pr1) and ben (u2, profile pr2).
func seedUsers(t *testing.T, e *Engine) {
	t.Helper()
	_, err := e.TransactAdmin(context.Background(), testutil.Tx(
		testutil.Create("$users", "u1", testutil.Email("alyssa@example.com")),
		testutil.Create("$users", "u2", testutil.Email("ben@example.com")),
		testutil.Create("profiles", "pr1", testutil.Handle("alyssa")),
		testutil.Link("profiles", "pr1", "owner", "u1"),
		testutil.Create("profiles", "pr2", testutil.Handle("ben")),
		testutil.Link("profiles", "pr2", "owner", "u2"),
	))
	require.NoError(t, err)
}

func next(t *testing.T, sub *livequery.Subscription) livequery.Result {
	t.Helper()
	select {
	case res, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		return livequery.Result{}
	}
}

func nodeIDs(nodes []livequery.Node) []string {
	out := []string{}
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestAlyssaHeartersScenario(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedUsers(t, e)
	alyssa, ben := testutil.User("u1"), testutil.User("u2")

	_, err := e.Transact(ctx, testutil.Tx(
		testutil.Create("posts", "pA", testutil.Content("first post")),
		testutil.Link("posts", "pA", "author", "pr1"),
		testutil.Create("$files", "f1", testutil.Path("/u1/cat.png")),
		testutil.Link("posts", "pA", "photo", "f1"),
	), alyssa)
	require.NoError(t, err)

	sub, err := e.Subscribe(ctx, livequery.Query{
		Type:    "profiles",
		Where:   ir.IRObject{"handle": ir.IRString("alyssa")},
		Include: map[string]*livequery.Query{"authoredPosts": {Include: map[string]*livequery.Query{"hearters": {}}}},
	}, alyssa)
	require.NoError(t, err)
	defer sub.Close()

	initial := next(t, sub)
	require.Equal(t, []string{"pr1"}, nodeIDs(initial.Nodes))
	posts := initial.Nodes[0].Links["authoredPosts"]
	require.Equal(t, []string{"pA"}, nodeIDs(posts))
	assert.Empty(t, posts[0].Links["hearters"])

	hearted, err := e.Transact(ctx, testutil.Tx(testutil.Link("profiles", "pr2", "heartedPosts", "pA")), ben)
	require.NoError(t, err)

	got := next(t, sub)
	assert.Equal(t, hearted.Seq, got.Seq)
	posts = got.Nodes[0].Links["authoredPosts"]
	require.Equal(t, []string{"pA"}, nodeIDs(posts))
	assert.Equal(t, []string{"pr2"}, nodeIDs(posts[0].Links["hearters"]))

	deleted, err := e.Transact(ctx, testutil.Tx(testutil.Delete("posts", "pA")), alyssa)
	require.NoError(t, err)
	assert.Equal(t, []ir.Op{
		testutil.Delete("posts", "pA"),
		{Kind: ir.OpDelete, Type: "$files", ID: "f1", Cascade: true},
	}, deleted.Expanded)

	snap := e.Snapshot()
	assert.False(t, snap.Has("pA"))
	assert.False(t, snap.Has("f1"), "photo cascades with its post")
	assert.True(t, snap.Has("pr1"), "author survives")
	assert.True(t, snap.Has("pr2"), "hearter survives")

	got = next(t, sub)
	assert.Equal(t, deleted.Seq, got.Seq)
	assert.Empty(t, got.Nodes[0].Links["authoredPosts"])
}

func TestRacingUniqueHandles(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedUsers(t, e)

	writers := []struct {
		who     ir.Identity
		profile string
	}{
		{testutil.User("u1"), "pr1"},
		{testutil.User("u2"), "pr2"},
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, len(writers))
	for i, w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = e.Transact(ctx, testutil.Tx(testutil.Update("profiles", w.profile, testutil.Handle("taken"))), w.who)
		}()
	}
	close(start)
	wg.Wait()

	var committed, rejected int
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		assert.True(t, txn.IsUniqueness(err), "unexpected error: %v", err)
		rejected++
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, rejected)
	assert.Len(t, e.Snapshot().Lookup("profiles", "handle", ir.IRString("taken")), 1)
}

func TestRejectedTransactionChangesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedUsers(t, e)
	before := e.Snapshot()

	// ben may not rename alyssa's profile
	_, err := e.Transact(ctx, testutil.Tx(
		testutil.Create("posts", "p9", testutil.Content("mine")),
		testutil.Link("posts", "p9", "author", "pr2"),
		testutil.Update("profiles", "pr1", testutil.Handle("hijacked")),
	), testutil.User("u2"))
	require.Error(t, err)
	assert.True(t, txn.IsPermissionDenied(err))

	assert.Same(t, before, e.Snapshot())
	assert.Equal(t, before.Seq(), e.Seq())
	assert.False(t, e.Snapshot().Has("p9"))
}

func TestUnrelatedCommitDoesNotEmit(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedUsers(t, e)

	sub, err := e.Subscribe(ctx, livequery.Query{Type: "profiles"}, testutil.User("u1"))
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	_, err = e.Transact(ctx, testutil.Tx(testutil.Create("$files", "f1", testutil.Path("/u1/a.png"))), testutil.User("u1"))
	require.NoError(t, err)

	select {
	case res := <-sub.C():
		t.Fatalf("unexpected emission at seq %d", res.Seq)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, sub.Pending())
}

func TestTransactIDsAreDeterministic(t *testing.T) {
	ctx := context.Background()
	a := newEngine(t, WithIDGenerator(NewFixedGenerator("x")))
	b := newEngine(t)
	seedUsers(t, a)
	seedUsers(t, b)

	tx := testutil.Tx(testutil.Create("posts", a.NewID(), testutil.Content("hi")))
	tx.Ops = append(tx.Ops, testutil.Link("posts", tx.Ops[0].ID, "author", "pr1"))
	ra, err := a.Transact(ctx, tx, testutil.User("u1"))
	require.NoError(t, err)
	rb, err := b.Transact(ctx, tx, testutil.User("u1"))
	require.NoError(t, err)

	assert.Equal(t, "x", tx.Ops[0].ID)
	assert.Equal(t, ra.TxID, rb.TxID)
	assert.Equal(t, ir.MustTransactionID(ra.Expanded, ra.Seq), ra.TxID)
	assert.Equal(t, ra.TxID, ra.Changelog.TxID)
}

func TestExpandDoesNotCommit(t *testing.T) {
	e := newEngine(t)
	seedUsers(t, e)

	ops, err := e.Expand(testutil.Tx(testutil.Delete("$users", "u1")))
	require.NoError(t, err)
	assert.Equal(t, []ir.Op{
		testutil.Delete("$users", "u1"),
		{Kind: ir.OpDelete, Type: "profiles", ID: "pr1", Cascade: true},
	}, ops)
	assert.True(t, e.Snapshot().Has("u1"))
	assert.Equal(t, int64(1), e.Seq())
}

func TestPersistenceAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "livegraph.db")
	s := openStore(t, path)

	e := newEngine(t, WithStore(s))
	seedUsers(t, e)
	_, err := e.Transact(ctx, testutil.Tx(
		testutil.Create("posts", "p1", testutil.Content("hello")),
		testutil.Link("posts", "p1", "author", "pr1"),
	), testutil.User("u1"))
	require.NoError(t, err)
	removed, err := e.TransactAdmin(ctx, testutil.Tx(testutil.Delete("$users", "u2")))
	require.NoError(t, err)
	require.Len(t, removed.Expanded, 2)
	assert.Equal(t, "profiles", removed.Expanded[1].Type, "cascade ops carry their type")
	want, err := e.Snapshot().Hash()
	require.NoError(t, err)
	e.Close()

	restarted := newEngine(t, WithStore(s))
	assert.Equal(t, int64(3), restarted.Seq())
	got, err := restarted.Snapshot().Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.False(t, restarted.Snapshot().Has("pr2"), "cascade delete was persisted")

	receipt, err := restarted.Transact(ctx, testutil.Tx(testutil.Update("posts", "p1", testutil.Content("edited"))), testutil.User("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), receipt.Seq)

	report, err := restarted.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Commits)
	assert.Equal(t, int64(4), report.LastSeq)
	assert.True(t, report.Match(), "replayed %s, current %s", report.ReplayedHash, report.CurrentHash)
}

func TestSchemaMismatch(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "livegraph.db"))
	e := newEngine(t, WithStore(s))
	seedUsers(t, e)

	reg := testutil.PhotoRegistry().
		MustDefineEntity("comments", schema.Attr{Name: "body", Type: schema.TypeString})
	_, err := New(context.Background(), reg, testutil.PhotoRules(), WithStore(s))
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestReplayNeedsStore(t *testing.T) {
	_, err := newEngine(t).Replay(context.Background())
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestInvalidRules(t *testing.T) {
	rs := testutil.PhotoRules().Set("ghosts", rules.View, rules.AllowAll)
	_, err := New(context.Background(), testutil.PhotoRegistry(), rs)
	assert.Error(t, err)
}

func TestWithClockMustMatchSnapshot(t *testing.T) {
	_, err := New(context.Background(), testutil.PhotoRegistry(), testutil.PhotoRules(), WithClock(NewClockAt(5)))
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.TransactAdmin(ctx, testutil.Tx(testutil.Create("$users", "u1", testutil.Email("a@example.com"))))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.Seq())
}

func TestClosedEngine(t *testing.T) {
	e := newEngine(t)
	e.Close()

	_, err := e.TransactAdmin(context.Background(), testutil.Tx(testutil.Create("$users", "u1", testutil.Email("a@example.com"))))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Subscribe(context.Background(), livequery.Query{Type: "profiles"}, ir.Identity{})
	assert.ErrorIs(t, err, ErrClosed)
}
