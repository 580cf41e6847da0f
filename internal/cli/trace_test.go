package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/store"
)

func TestTraceText(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "", "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "seq 1")
	assert.Contains(t, out, "by admin  (1 ops, 0 cascaded)")
	assert.Contains(t, out, "by u1  (2 ops, 0 cascaded)")
	assert.Contains(t, out, "link profiles[p1].owner -> u1")
	assert.Contains(t, out, "link $users[u1].profile -> p1")
}

func TestTraceSinceAndType(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "", "trace", "--db", db, "--since", "1", "--format", "json")
	require.NoError(t, err)
	var result TraceResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Commits, 1)
	assert.Equal(t, int64(2), result.Commits[0].Seq)
	assert.Equal(t, "u1", result.Commits[0].Actor.ID)

	out, err = execute(t, "", "trace", "--db", db, "--since", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "No commits found after seq 2.")
}

func TestTraceMissingDatabase(t *testing.T) {
	_, err := execute(t, "", "trace", "--db", "/nonexistent/livegraph.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBuildTrace(t *testing.T) {
	commits := []store.Commit{
		{
			Seq:   1,
			TxID:  "tx1",
			Actor: ir.Identity{Admin: true},
			Ops:   []ir.Op{{Kind: ir.OpCreate, Type: "$files", ID: "f1"}},
			Touches: []ir.Touch{
				{Type: "$files", ID: "f1", Kind: ir.TouchAttribute, Name: "id", Action: ir.OpCreate},
			},
		},
		{
			Seq:   2,
			TxID:  "tx2",
			Actor: ir.Identity{ID: "u1"},
			Ops: []ir.Op{
				{Kind: ir.OpDelete, Type: "posts", ID: "a"},
				{Kind: ir.OpDelete, Type: "$files", ID: "f1", Cascade: true},
			},
			Touches: []ir.Touch{
				{Type: "posts", ID: "a", Kind: ir.TouchLink, Name: "photo", Action: ir.OpUnlink, Peer: "f1"},
				{Type: "$files", ID: "f1", Kind: ir.TouchLink, Name: "post", Action: ir.OpUnlink, Peer: "a"},
				{Type: "posts", ID: "a", Kind: ir.TouchAttribute, Name: "id", Action: ir.OpDelete},
				{Type: "$files", ID: "f1", Kind: ir.TouchAttribute, Name: "id", Action: ir.OpDelete},
			},
		},
	}

	all := buildTrace(commits, "")
	require.Len(t, all.Commits, 2)
	assert.Equal(t, int64(2), all.LastSeq)
	assert.Equal(t, 1, all.Commits[1].Cascades)
	assert.Equal(t, []string{
		"unlink posts[a].photo -> f1",
		"unlink $files[f1].post -> a",
		"delete posts[a].id",
		"delete $files[f1].id",
	}, all.Commits[1].Touches)

	posts := buildTrace(commits, "posts")
	require.Len(t, posts.Commits, 1)
	assert.Equal(t, "tx2", posts.Commits[0].TxID)
	assert.Equal(t, int64(2), posts.LastSeq)

	assert.Equal(t, "guest", actorName(ir.Identity{}))
	assert.Equal(t, "admin", actorName(ir.Identity{ID: "u1", Admin: true}))
}
