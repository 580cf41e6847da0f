package querysql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
	"github.com/roach88/livegraph/internal/store"
	"github.com/roach88/livegraph/internal/testutil"
)

func mustPlan(t *testing.T, reg *schema.Registry, q livequery.Query) *livequery.Plan {
	t.Helper()
	plan, err := livequery.Compile(reg, q)
	require.NoError(t, err)
	return plan
}

func TestCompile_TypeOnly(t *testing.T) {
	reg := testutil.PhotoRegistry()
	compiler := NewSQLCompiler(reg)

	sql, params, err := compiler.Compile(mustPlan(t, reg, livequery.Query{Type: "profiles"}))
	require.NoError(t, err)

	assert.Equal(t, "SELECT "+EntityColumns+" FROM entities e0 WHERE e0.type = ? ORDER BY e0.created_seq ASC, e0.id COLLATE BINARY ASC", sql)
	assert.Equal(t, []any{"profiles"}, params)
}

func TestCompile_AttrEquals(t *testing.T) {
	reg := testutil.PhotoRegistry()
	compiler := NewSQLCompiler(reg)

	q := livequery.Query{Type: "profiles", Where: ir.IRObject{"handle": ir.IRString("alyssa")}}
	sql, params, err := compiler.Compile(mustPlan(t, reg, q))
	require.NoError(t, err)

	assert.Contains(t, sql, "json_type(e0.attrs, ?) = 'text' AND json_extract(e0.attrs, ?) = ?")
	assert.NotContains(t, sql, "alyssa") // Value NOT in SQL
	assert.Equal(t, []any{"profiles", `$."handle"`, `$."handle"`, "alyssa"}, params)
}

func TestCompile_IDEquals(t *testing.T) {
	reg := testutil.PhotoRegistry()
	compiler := NewSQLCompiler(reg)

	sql, params, err := compiler.Compile(mustPlan(t, reg, livequery.Query{Type: "posts", Where: ir.IRObject{"id": ir.IRString("a")}}))
	require.NoError(t, err)
	assert.Contains(t, sql, "e0.id = ?")
	assert.Equal(t, []any{"posts", "a"}, params)

	// ids are strings; a numeric id never matches.
	sql, params, err = compiler.Compile(mustPlan(t, reg, livequery.Query{Type: "posts", Where: ir.IRObject{"id": ir.IRInt(1)}}))
	require.NoError(t, err)
	assert.Contains(t, sql, "0 = 1")
	assert.Equal(t, []any{"posts"}, params)
}

func TestCompile_LinkPath(t *testing.T) {
	reg := testutil.PhotoRegistry()
	compiler := NewSQLCompiler(reg)

	q := livequery.Query{Type: "posts", Where: ir.IRObject{"author.owner.id": ir.IRString("u1")}}
	sql, params, err := compiler.Compile(mustPlan(t, reg, q))
	require.NoError(t, err)

	// posts are the forward side of postAuthor, profiles the forward side
	// of profilesOwner.
	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM edges g1 JOIN entities e1 ON e1.id = g1.to_id WHERE g1.link = ? AND g1.from_id = e0.id AND "+
		"EXISTS (SELECT 1 FROM edges g2 JOIN entities e2 ON e2.id = g2.to_id WHERE g2.link = ? AND g2.from_id = e1.id AND e2.id = ?))")
	assert.Equal(t, []any{"posts", "postAuthor", "profilesOwner", "u1"}, params)
}

func TestCompile_ReverseLink(t *testing.T) {
	reg := testutil.PhotoRegistry()
	compiler := NewSQLCompiler(reg)

	q := livequery.Query{Type: "profiles", Where: ir.IRObject{"authoredPosts": ir.IRString("a")}}
	sql, params, err := compiler.Compile(mustPlan(t, reg, q))
	require.NoError(t, err)

	assert.Contains(t, sql, "JOIN entities e1 ON e1.id = g1.from_id WHERE g1.link = ? AND g1.to_id = e0.id AND e1.id = ?")
	assert.Equal(t, []any{"profiles", "postAuthor", "a"}, params)
}

func TestCompile_And(t *testing.T) {
	reg := testutil.PhotoRegistry()
	compiler := NewSQLCompiler(reg)

	q := livequery.Query{Type: "profiles", Where: ir.IRObject{
		"handle":   ir.IRString("alyssa"),
		"owner.id": ir.IRString("u1"),
	}}
	sql, params, err := compiler.Compile(mustPlan(t, reg, q))
	require.NoError(t, err)

	assert.Contains(t, sql, "WHERE e0.type = ? AND (json_type(")
	assert.Contains(t, sql, ") ORDER BY")
	// Where keys compile in sorted order.
	assert.Equal(t, []any{"profiles", `$."handle"`, `$."handle"`, "alyssa", "profilesOwner", "u1"}, params)
}

func TestCompile_Nil(t *testing.T) {
	_, _, err := NewSQLCompiler(testutil.PhotoRegistry()).Compile(nil)
	require.Error(t, err)
}

func TestCompileAnd_Empty(t *testing.T) {
	sql, params, err := NewSQLCompiler(testutil.PhotoRegistry()).compileAnd(livequery.And{}, "posts", "e0", 1)
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", sql)
	assert.Nil(t, params)
}

func taskRegistry() *schema.Registry {
	return schema.New().
		MustDefineEntity("tasks",
			schema.Attr{Name: "title", Type: schema.TypeString},
			schema.Attr{Name: "rank", Type: schema.TypeNumber, Optional: true},
			schema.Attr{Name: "done", Type: schema.TypeBoolean, Optional: true},
			schema.Attr{Name: "code", Type: schema.TypeAny, Optional: true}).
		MustDefineEntity("lists", schema.Attr{Name: "name", Type: schema.TypeString}).
		MustDefineLink("taskList",
			schema.Role{On: "tasks", Has: schema.One, Label: "list"},
			schema.Role{On: "lists", Has: schema.Many, Label: "tasks"})
}

// TestSQLMatchesLiveQuery runs the same where clauses through the store
// and through the in-memory evaluator and expects the same ids in the
// same order.
func TestSQLMatchesLiveQuery(t *testing.T) {
	ctx := context.Background()
	reg := taskRegistry()
	rs := rules.NewRuleSet()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	e, err := engine.New(ctx, reg, rs, engine.WithStore(st))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.TransactAdmin(ctx, testutil.Tx(
		testutil.Create("lists", "home", ir.IRObject{"name": ir.IRString("home")}),
		testutil.Create("lists", "work", ir.IRObject{"name": ir.IRString("work")}),
		testutil.Create("tasks", "t3", ir.IRObject{"title": ir.IRString("dishes"), "rank": ir.IRInt(1), "done": ir.IRBool(true), "code": ir.IRString("1")}),
		testutil.Create("tasks", "t1", ir.IRObject{"title": ir.IRString("report"), "rank": ir.IRInt(2), "done": ir.IRBool(false), "code": ir.IRInt(1)}),
		testutil.Link("tasks", "t3", "list", "home"),
		testutil.Link("tasks", "t1", "list", "work"),
	))
	require.NoError(t, err)
	_, err = e.TransactAdmin(ctx, testutil.Tx(
		testutil.Create("tasks", "t2", ir.IRObject{"title": ir.IRString("laundry"), "rank": ir.IRInt(1), "code": ir.IRBool(true)}),
		testutil.Link("tasks", "t2", "list", "home"),
	))
	require.NoError(t, err)

	tests := []struct {
		name  string
		query livequery.Query
		want  []string
	}{
		{"all tasks", livequery.Query{Type: "tasks"}, []string{"t1", "t3", "t2"}},
		{"string attr", livequery.Query{Type: "tasks", Where: ir.IRObject{"title": ir.IRString("laundry")}}, []string{"t2"}},
		{"number attr", livequery.Query{Type: "tasks", Where: ir.IRObject{"rank": ir.IRInt(1)}}, []string{"t3", "t2"}},
		{"bool true", livequery.Query{Type: "tasks", Where: ir.IRObject{"done": ir.IRBool(true)}}, []string{"t3"}},
		{"bool false", livequery.Query{Type: "tasks", Where: ir.IRObject{"done": ir.IRBool(false)}}, []string{"t1"}},
		{"any as int", livequery.Query{Type: "tasks", Where: ir.IRObject{"code": ir.IRInt(1)}}, []string{"t1"}},
		{"any as string", livequery.Query{Type: "tasks", Where: ir.IRObject{"code": ir.IRString("1")}}, []string{"t3"}},
		{"any as bool", livequery.Query{Type: "tasks", Where: ir.IRObject{"code": ir.IRBool(true)}}, []string{"t2"}},
		{"forward link", livequery.Query{Type: "tasks", Where: ir.IRObject{"list.name": ir.IRString("home")}}, []string{"t3", "t2"}},
		{"reverse link", livequery.Query{Type: "lists", Where: ir.IRObject{"tasks": ir.IRString("t1")}}, []string{"work"}},
		{"conjunction", livequery.Query{Type: "tasks", Where: ir.IRObject{"list": ir.IRString("home"), "rank": ir.IRInt(1)}}, []string{"t3", "t2"}},
		{"no match", livequery.Query{Type: "tasks", Where: ir.IRObject{"title": ir.IRString("nothing")}}, []string{}},
	}

	compiler := NewSQLCompiler(reg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := mustPlan(t, reg, tt.query)
			sql, params, err := compiler.Compile(plan)
			require.NoError(t, err)

			found, err := st.FindEntities(ctx, sql, params...)
			require.NoError(t, err)
			sqlIDs := make([]string, len(found))
			for i, ent := range found {
				sqlIDs[i] = ent.ID
			}

			res, err := e.Query(tt.query, ir.Identity{Admin: true})
			require.NoError(t, err)
			liveIDs := make([]string, len(res.Nodes))
			for i, n := range res.Nodes {
				liveIDs[i] = n.ID
			}

			assert.Equal(t, tt.want, sqlIDs)
			assert.Equal(t, liveIDs, sqlIDs)
		})
	}
}
