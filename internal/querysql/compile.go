package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/schema"
)

// SQLCompiler compiles the root of a live query plan to parameterized SQL
// over the store's materialized entities and edges tables.
//
// Every query orders by created_seq then id, the order live query results
// use. Values are always bound as parameters, never interpolated.
type SQLCompiler struct {
	reg *schema.Registry
}

// NewSQLCompiler creates a compiler resolving link labels against reg.
func NewSQLCompiler(reg *schema.Registry) *SQLCompiler {
	return &SQLCompiler{reg: reg}
}

// EntityColumns are the columns every compiled query selects, in the order
// store.FindEntities scans them.
const EntityColumns = "e0.id, e0.type, e0.attrs, e0.created_seq, e0.updated_seq"

// Compile converts plan's type and filter to SQL. Includes are not
// compiled; callers that need them must reject such plans first.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(plan *livequery.Plan) (string, []any, error) {
	if plan == nil {
		return "", nil, fmt.Errorf("cannot compile nil plan")
	}

	params := []any{plan.Type}
	where := "e0.type = ?"
	if plan.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(plan.Filter, plan.Type, "e0", 1)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where += " AND " + filterSQL
		params = append(params, filterParams...)
	}

	sql := fmt.Sprintf("SELECT %s FROM entities e0 WHERE %s ORDER BY %s",
		EntityColumns, where, stableOrderKey("e0"))
	return sql, params, nil
}

// stableOrderKey returns the ORDER BY clause for alias. COLLATE BINARY
// keeps text ordering identical to Go string comparison.
func stableOrderKey(alias string) string {
	return alias + ".created_seq ASC, " + alias + ".id COLLATE BINARY ASC"
}

// compilePredicate compiles p on the entity bound to alias, of type typ.
// depth numbers the aliases of nested subqueries.
func (c *SQLCompiler) compilePredicate(p livequery.Predicate, typ, alias string, depth int) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil // Always true
	case livequery.Equals:
		return compileEquals(alias, pred.Attr, pred.Value)
	case livequery.LinkEquals:
		return c.compileLinkEquals(pred, typ, alias, depth)
	case livequery.And:
		return c.compileAnd(pred, typ, alias, depth)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals matches attr on alias against v. Attributes live in the
// attrs JSON column, so the JSON type is checked along with the value: a
// stored "1" must not match 1, nor true match 1.
func compileEquals(alias, attr string, v ir.IRValue) (string, []any, error) {
	if attr == "id" {
		s, ok := v.(ir.IRString)
		if !ok {
			return "0 = 1", nil, nil // ids are strings
		}
		return alias + ".id = ?", []any{string(s)}, nil
	}

	path := jsonPath(attr)
	switch val := v.(type) {
	case ir.IRString:
		return fmt.Sprintf("json_type(%[1]s.attrs, ?) = 'text' AND json_extract(%[1]s.attrs, ?) = ?", alias),
			[]any{path, path, string(val)}, nil
	case ir.IRInt:
		return fmt.Sprintf("json_type(%[1]s.attrs, ?) = 'integer' AND json_extract(%[1]s.attrs, ?) = ?", alias),
			[]any{path, path, int64(val)}, nil
	case ir.IRBool:
		return fmt.Sprintf("json_type(%s.attrs, ?) = ?", alias),
			[]any{path, fmt.Sprint(bool(val))}, nil
	default:
		return "", nil, fmt.Errorf("unsupported value for %s: %T", attr, v)
	}
}

// compileLinkEquals walks Path with one EXISTS subquery per hop. An edge
// row stores the forward-side entity in from_id.
func (c *SQLCompiler) compileLinkEquals(le livequery.LinkEquals, typ, alias string, depth int) (string, []any, error) {
	if len(le.Path) == 0 {
		return compileEquals(alias, le.Attr, le.Value)
	}
	t, ok := c.reg.Resolve(typ, le.Path[0])
	if !ok {
		return "", nil, fmt.Errorf("no link labelled %q on %s", le.Path[0], typ)
	}

	edge := fmt.Sprintf("g%d", depth)
	peer := fmt.Sprintf("e%d", depth)
	self, other := "from_id", "to_id"
	if t.Side == schema.Reverse {
		self, other = other, self
	}

	rest := livequery.LinkEquals{Path: le.Path[1:], Attr: le.Attr, Value: le.Value}
	inner, innerParams, err := c.compileLinkEquals(rest, t.PeerType(), peer, depth+1)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM edges %[1]s JOIN entities %[2]s ON %[2]s.id = %[1]s.%[3]s WHERE %[1]s.link = ? AND %[1]s.%[4]s = %[5]s.id AND %[6]s)",
		edge, peer, other, self, alias, inner)
	params := append([]any{t.Link.Name}, innerParams...)
	return sql, params, nil
}

// compileAnd compiles an And predicate to conjunction with AND.
func (c *SQLCompiler) compileAnd(and livequery.And, typ, alias string, depth int) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // Always true (vacuous truth)
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred, typ, alias, depth)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}
	return "(" + strings.Join(sqlParts, " AND ") + ")", allParams, nil
}

func jsonPath(attr string) string {
	return `$."` + attr + `"`
}
