package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/rules"
)

// compileRules reads rules.<type>.<category> expressions.
//
// Expression forms:
//
//	true | false
//	{attrEq: {attr: "id", value: {auth: "id"}}}
//	{linkTraverse: {path: ["author", "owner"], attr: "id", value: {auth: "id"}}}
//	{attrPrefix: {attr: "path", parts: ["/", {auth: "id"}, "/"]}}
//	{and: [expr, ...]} | {or: [expr, ...]} | {not: expr}
//
// An operand is a scalar literal or {auth: field}. A link path may also
// be written as one dotted string.
func compileRules(v cue.Value) (*rules.RuleSet, error) {
	rs := rules.NewRuleSet()
	if !v.Exists() {
		return rs, nil
	}
	types, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for types.Next() {
		typ := types.Selector().Unquoted()
		cats, err := types.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for cats.Next() {
			cat := cats.Selector().Unquoted()
			expr, err := compileExpr(cats.Value(), fmt.Sprintf("rules.%s.%s", typ, cat))
			if err != nil {
				return nil, err
			}
			rs.Set(typ, rules.Category(cat), expr)
		}
	}
	return rs, nil
}

func compileExpr(v cue.Value, field string) (rules.Expr, error) {
	if b, err := v.Bool(); err == nil {
		return rules.Literal{Allow: b}, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "expression must be a boolean or a single-key struct", Pos: v.Pos()}
	}
	var kinds []string
	var body cue.Value
	for iter.Next() {
		kinds = append(kinds, iter.Selector().Unquoted())
		body = iter.Value()
	}
	if len(kinds) != 1 {
		return nil, &CompileError{Field: field, Message: fmt.Sprintf("expression must have exactly one kind, got %v", kinds), Pos: v.Pos()}
	}
	field += "." + kinds[0]

	switch kinds[0] {
	case "attrEq":
		attr, err := stringField(body, "attr", field)
		if err != nil {
			return nil, err
		}
		val, err := compileOperand(body.LookupPath(cue.ParsePath("value")), field+".value")
		if err != nil {
			return nil, err
		}
		return rules.AttrEq{Attr: attr, Value: val}, nil

	case "linkTraverse":
		path, err := compilePath(body.LookupPath(cue.ParsePath("path")), field+".path")
		if err != nil {
			return nil, err
		}
		attr, err := stringField(body, "attr", field)
		if err != nil {
			return nil, err
		}
		val, err := compileOperand(body.LookupPath(cue.ParsePath("value")), field+".value")
		if err != nil {
			return nil, err
		}
		return rules.LinkTraverse{Path: path, Attr: attr, Value: val}, nil

	case "attrPrefix":
		attr, err := stringField(body, "attr", field)
		if err != nil {
			return nil, err
		}
		list, err := body.LookupPath(cue.ParsePath("parts")).List()
		if err != nil {
			return nil, &CompileError{Field: field + ".parts", Message: "parts must be a list", Pos: body.Pos()}
		}
		var parts []rules.Operand
		for i := 0; list.Next(); i++ {
			op, err := compileOperand(list.Value(), fmt.Sprintf("%s.parts[%d]", field, i))
			if err != nil {
				return nil, err
			}
			parts = append(parts, op)
		}
		return rules.AttrPrefix{Attr: attr, Parts: parts}, nil

	case "and", "or":
		list, err := body.List()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "must be a list of expressions", Pos: body.Pos()}
		}
		var exprs []rules.Expr
		for i := 0; list.Next(); i++ {
			e, err := compileExpr(list.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
		if kinds[0] == "and" {
			return rules.And{Exprs: exprs}, nil
		}
		return rules.Or{Exprs: exprs}, nil

	case "not":
		e, err := compileExpr(body, field)
		if err != nil {
			return nil, err
		}
		return rules.Not{Expr: e}, nil
	}
	return nil, &CompileError{Field: field, Message: "unknown expression kind", Pos: v.Pos()}
}

func compilePath(v cue.Value, field string) ([]string, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: field, Message: "path is required"}
	}
	if s, err := v.String(); err == nil {
		return strings.Split(s, "."), nil
	}
	var path []string
	if err := v.Decode(&path); err != nil || len(path) == 0 {
		return nil, &CompileError{Field: field, Message: "path must be a dotted string or a non-empty list of labels", Pos: v.Pos()}
	}
	return path, nil
}

func compileOperand(v cue.Value, field string) (rules.Operand, error) {
	if !v.Exists() {
		return rules.Operand{}, &CompileError{Field: field, Message: "value is required"}
	}
	if auth := v.LookupPath(cue.ParsePath("auth")); auth.Exists() {
		name, err := auth.String()
		if err != nil {
			return rules.Operand{}, formatCUEError(err)
		}
		return rules.AuthField(name), nil
	}
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return rules.Operand{}, formatCUEError(err)
		}
		return rules.Str(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return rules.Operand{}, formatCUEError(err)
		}
		return rules.Lit(ir.IRBool(b)), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return rules.Operand{}, formatCUEError(err)
		}
		return rules.Lit(ir.IRInt(n)), nil
	}
	return rules.Operand{}, &CompileError{
		Field:   field,
		Message: "operand must be a string, integer, boolean or {auth: field}",
		Pos:     v.Pos(),
	}
}
