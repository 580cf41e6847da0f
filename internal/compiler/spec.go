package compiler

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/livegraph/internal/rules"
	"github.com/roach88/livegraph/internal/schema"
)

// Spec is a compiled spec directory: the schema, the rules over it, and
// non-fatal findings.
type Spec struct {
	Registry *schema.Registry
	Rules    *rules.RuleSet
	Warnings []CascadeWarning
}

// CompileError is a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Code    string // schema.DefinitionError code when the registry rejected a declaration
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = "[" + e.Code + "] " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, msg)
	}
	return fmt.Sprintf("%s: %s", e.Field, msg)
}

// Compile builds a Spec from a CUE value with top-level "entities",
// "links" and "rules" fields.
//
//	entities: profiles: {
//		handle:   {type: "string", unique: true}
//		fullName: "string"
//	}
//	links: profilesOwner: {
//		forward: {on: "profiles", has: "one", label: "owner", onDelete: "cascade"}
//		reverse: {on: "$users", has: "one", label: "profile"}
//	}
//	rules: profiles: {
//		view:       true
//		"$default": {linkTraverse: {path: ["owner"], attr: "id", value: {auth: "id"}}}
//	}
//
// Rules are validated against the schema; all rule problems are reported
// together.
func Compile(v cue.Value) (*Spec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	reg := schema.New()
	if err := compileEntities(reg, v.LookupPath(cue.ParsePath("entities"))); err != nil {
		return nil, err
	}
	if err := compileLinks(reg, v.LookupPath(cue.ParsePath("links"))); err != nil {
		return nil, err
	}

	rs, err := compileRules(v.LookupPath(cue.ParsePath("rules")))
	if err != nil {
		return nil, err
	}
	if errs := rs.Validate(reg); len(errs) > 0 {
		return nil, &CompileError{
			Field:   "rules",
			Message: errors.Join(errs...).Error(),
			Pos:     v.LookupPath(cue.ParsePath("rules")).Pos(),
		}
	}

	return &Spec{Registry: reg, Rules: rs, Warnings: AnalyzeCascades(reg)}, nil
}

func compileEntities(reg *schema.Registry, v cue.Value) error {
	if !v.Exists() {
		return &CompileError{Field: "entities", Message: "at least one entity is required"}
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		attrs, err := compileAttrs(name, iter.Value())
		if err != nil {
			return err
		}
		if err := reg.DefineEntity(name, attrs...); err != nil {
			return definitionError("entities."+name, iter.Value().Pos(), err)
		}
	}
	return nil
}

// compileAttrs accepts either a bare type string or a struct with type
// and flags for each attribute.
func compileAttrs(entity string, v cue.Value) ([]schema.Attr, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var attrs []schema.Attr
	for iter.Next() {
		name := iter.Selector().Unquoted()
		field := fmt.Sprintf("entities.%s.%s", entity, name)
		av := iter.Value()

		if typ, err := av.String(); err == nil {
			attrs = append(attrs, schema.Attr{Name: name, Type: schema.AttrType(typ)})
			continue
		}

		attr := schema.Attr{Name: name}
		typ, err := stringField(av, "type", field)
		if err != nil {
			return nil, err
		}
		attr.Type = schema.AttrType(typ)
		if attr.Unique, err = boolField(av, "unique", field); err != nil {
			return nil, err
		}
		if attr.Indexed, err = boolField(av, "indexed", field); err != nil {
			return nil, err
		}
		if attr.Optional, err = boolField(av, "optional", field); err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func compileLinks(reg *schema.Registry, v cue.Value) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		field := "links." + name
		forward, err := compileRole(iter.Value().LookupPath(cue.ParsePath("forward")), field+".forward")
		if err != nil {
			return err
		}
		reverse, err := compileRole(iter.Value().LookupPath(cue.ParsePath("reverse")), field+".reverse")
		if err != nil {
			return err
		}
		if err := reg.DefineLink(name, forward, reverse); err != nil {
			return definitionError(field, iter.Value().Pos(), err)
		}
	}
	return nil
}

func compileRole(v cue.Value, field string) (schema.Role, error) {
	if !v.Exists() {
		return schema.Role{}, &CompileError{Field: field, Message: "role is required"}
	}
	var role schema.Role
	var err error
	if role.On, err = stringField(v, "on", field); err != nil {
		return role, err
	}
	has, err := stringField(v, "has", field)
	if err != nil {
		return role, err
	}
	role.Has = schema.Cardinality(has)
	if role.Label, err = stringField(v, "label", field); err != nil {
		return role, err
	}
	if od := v.LookupPath(cue.ParsePath("onDelete")); od.Exists() {
		s, err := od.String()
		if err != nil {
			return role, formatCUEError(err)
		}
		role.OnDelete = schema.OnDelete(s)
	}
	return role, nil
}

func stringField(v cue.Value, name, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", &CompileError{Field: field + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func boolField(v cue.Value, name, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{Field: field + "." + name, Message: "must be a boolean", Pos: fv.Pos()}
	}
	return b, nil
}

func definitionError(field string, pos token.Pos, err error) error {
	var def *schema.DefinitionError
	if errors.As(err, &def) {
		return &CompileError{Field: field, Message: def.Message, Code: def.Code, Pos: pos}
	}
	return &CompileError{Field: field, Message: err.Error(), Pos: pos}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
