package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livegraph/internal/compiler"
	"github.com/roach88/livegraph/internal/ir"
	"github.com/roach88/livegraph/internal/schema"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// Compilation is the compiled form of a specs directory.
type Compilation struct {
	SchemaHash string                       `json:"schema_hash"`
	Entities   []*schema.EntityDef          `json:"entities"`
	Links      []*schema.LinkDef            `json:"links"`
	Rules      map[string]map[string]string `json:"rules"` // type -> category -> expression
	Warnings   []compiler.CascadeWarning    `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs-dir>",
		Short: "Compile CUE specs into a schema and rule summary",
		Long: `Compile the CUE schema and rules and print what the engine will run
with: entity types, links with their roles, and every rule expression.

With --output the compilation is also written as canonical JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write canonical JSON to file")
	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	spec, err := LoadSpecs(specsDir)
	if err != nil {
		return failLoad(formatter, err)
	}
	c, err := newCompilation(spec)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
	for _, name := range spec.Registry.EntityNames() {
		formatter.VerboseLog("Compiled entity: %s", name)
	}

	if opts.Output != "" {
		data, err := ir.MarshalCanonical(c.canonical())
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
		}
		if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return formatter.Success(c, c.text(opts.Output))
}

func newCompilation(spec *compiler.Spec) (*Compilation, error) {
	hash, err := spec.Registry.Hash()
	if err != nil {
		return nil, err
	}
	c := &Compilation{
		SchemaHash: hash,
		Links:      spec.Registry.Links(),
		Rules:      make(map[string]map[string]string),
		Warnings:   spec.Warnings,
	}
	for _, name := range spec.Registry.EntityNames() {
		def, _ := spec.Registry.Entity(name)
		c.Entities = append(c.Entities, def)
	}
	for _, typ := range spec.Rules.Types() {
		byCat := make(map[string]string)
		for _, cat := range spec.Rules.Categories(typ) {
			e, _, _ := spec.Rules.Resolve(typ, cat)
			byCat[string(cat)] = e.String()
		}
		c.Rules[typ] = byCat
	}
	return c, nil
}

// canonical converts the compilation to plain maps, since
// ir.MarshalCanonical only handles IR types and primitives.
func (c *Compilation) canonical() map[string]any {
	entities := make(map[string]any, len(c.Entities))
	for _, def := range c.Entities {
		attrs := make([]any, len(def.Attrs))
		for i, a := range def.Attrs {
			attrs[i] = map[string]any{
				"name":     a.Name,
				"type":     string(a.Type),
				"unique":   a.Unique,
				"indexed":  a.Indexed,
				"optional": a.Optional,
			}
		}
		entities[def.Name] = attrs
	}
	role := func(r schema.Role) map[string]any {
		return map[string]any{
			"on":        r.On,
			"has":       string(r.Has),
			"label":     r.Label,
			"on_delete": string(r.OnDelete),
		}
	}
	links := make(map[string]any, len(c.Links))
	for _, l := range c.Links {
		links[l.Name] = map[string]any{"forward": role(l.Forward), "reverse": role(l.Reverse)}
	}
	rules := make(map[string]any, len(c.Rules))
	for typ, byCat := range c.Rules {
		m := make(map[string]any, len(byCat))
		for cat, expr := range byCat {
			m[cat] = expr
		}
		rules[typ] = m
	}
	return map[string]any{
		"schema_hash": c.SchemaHash,
		"entities":    entities,
		"links":       links,
		"rules":       rules,
	}
}

func (c *Compilation) text(outputFile string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Compiled %d entity type(s), %d link(s)\n\n", len(c.Entities), len(c.Links))

	b.WriteString("Entities:\n")
	for _, def := range c.Entities {
		names := make([]string, len(def.Attrs))
		for i, a := range def.Attrs {
			names[i] = a.Name
		}
		fmt.Fprintf(&b, "  %s: %s\n", def.Name, strings.Join(names, ", "))
	}

	if len(c.Links) > 0 {
		b.WriteString("\nLinks:\n")
		for _, l := range c.Links {
			fmt.Fprintf(&b, "  %s: %s.%s (%s) ↔ %s.%s (%s)\n", l.Name,
				l.Forward.On, l.Forward.Label, l.Forward.Has,
				l.Reverse.On, l.Reverse.Label, l.Reverse.Has)
		}
	}

	if len(c.Rules) > 0 {
		b.WriteString("\nRules:\n")
		for _, typ := range slices.Sorted(maps.Keys(c.Rules)) {
			for _, cat := range slices.Sorted(maps.Keys(c.Rules[typ])) {
				fmt.Fprintf(&b, "  %s.%s: %s\n", typ, cat, c.Rules[typ][cat])
			}
		}
	}

	if outputFile != "" {
		fmt.Fprintf(&b, "\nWrote canonical JSON to %s\n", outputFile)
	}
	return strings.TrimRight(b.String(), "\n")
}
