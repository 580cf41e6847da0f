package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livegraph/internal/schema"
)

// CascadeWarning reports entity types whose cascade-delete links form a
// cycle. Cycles are legal: cascade closure visits each entity once. They
// are reported because deleting any member can empty every type in the
// cycle.
type CascadeWarning struct {
	Path    []string `json:"path"` // e.g. ["a", "b", "a"]
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeCascades finds cycles in the type-level cascade graph, where an
// edge a -> b means deleting an a can delete a b. Warnings are sorted by
// path.
func AnalyzeCascades(reg *schema.Registry) []CascadeWarning {
	graph := buildCascadeGraph(reg)

	var warnings []CascadeWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, sccToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CascadeWarning) int {
		return slices.Compare(a.Path, b.Path)
	})
	return warnings
}

// cascadeGraph maps a type to the types its deletion cascades into,
// sorted.
type cascadeGraph map[string][]string

func buildCascadeGraph(reg *schema.Registry) cascadeGraph {
	graph := make(cascadeGraph)
	for _, name := range reg.EntityNames() {
		graph[name] = []string{}
	}
	for _, l := range reg.Links() {
		// A cascade role is deleted along with its peer.
		if l.Forward.OnDelete == schema.Cascade {
			graph[l.Reverse.On] = append(graph[l.Reverse.On], l.Forward.On)
		}
		if l.Reverse.OnDelete == schema.Cascade {
			graph[l.Forward.On] = append(graph[l.Forward.On], l.Reverse.On)
		}
	}
	for k, v := range graph {
		slices.Sort(v)
		graph[k] = slices.Compact(v)
	}
	return graph
}

func hasSelfLoop(node string, graph cascadeGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components, visiting nodes in
// sorted order so the output is stable.
func tarjanSCC(graph cascadeGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

func sccToWarning(scc []string, graph cascadeGraph) CascadeWarning {
	if len(scc) == 1 {
		return CascadeWarning{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("%s cascades into itself", scc[0]),
			Level:   "warning",
		}
	}
	path := cyclePath(scc, graph)
	return CascadeWarning{
		Path:    path,
		Message: "cascade cycle: " + strings.Join(path, " -> "),
		Level:   "warning",
	}
}

// cyclePath walks from the smallest member of scc along edges inside the
// component until it returns to the start.
func cyclePath(scc []string, graph cascadeGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for current := start; ; {
		next := ""
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
