package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/plenum/internal/ir"
)

// CycleWarning reports a loop in the cascade-delete graph.
//
// Loops are warnings, not errors: a self-referential tree (mediafile
// children) legitimately cascades into its own collection, and the dispatcher
// stops at instances already deleted in the request.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"` // "warning" or "info"
}

// AnalyzeCascades builds the collection graph induced by on_delete=cascade
// and reports every strongly connected component that forms a loop.
// A self-loop is reported at "info" level.
func AnalyzeCascades(specs []ir.CollectionSpec) []CycleWarning {
	graph := buildCascadeGraph(specs)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		switch {
		case len(scc) > 1:
			path := reconstructCyclePath(scc, graph)
			warnings = append(warnings, CycleWarning{
				Path:    path,
				Message: fmt.Sprintf("cascade delete loop: %s", strings.Join(path, " -> ")),
				Level:   "warning",
			})
		case hasSelfLoop(scc[0], graph):
			warnings = append(warnings, CycleWarning{
				Path:    []string{scc[0], scc[0]},
				Message: fmt.Sprintf("collection %s cascades into itself", scc[0]),
				Level:   "info",
			})
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int { return strings.Compare(a.Path[0], b.Path[0]) })
	return warnings
}

// cascadeGraph maps collection -> collections its deletes cascade into.
type cascadeGraph map[string][]string

func buildCascadeGraph(specs []ir.CollectionSpec) cascadeGraph {
	graph := make(cascadeGraph, len(specs))
	for _, c := range specs {
		if graph[c.Name] == nil {
			graph[c.Name] = []string{}
		}
		for _, f := range c.Fields {
			if f.Relation == nil || f.Relation.OnDelete != ir.OnDeleteCascade {
				continue
			}
			for _, t := range f.Relation.Targets {
				if !slices.Contains(graph[c.Name], t.Collection) {
					graph[c.Name] = append(graph[c.Name], t.Collection)
				}
			}
		}
	}
	return graph
}

func hasSelfLoop(node string, graph cascadeGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the output is deterministic.
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

// reconstructCyclePath walks SCC members from the first node until it
// returns to it.
func reconstructCyclePath(scc []string, graph cascadeGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, nb := range graph[current] {
			if nb == start && len(path) > 1 {
				next = nb
				break
			}
			if members[nb] && !visited[nb] {
				next = nb
				break
			}
		}
		if next == "" {
			return append(path, start)
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
