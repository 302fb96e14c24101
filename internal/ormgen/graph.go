package ormgen

import (
	"fmt"
	"strings"

	"github.com/rodriguezartav/xtuple/internal/build/registry"
)

// graph orders definitions so that each comes after the definitions it
// references. Nodes are indexes into defs; edges[i] lists the nodes i
// depends on.
type graph struct {
	defs  []*Definition
	edges [][]int
}

// newGraph links definitions to the base ORMs they reference. References
// satisfied by known are not edges; references satisfied by neither known
// nor defs are errors.
func newGraph(defs []*Definition, known registry.Registry) (*graph, error) {
	base := make(map[registry.Record]int)
	for i, d := range defs {
		if d.IsExtension {
			continue
		}
		if prev, dup := base[d.Record()]; dup {
			return nil, fmt.Errorf("orm %s defined twice (%s and %s)", d.Record(), defs[prev].File, d.File)
		}
		base[d.Record()] = i
	}

	g := &graph{defs: defs, edges: make([][]int, len(defs))}
	for i, d := range defs {
		for _, ref := range d.References() {
			if j, ok := base[ref]; ok {
				if j != i {
					g.edges[i] = append(g.edges[i], j)
				}
				continue
			}
			if known.Contains(ref) {
				continue
			}
			return nil, fmt.Errorf("unresolved orm dependency: %s (%s) requires %s", d.Record(), d.File, ref)
		}
	}
	return g, nil
}

// sort returns node indexes dependencies-first. Among nodes that are ready at
// the same time, the one read first wins, so the output is deterministic.
func (g *graph) sort() ([]int, error) {
	outDegree := make([]int, len(g.defs))
	reverse := make([][]int, len(g.defs))
	for i, deps := range g.edges {
		outDegree[i] = len(deps)
		for _, j := range deps {
			reverse[j] = append(reverse[j], i)
		}
	}

	done := make([]bool, len(g.defs))
	result := make([]int, 0, len(g.defs))
	for len(result) < len(g.defs) {
		next := -1
		for i := range g.defs {
			if !done[i] && outDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("circular orm dependency: %s", g.formatCycle(done))
		}

		done[next] = true
		result = append(result, next)
		for _, dependent := range reverse[next] {
			outDegree[dependent]--
		}
	}
	return result, nil
}

// formatCycle names one cycle among the nodes that could not be ordered.
func (g *graph) formatCycle(done []bool) string {
	onStack := make([]bool, len(g.defs))
	visited := make([]bool, len(g.defs))
	var cycle []int

	var dfs func(n int, path []int) bool
	dfs = func(n int, path []int) bool {
		visited[n] = true
		onStack[n] = true
		path = append(path, n)
		for _, m := range g.edges[n] {
			if done[m] {
				continue
			}
			if onStack[m] {
				for k, p := range path {
					if p == m {
						cycle = append([]int(nil), path[k:]...)
						cycle = append(cycle, m)
						return true
					}
				}
			}
			if !visited[m] && dfs(m, path) {
				return true
			}
		}
		onStack[n] = false
		return false
	}

	for i := range g.defs {
		if !done[i] && !visited[i] && dfs(i, nil) {
			break
		}
	}

	names := make([]string, len(cycle))
	for i, n := range cycle {
		names[i] = g.defs[n].Record().String()
	}
	return strings.Join(names, " -> ")
}
