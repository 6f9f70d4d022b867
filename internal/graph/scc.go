package graph

import "slices"

// StronglyConnected returns the strongly connected components of the graph over
// static references, using Tarjan's algorithm. Every module appears in exactly one
// component. Members of a component are sorted by path and components are ordered
// so that a component comes after every component it statically references.
func (g *Graph) StronglyConnected() [][]string {
	var (
		index    int
		stack    []string
		onStack  = make(map[string]bool)
		indices  = make(map[string]int)
		lowlinks = make(map[string]int)
		result   [][]string
	)

	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		lowlinks[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.StaticReferences(v) {
			if _, seen := indices[w]; !seen {
				connect(w)
				lowlinks[v] = min(lowlinks[v], lowlinks[w])
			} else if onStack[w] {
				lowlinks[v] = min(lowlinks[v], indices[w])
			}
		}

		if lowlinks[v] != indices[v] {
			return
		}

		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		slices.Sort(component)
		result = append(result, component)
	}

	for _, p := range g.Paths() {
		if _, seen := indices[p]; !seen {
			connect(p)
		}
	}

	return result
}

// Cycles returns only the components that form a static cycle: components with
// more than one member, or a single module referencing itself.
func (g *Graph) Cycles() [][]string {
	var cycles [][]string
	for _, component := range g.StronglyConnected() {
		if len(component) > 1 || slices.Contains(g.StaticReferences(component[0]), component[0]) {
			cycles = append(cycles, component)
		}
	}
	return cycles
}
