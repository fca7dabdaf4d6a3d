package graph

import (
	"fmt"
	"sort"

	"github.com/pipegrid/pipegrid/internal/unit"
)

// dependencies builds the node-level dependency map induced by the edges:
// for each node, the sorted names of the nodes it depends on.
func (g *Graph) dependencies() map[string][]string {
	deps := make(map[string]map[string]bool, len(g.nodes))
	for _, key := range g.edgeOrder {
		e := g.edges[key]
		if deps[e.Dst.Node] == nil {
			deps[e.Dst.Node] = make(map[string]bool)
		}
		deps[e.Dst.Node][e.Src.Node] = true
	}

	out := make(map[string][]string, len(deps))
	for name, set := range deps {
		names := make([]string, 0, len(set))
		for dep := range set {
			names = append(names, dep)
		}
		sort.Strings(names)
		out[name] = names
	}
	return out
}

// DFSUnitsOnFinish returns the graph's computation units in a deterministic
// dependency order: a depth-first traversal over the sorted node set,
// emitting each node's units when the node finishes (after all of its
// dependencies). Collaborators rely on this ordering being stable for
// display and monitoring; incompatible nodes contribute no units.
func (g *Graph) DFSUnitsOnFinish() []*unit.Unit {
	deps := g.dependencies()
	names := make([]string, len(g.nodeOrder))
	copy(names, g.nodeOrder)
	sort.Strings(names)

	visited := make(map[string]bool, len(names))
	var units []*unit.Unit

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range deps[name] {
			visit(dep)
		}
		units = append(units, g.nodes[name].Units(g.cacheDir)...)
	}

	for _, name := range names {
		visit(name)
	}
	return units
}

// Ancestors returns the set of node names the named node transitively
// depends on, including the node itself.
func (g *Graph) Ancestors(name string) (map[string]bool, error) {
	if _, ok := g.nodes[name]; !ok {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	deps := g.dependencies()
	closure := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		if closure[name] {
			return
		}
		closure[name] = true
		for _, dep := range deps[name] {
			visit(dep)
		}
	}
	visit(name)
	return closure, nil
}
