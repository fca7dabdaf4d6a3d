package graph

import "fmt"

// descendantsOf returns the set of node names reachable downstream from
// name, including name itself.
func (g *Graph) descendantsOf(name string) map[string]bool {
	dependents := make(map[string][]string, len(g.nodes))
	for _, key := range g.edgeOrder {
		e := g.edges[key]
		dependents[e.Src.Node] = append(dependents[e.Src.Node], e.Dst.Node)
	}

	closure := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if closure[name] {
			return
		}
		closure[name] = true
		for _, dep := range dependents[name] {
			visit(dep)
		}
	}
	visit(name)
	return closure
}

// DuplicateNodes copies the named node, and optionally every node
// downstream of it, replicating attribute values, edges between the copied
// nodes, and incoming edges from nodes outside the selection. names fixes
// the copies' names (for deterministic re-application); when nil, fresh
// names are derived from each node's type. On any failure every copy made
// so far is removed, leaving the graph untouched. Returns the copies'
// names in selection order.
func (g *Graph) DuplicateNodes(root string, withFollowing bool, names []string) ([]string, error) {
	if _, ok := g.nodes[root]; !ok {
		return nil, fmt.Errorf("unknown node %q", root)
	}

	selected := map[string]bool{root: true}
	if withFollowing {
		selected = g.descendantsOf(root)
	}

	// Selection in insertion order keeps copy naming deterministic.
	var selection []string
	for _, name := range g.nodeOrder {
		if selected[name] {
			selection = append(selection, name)
		}
	}
	if names != nil && len(names) != len(selection) {
		return nil, fmt.Errorf("got %d names for %d nodes", len(names), len(selection))
	}

	rollback := func(created []string) {
		for i := len(created) - 1; i >= 0; i-- {
			_ = g.RemoveNode(created[i])
		}
	}

	mapping := make(map[string]string, len(selection))
	created := make([]string, 0, len(selection))
	for i, name := range selection {
		snap := g.nodes[name].snapshot()
		if names != nil {
			snap.Name = names[i]
		} else {
			snap.Name = g.nextName(snap.Type)
		}
		if _, err := g.RestoreNode(snap); err != nil {
			rollback(created)
			return nil, fmt.Errorf("duplicate %q: %w", name, err)
		}
		mapping[name] = snap.Name
		created = append(created, snap.Name)
	}

	// Snapshot the edge list first: adding the copies' edges grows it.
	for _, e := range g.Edges() {
		if !selected[e.Dst.Node] {
			continue
		}
		src, dst := e.Src, e.Dst
		if copyName, ok := mapping[src.Node]; ok {
			src.Node = copyName
		}
		dst.Node = mapping[dst.Node]
		if err := g.AddEdge(src, dst); err != nil {
			rollback(created)
			return nil, fmt.Errorf("duplicate edge %s -> %s: %w", src, dst, err)
		}
	}

	return created, nil
}
