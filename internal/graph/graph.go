// Package graph implements the dependency graph the orchestrator edits and
// executes: typed nodes carrying cty-valued attributes, directed edges from
// output attributes to input attributes (or list-attribute elements), and a
// deterministic traversal that derives the graph's computation units.
//
// Every mutation primitive validates fully before touching state and
// reports failure without partial mutation, so the command layer above can
// treat each primitive as atomic. After any successful mutation the graph
// fires its Updated publisher.
//
// The graph is owned by the orchestrator's home goroutine. Run handlers on
// the execution worker only read attribute values; they never mutate
// topology.
package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/pipegrid/pipegrid/internal/pubsub"
)

// Edge is a directed connection from a source output attribute to a
// destination input attribute or list element. The destination uniquely
// identifies an edge: an input accepts at most one connection.
type Edge struct {
	Src AttrRef
	Dst AttrRef
}

// Graph holds the editable topology.
type Graph struct {
	path      string
	cacheSpec string
	cacheDir  string

	types     *TypeRegistry
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]Edge
	edgeOrder []string
	counters  map[string]int

	// Updated fires after every successful structural mutation, including
	// attribute edits. The orchestrator subscribes to recompute units.
	Updated *pubsub.Publisher[struct{}]
}

// New creates an empty graph against the given type registry.
func New(types *TypeRegistry) *Graph {
	return &Graph{
		types:    types,
		nodes:    make(map[string]*Node),
		edges:    make(map[string]Edge),
		counters: make(map[string]int),
		Updated:  pubsub.New[struct{}](),
	}
}

// Path returns the graph's file path, empty until saved or loaded.
func (g *Graph) Path() string { return g.path }

// CacheDir returns the directory holding unit status records.
func (g *Graph) CacheDir() string { return g.cacheDir }

// SetCacheDir overrides the cache directory. Only meaningful before units
// have been derived.
func (g *Graph) SetCacheDir(dir string) { g.cacheDir = dir }

// Types returns the node type registry the graph validates against.
func (g *Graph) Types() *TypeRegistry { return g.types }

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, name := range g.nodeOrder {
		out = append(out, g.nodes[name])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edgeOrder))
	for _, key := range g.edgeOrder {
		out = append(out, g.edges[key])
	}
	return out
}

// EdgeTo returns the edge connected to the given destination, if any.
func (g *Graph) EdgeTo(dst AttrRef) (Edge, bool) {
	e, ok := g.edges[dst.String()]
	return e, ok
}

// ElementEdges returns the edges connected to elements of the given list
// attribute, in insertion order.
func (g *Graph) ElementEdges(ref AttrRef) []Edge {
	var out []Edge
	for _, key := range g.edgeOrder {
		e := g.edges[key]
		if e.Dst.Node == ref.Node && e.Dst.Attr == ref.Attr && e.Dst.IsElement() {
			out = append(out, e)
		}
	}
	return out
}

// EdgesOf returns every edge touching the named node, in insertion order.
func (g *Graph) EdgesOf(name string) []Edge {
	var out []Edge
	for _, key := range g.edgeOrder {
		e := g.edges[key]
		if e.Src.Node == name || e.Dst.Node == name {
			out = append(out, e)
		}
	}
	return out
}

// AddNode instantiates a node of the named type. An empty name derives a
// fresh one from the type. The new node carries schema defaults.
func (g *Graph) AddNode(typeName, name string) (*Node, error) {
	def, ok := g.types.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", typeName)
	}
	if name == "" {
		name = g.nextName(typeName)
	} else if _, exists := g.nodes[name]; exists {
		return nil, fmt.Errorf("node %q already exists", name)
	}

	n := newNode(name, def)
	g.insertNode(n)
	g.Updated.Publish(struct{}{})
	return n, nil
}

// RemoveNode deletes the named node along with every edge touching it.
func (g *Graph) RemoveNode(name string) error {
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("unknown node %q", name)
	}
	for _, e := range g.EdgesOf(name) {
		g.deleteEdge(e.Dst)
	}
	delete(g.nodes, name)
	for i, n := range g.nodeOrder {
		if n == name {
			g.nodeOrder = append(g.nodeOrder[:i], g.nodeOrder[i+1:]...)
			break
		}
	}
	g.Updated.Publish(struct{}{})
	return nil
}

// AddEdge connects a source output attribute to a destination input. List
// destinations must address an existing element; callers that want
// insert-and-connect semantics compose the two operations above this layer.
func (g *Graph) AddEdge(src, dst AttrRef) error {
	srcAttr, err := g.resolveEdgeEnd(src, RoleOutput)
	if err != nil {
		return err
	}
	dstAttr, err := g.resolveEdgeEnd(dst, RoleInput)
	if err != nil {
		return err
	}
	if src.Node == dst.Node {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", src, dst)
	}
	if src.IsElement() {
		return fmt.Errorf("cannot connect from list element %s", src)
	}

	wantType := dstAttr.Type()
	switch dstAttr.Kind() {
	case KindScalar:
		if dst.IsElement() {
			return fmt.Errorf("%s is scalar, element index not allowed", Ref(dst.Node, dst.Attr))
		}
	case KindList:
		if !dst.IsElement() {
			return fmt.Errorf("%s is a list, connect to one of its elements", dst)
		}
		if dst.Index >= dstAttr.Len() {
			return fmt.Errorf("%s has no element %d", Ref(dst.Node, dst.Attr), dst.Index)
		}
	}

	if _, connected := g.edges[dst.String()]; connected {
		return fmt.Errorf("%s is already connected", dst)
	}
	if srcAttr.Type() != wantType && convert.GetConversion(srcAttr.Type(), wantType) == nil {
		return fmt.Errorf("incompatible connection %s -> %s: %s is not convertible to %s",
			src, dst, srcAttr.Type().FriendlyName(), wantType.FriendlyName())
	}

	key := dst.String()
	g.edges[key] = Edge{Src: src, Dst: dst}
	g.edgeOrder = append(g.edgeOrder, key)

	if err := g.checkAcyclic(); err != nil {
		g.deleteEdge(dst)
		return err
	}

	g.Updated.Publish(struct{}{})
	return nil
}

// RemoveEdge disconnects the edge at the given destination and returns it.
func (g *Graph) RemoveEdge(dst AttrRef) (Edge, error) {
	e, ok := g.edges[dst.String()]
	if !ok {
		return Edge{}, fmt.Errorf("no edge connected to %s", dst)
	}
	g.deleteEdge(dst)
	g.Updated.Publish(struct{}{})
	return e, nil
}

// AttributeValue reads the value at the given reference.
func (g *Graph) AttributeValue(ref AttrRef) (cty.Value, error) {
	a, err := g.resolveAttr(ref)
	if err != nil {
		return cty.NilVal, err
	}
	if ref.IsElement() {
		if a.Kind() != KindList {
			return cty.NilVal, fmt.Errorf("%s is scalar, element index not allowed", Ref(ref.Node, ref.Attr))
		}
		if ref.Index >= a.Len() {
			return cty.NilVal, fmt.Errorf("%s has no element %d", Ref(ref.Node, ref.Attr), ref.Index)
		}
		return a.elements[ref.Index], nil
	}
	return a.Value(), nil
}

// SetAttributeValue writes a scalar attribute, one list element, or (given
// a tuple or list value on a whole-list reference) replaces the elements.
func (g *Graph) SetAttributeValue(ref AttrRef, v cty.Value) error {
	a, err := g.resolveAttr(ref)
	if err != nil {
		return err
	}

	switch {
	case ref.IsElement():
		if a.Kind() != KindList {
			return fmt.Errorf("%s is scalar, element index not allowed", Ref(ref.Node, ref.Attr))
		}
		if ref.Index >= a.Len() {
			return fmt.Errorf("%s has no element %d", Ref(ref.Node, ref.Attr), ref.Index)
		}
		converted, err := convertValue(v, a.Type())
		if err != nil {
			return fmt.Errorf("set %s: %w", ref, err)
		}
		a.elements[ref.Index] = converted

	case a.Kind() == KindList:
		// Replacing the elements wholesale would strand edges keyed at the
		// old indices; connected lists must be disconnected first (the
		// orchestrator groups that into one macro).
		if len(g.ElementEdges(Ref(ref.Node, ref.Attr))) > 0 {
			return fmt.Errorf("%s has connected elements, remove their edges first", Ref(ref.Node, ref.Attr))
		}
		elements, err := convertElements(v, a.Type())
		if err != nil {
			return fmt.Errorf("set %s: %w", ref, err)
		}
		a.elements = elements

	default:
		converted, err := convertValue(v, a.Type())
		if err != nil {
			return fmt.Errorf("set %s: %w", ref, err)
		}
		a.value = converted
	}

	g.Updated.Publish(struct{}{})
	return nil
}

// InsertListElement inserts a value into a list attribute at the given
// index, or appends when index is -1. Edges targeting shifted elements are
// re-indexed. Returns the index the element landed at.
func (g *Graph) InsertListElement(ref AttrRef, index int, v cty.Value) (int, error) {
	if ref.IsElement() {
		return 0, fmt.Errorf("insert target %s must reference the list itself", ref)
	}
	a, err := g.resolveAttr(ref)
	if err != nil {
		return 0, err
	}
	if a.Kind() != KindList {
		return 0, fmt.Errorf("%s is not a list attribute", ref)
	}
	if index < 0 {
		index = len(a.elements)
	}
	if index > len(a.elements) {
		return 0, fmt.Errorf("%s has %d elements, cannot insert at %d", ref, len(a.elements), index)
	}

	element := cty.NullVal(a.Type())
	if v != cty.NilVal {
		element, err = convertValue(v, a.Type())
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", ref, err)
		}
	}

	a.elements = append(a.elements, cty.NilVal)
	copy(a.elements[index+1:], a.elements[index:])
	a.elements[index] = element
	g.shiftElementEdges(ref, index, +1)

	g.Updated.Publish(struct{}{})
	return index, nil
}

// RemoveListElement removes the referenced element and returns its value.
// A connected element cannot be removed; disconnect it first (the
// orchestrator groups the two edits into one macro).
func (g *Graph) RemoveListElement(ref AttrRef) (cty.Value, error) {
	if !ref.IsElement() {
		return cty.NilVal, fmt.Errorf("remove target %s must reference a list element", ref)
	}
	a, err := g.resolveAttr(ref)
	if err != nil {
		return cty.NilVal, err
	}
	if a.Kind() != KindList {
		return cty.NilVal, fmt.Errorf("%s is not a list attribute", Ref(ref.Node, ref.Attr))
	}
	if ref.Index >= a.Len() {
		return cty.NilVal, fmt.Errorf("%s has no element %d", Ref(ref.Node, ref.Attr), ref.Index)
	}
	if _, connected := g.edges[ref.String()]; connected {
		return cty.NilVal, fmt.Errorf("%s is connected, remove the edge first", ref)
	}

	removed := a.elements[ref.Index]
	a.elements = append(a.elements[:ref.Index], a.elements[ref.Index+1:]...)
	g.shiftElementEdges(Ref(ref.Node, ref.Attr), ref.Index, -1)

	g.Updated.Publish(struct{}{})
	return removed, nil
}

// SnapshotNode captures the named node for later restoration.
func (g *Graph) SnapshotNode(name string) (*NodeSnapshot, error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", name)
	}
	return n.snapshot(), nil
}

// RestoreNode recreates a node from a snapshot, including its attribute
// values and, for incompatible nodes, their stored raw shape.
func (g *Graph) RestoreNode(snap *NodeSnapshot) (*Node, error) {
	if _, exists := g.nodes[snap.Name]; exists {
		return nil, fmt.Errorf("node %q already exists", snap.Name)
	}

	var n *Node
	if snap.Incompatible {
		stored := make(map[string]AttrState, len(snap.Attrs))
		for name, st := range snap.Attrs {
			stored[name] = st.clone()
		}
		n = newIncompatibleNode(snap.Name, snap.Type, stored)
	} else {
		def, ok := g.types.Lookup(snap.Type)
		if !ok {
			return nil, fmt.Errorf("unknown node type %q", snap.Type)
		}
		n = newNode(snap.Name, def)
		for name, st := range snap.Attrs {
			a, ok := n.attrs[name]
			if !ok {
				return nil, fmt.Errorf("snapshot of %q holds unknown attribute %q", snap.Name, name)
			}
			if st.Kind == KindList {
				a.elements = append([]cty.Value(nil), st.Elements...)
			} else {
				a.value = st.Value
			}
		}
	}

	g.insertNode(n)
	g.Updated.Publish(struct{}{})
	return n, nil
}

// UpgradeNode re-instantiates an incompatible node against the current
// schema of its type, preserving stored values that still fit (matching
// name, kind, and a convertible type) and dropping the rest. Incompatible
// nodes cannot hold edges (edits on them are rejected and loading drops
// their edges), so no edge fixup is needed.
func (g *Graph) UpgradeNode(name string) error {
	old, ok := g.nodes[name]
	if !ok {
		return fmt.Errorf("unknown node %q", name)
	}
	if !old.incompatible {
		return fmt.Errorf("node %q is not incompatible", name)
	}
	def, ok := g.types.Lookup(old.storedType)
	if !ok {
		return fmt.Errorf("type %q is still unknown, cannot upgrade %q", old.storedType, name)
	}

	fresh := newNode(name, def)
	for _, attrName := range old.storedNames() {
		st := old.stored[attrName]
		a, ok := fresh.attrs[attrName]
		if !ok || a.def.Kind != st.Kind {
			continue
		}
		if st.Kind == KindList {
			elements := make([]cty.Value, 0, len(st.Elements))
			compatible := true
			for _, el := range st.Elements {
				converted, err := convertValue(el, a.Type())
				if err != nil {
					compatible = false
					break
				}
				elements = append(elements, converted)
			}
			if compatible {
				a.elements = elements
			}
		} else if converted, err := convertValue(st.Value, a.Type()); err == nil {
			a.value = converted
		}
	}
	g.nodes[name] = fresh

	g.Updated.Publish(struct{}{})
	return nil
}

// nextName derives an unused node name from a type name.
func (g *Graph) nextName(typeName string) string {
	base := strings.ToLower(typeName)
	for {
		g.counters[typeName]++
		name := base + strconv.Itoa(g.counters[typeName])
		if _, exists := g.nodes[name]; !exists {
			return name
		}
	}
}

func (g *Graph) insertNode(n *Node) {
	g.nodes[n.name] = n
	g.nodeOrder = append(g.nodeOrder, n.name)
}

func (g *Graph) deleteEdge(dst AttrRef) {
	key := dst.String()
	delete(g.edges, key)
	for i, k := range g.edgeOrder {
		if k == key {
			g.edgeOrder = append(g.edgeOrder[:i], g.edgeOrder[i+1:]...)
			return
		}
	}
}

// shiftElementEdges re-keys edges into list elements of ref at or after
// index by delta, keeping destinations aligned after insert/remove.
func (g *Graph) shiftElementEdges(ref AttrRef, index, delta int) {
	type move struct {
		from AttrRef
		edge Edge
	}
	var moves []move
	for _, key := range g.edgeOrder {
		e := g.edges[key]
		if e.Dst.Node == ref.Node && e.Dst.Attr == ref.Attr && e.Dst.Index >= index {
			moves = append(moves, move{from: e.Dst, edge: e})
		}
	}
	// Delete every moving key before inserting any shifted key, so a new
	// key never collides with a neighbor that has not moved yet.
	for _, m := range moves {
		delete(g.edges, m.from.String())
	}
	for _, m := range moves {
		oldKey := m.from.String()
		m.edge.Dst.Index += delta
		newKey := m.edge.Dst.String()
		g.edges[newKey] = m.edge
		for i, k := range g.edgeOrder {
			if k == oldKey {
				g.edgeOrder[i] = newKey
				break
			}
		}
	}
}

func (g *Graph) resolveAttr(ref AttrRef) (*Attribute, error) {
	n, ok := g.nodes[ref.Node]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", ref.Node)
	}
	if n.incompatible {
		return nil, fmt.Errorf("node %q is incompatible, upgrade it before editing", ref.Node)
	}
	a, ok := n.attrs[ref.Attr]
	if !ok {
		return nil, fmt.Errorf("node %q has no attribute %q", ref.Node, ref.Attr)
	}
	return a, nil
}

func (g *Graph) resolveEdgeEnd(ref AttrRef, want Role) (*Attribute, error) {
	a, err := g.resolveAttr(ref)
	if err != nil {
		return nil, err
	}
	if a.Role() != want {
		roles := map[Role]string{RoleInput: "an input", RoleOutput: "an output"}
		return nil, fmt.Errorf("%s is not %s attribute", Ref(ref.Node, ref.Attr), roles[want])
	}
	return a, nil
}

// checkAcyclic runs a depth-first search with temporary and permanent sets
// over the node-level dependency structure induced by the edges.
func (g *Graph) checkAcyclic() error {
	dependents := make(map[string][]string, len(g.nodes))
	for _, key := range g.edgeOrder {
		e := g.edges[key]
		dependents[e.Src.Node] = append(dependents[e.Src.Node], e.Dst.Node)
	}

	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			return fmt.Errorf("cycle detected involving node %q", name)
		}
		temporary[name] = true
		for _, dep := range dependents[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, name := range g.nodeOrder {
		if !permanent[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func convertValue(v cty.Value, t cty.Type) (cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return cty.NullVal(t), nil
	}
	converted, err := convert.Convert(v, t)
	if err != nil {
		return cty.NilVal, fmt.Errorf("value of type %s is not convertible to %s",
			v.Type().FriendlyName(), t.FriendlyName())
	}
	return converted, nil
}

func convertElements(v cty.Value, elemType cty.Type) ([]cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return nil, nil
	}
	if !v.Type().IsTupleType() && !v.Type().IsListType() {
		return nil, fmt.Errorf("value of type %s is not a collection", v.Type().FriendlyName())
	}
	var out []cty.Value
	for it := v.ElementIterator(); it.Next(); {
		_, el := it.Element()
		converted, err := convertValue(el, elemType)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}
