package graph

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/pipegrid/pipegrid/internal/unit"
)

// Node is one vertex of the graph: an instance of a node type with its own
// attribute values. A node loaded against a missing or mismatching type
// schema becomes incompatible: it keeps its stored values verbatim,
// produces no computation units, and only supports removal and upgrade.
type Node struct {
	name string
	def  *TypeDef

	attrs map[string]*Attribute

	incompatible bool
	storedType   string
	stored       map[string]AttrState

	units []*unit.Unit
}

// AttrState is a plain snapshot of one attribute's value, detached from the
// live graph. Commands capture these to make edits reversible.
type AttrState struct {
	Kind     Kind
	Value    cty.Value
	Elements []cty.Value
}

// NodeSnapshot captures everything needed to recreate a node.
type NodeSnapshot struct {
	Name         string
	Type         string
	Incompatible bool
	Attrs        map[string]AttrState
}

// newNode instantiates a node of the given type with schema defaults.
func newNode(name string, def *TypeDef) *Node {
	n := &Node{name: name, def: def, attrs: make(map[string]*Attribute, len(def.Attrs))}
	for i := range def.Attrs {
		ad := &def.Attrs[i]
		n.attrs[ad.Name] = &Attribute{def: ad, value: ad.Default}
	}
	return n
}

// newIncompatibleNode preserves a node whose stored shape no longer matches
// any known schema.
func newIncompatibleNode(name, typeName string, stored map[string]AttrState) *Node {
	return &Node{
		name:         name,
		incompatible: true,
		storedType:   typeName,
		stored:       stored,
	}
}

// Name returns the node's unique name within its graph.
func (n *Node) Name() string { return n.name }

// TypeName returns the node's type name, known or not.
func (n *Node) TypeName() string {
	if n.incompatible {
		return n.storedType
	}
	return n.def.Name
}

// Incompatible reports whether the node failed schema validation at load.
func (n *Node) Incompatible() bool { return n.incompatible }

// Attribute looks up an attribute by name.
func (n *Node) Attribute(name string) (*Attribute, bool) {
	a, ok := n.attrs[name]
	return a, ok
}

// Attributes returns the node's attributes in schema declaration order.
func (n *Node) Attributes() []*Attribute {
	if n.incompatible {
		return nil
	}
	out := make([]*Attribute, 0, len(n.def.Attrs))
	for i := range n.def.Attrs {
		out = append(out, n.attrs[n.def.Attrs[i].Name])
	}
	return out
}

// AttrString reads a scalar string input, for use by run handlers.
func (n *Node) AttrString(name string) (string, error) {
	a, ok := n.attrs[name]
	if !ok {
		return "", fmt.Errorf("node %s has no attribute %q", n.name, name)
	}
	v := a.Value()
	if v.IsNull() || v.Type() != cty.String {
		return "", nil
	}
	return v.AsString(), nil
}

// AttrStrings reads a list attribute's elements as strings, skipping
// null (unset) elements.
func (n *Node) AttrStrings(name string) ([]string, error) {
	a, ok := n.attrs[name]
	if !ok {
		return nil, fmt.Errorf("node %s has no attribute %q", n.name, name)
	}
	var out []string
	for _, el := range a.elements {
		if el.IsNull() || el.Type() != cty.String {
			continue
		}
		out = append(out, el.AsString())
	}
	return out, nil
}

// Units returns the node's computation units, creating them on first use.
// The same unit instances are returned across topology recomputes so that
// watch-list comparisons and indicator records stay stable. Upgrading a
// node replaces it wholesale, so a fresh node means fresh units.
// Incompatible nodes have no units.
func (n *Node) Units(cacheDir string) []*unit.Unit {
	if n.incompatible {
		return nil
	}
	if n.units == nil {
		splits := n.def.splits()
		n.units = make([]*unit.Unit, 0, splits)
		for i := 0; i < splits; i++ {
			n.units = append(n.units, unit.New(n.name, n.def.Name, i, cacheDir))
		}
	}
	return n.units
}

// snapshot captures the node's current state.
func (n *Node) snapshot() *NodeSnapshot {
	snap := &NodeSnapshot{
		Name:         n.name,
		Type:         n.TypeName(),
		Incompatible: n.incompatible,
		Attrs:        make(map[string]AttrState),
	}
	if n.incompatible {
		for name, st := range n.stored {
			snap.Attrs[name] = st.clone()
		}
		return snap
	}
	for name, a := range n.attrs {
		snap.Attrs[name] = AttrState{Kind: a.def.Kind, Value: a.value, Elements: a.Elements()}
	}
	return snap
}

// storedNames returns the incompatible node's attribute names, sorted.
func (n *Node) storedNames() []string {
	names := make([]string, 0, len(n.stored))
	for name := range n.stored {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s AttrState) clone() AttrState {
	out := AttrState{Kind: s.Kind, Value: s.Value}
	if s.Elements != nil {
		out.Elements = make([]cty.Value, len(s.Elements))
		copy(out.Elements, s.Elements)
	}
	return out
}
