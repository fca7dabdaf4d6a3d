// Package commands provides the reversible graph edits pushed onto the
// undo stack. Each command validates through the graph's own mutation
// primitives: a failed Apply leaves no partial state, so the stack can
// discard the command without cleanup.
//
// Commands capture whatever prior state their Undo needs (attribute
// values, node snapshots, removed edges) during Apply. Undo calls the same
// primitives in reverse; those calls operate on state the command itself
// produced, so their errors would indicate a corrupted stack and are
// deliberately not propagated.
package commands

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/pipegrid/pipegrid/internal/graph"
	"github.com/pipegrid/pipegrid/internal/history"
)

// AddNode creates a node of a given type. An empty name lets the graph
// derive one; the derived name sticks across undo/redo.
type AddNode struct {
	g        *graph.Graph
	typeName string
	name     string
}

// NewAddNode builds the command.
func NewAddNode(g *graph.Graph, typeName, name string) *AddNode {
	return &AddNode{g: g, typeName: typeName, name: name}
}

func (c *AddNode) Apply() error {
	n, err := c.g.AddNode(c.typeName, c.name)
	if err != nil {
		return err
	}
	c.name = n.Name()
	return nil
}

func (c *AddNode) Undo() { _ = c.g.RemoveNode(c.name) }

func (c *AddNode) Text() string { return fmt.Sprintf("Add Node %s", c.name) }

// Name returns the created node's name, available after Apply.
func (c *AddNode) Name() string { return c.name }

// RemoveNode deletes a node together with its incident edges, restoring
// both on undo.
type RemoveNode struct {
	g     *graph.Graph
	name  string
	snap  *graph.NodeSnapshot
	edges []graph.Edge
}

// NewRemoveNode builds the command.
func NewRemoveNode(g *graph.Graph, name string) *RemoveNode {
	return &RemoveNode{g: g, name: name}
}

func (c *RemoveNode) Apply() error {
	snap, err := c.g.SnapshotNode(c.name)
	if err != nil {
		return err
	}
	c.snap = snap
	c.edges = c.g.EdgesOf(c.name)
	return c.g.RemoveNode(c.name)
}

func (c *RemoveNode) Undo() {
	_, _ = c.g.RestoreNode(c.snap)
	for _, e := range c.edges {
		_ = c.g.AddEdge(e.Src, e.Dst)
	}
}

func (c *RemoveNode) Text() string { return fmt.Sprintf("Remove Node %s", c.name) }

// AddEdge connects an output attribute to an input destination.
type AddEdge struct {
	g        *graph.Graph
	src, dst graph.AttrRef
}

// NewAddEdge builds the command.
func NewAddEdge(g *graph.Graph, src, dst graph.AttrRef) *AddEdge {
	return &AddEdge{g: g, src: src, dst: dst}
}

func (c *AddEdge) Apply() error { return c.g.AddEdge(c.src, c.dst) }

func (c *AddEdge) Undo() { _, _ = c.g.RemoveEdge(c.dst) }

func (c *AddEdge) Text() string { return fmt.Sprintf("Add Edge %s -> %s", c.src, c.dst) }

// RemoveEdge disconnects the edge at a destination.
type RemoveEdge struct {
	g       *graph.Graph
	dst     graph.AttrRef
	removed graph.Edge
}

// NewRemoveEdge builds the command.
func NewRemoveEdge(g *graph.Graph, dst graph.AttrRef) *RemoveEdge {
	return &RemoveEdge{g: g, dst: dst}
}

func (c *RemoveEdge) Apply() error {
	e, err := c.g.RemoveEdge(c.dst)
	if err != nil {
		return err
	}
	c.removed = e
	return nil
}

func (c *RemoveEdge) Undo() { _ = c.g.AddEdge(c.removed.Src, c.removed.Dst) }

func (c *RemoveEdge) Text() string { return fmt.Sprintf("Remove Edge to %s", c.dst) }

// SetAttribute writes a scalar attribute, a list element, or a whole list.
type SetAttribute struct {
	g     *graph.Graph
	ref   graph.AttrRef
	value cty.Value
	prev  cty.Value
}

// NewSetAttribute builds the command.
func NewSetAttribute(g *graph.Graph, ref graph.AttrRef, value cty.Value) *SetAttribute {
	return &SetAttribute{g: g, ref: ref, value: value}
}

func (c *SetAttribute) Apply() error {
	prev, err := c.g.AttributeValue(c.ref)
	if err != nil {
		return err
	}
	if err := c.g.SetAttributeValue(c.ref, c.value); err != nil {
		return err
	}
	c.prev = prev
	return nil
}

func (c *SetAttribute) Undo() { _ = c.g.SetAttributeValue(c.ref, c.prev) }

func (c *SetAttribute) Text() string { return fmt.Sprintf("Set %s", c.ref) }

// AppendListElement appends one element to a list attribute.
type AppendListElement struct {
	g     *graph.Graph
	ref   graph.AttrRef
	value cty.Value
	index int
}

// NewAppendListElement builds the command. A nil value appends an unset
// element of the list's element type.
func NewAppendListElement(g *graph.Graph, ref graph.AttrRef, value cty.Value) *AppendListElement {
	return &AppendListElement{g: g, ref: ref, value: value, index: -1}
}

func (c *AppendListElement) Apply() error {
	// Re-application inserts at the recorded position rather than the
	// current tail, so redo reproduces the original layout.
	idx, err := c.g.InsertListElement(c.ref, c.index, c.value)
	if err != nil {
		return err
	}
	c.index = idx
	return nil
}

func (c *AppendListElement) Undo() { _, _ = c.g.RemoveListElement(c.ref.At(c.index)) }

func (c *AppendListElement) Text() string { return fmt.Sprintf("Append to %s", c.ref) }

// Index returns the element's position, available after Apply.
func (c *AppendListElement) Index() int { return c.index }

// RemoveListElement removes one list element, restoring its value and
// position on undo.
type RemoveListElement struct {
	g       *graph.Graph
	ref     graph.AttrRef
	removed cty.Value
}

// NewRemoveListElement builds the command. ref must address an element.
func NewRemoveListElement(g *graph.Graph, ref graph.AttrRef) *RemoveListElement {
	return &RemoveListElement{g: g, ref: ref}
}

func (c *RemoveListElement) Apply() error {
	v, err := c.g.RemoveListElement(c.ref)
	if err != nil {
		return err
	}
	c.removed = v
	return nil
}

func (c *RemoveListElement) Undo() {
	_, _ = c.g.InsertListElement(graph.Ref(c.ref.Node, c.ref.Attr), c.ref.Index, c.removed)
}

func (c *RemoveListElement) Text() string { return fmt.Sprintf("Remove %s", c.ref) }

// DuplicateNode copies a node and optionally all nodes downstream of it.
type DuplicateNode struct {
	g             *graph.Graph
	name          string
	withFollowing bool
	created       []string
}

// NewDuplicateNode builds the command.
func NewDuplicateNode(g *graph.Graph, name string, withFollowing bool) *DuplicateNode {
	return &DuplicateNode{g: g, name: name, withFollowing: withFollowing}
}

func (c *DuplicateNode) Apply() error {
	created, err := c.g.DuplicateNodes(c.name, c.withFollowing, c.created)
	if err != nil {
		return err
	}
	c.created = created
	return nil
}

func (c *DuplicateNode) Undo() {
	for i := len(c.created) - 1; i >= 0; i-- {
		_ = c.g.RemoveNode(c.created[i])
	}
}

func (c *DuplicateNode) Text() string { return fmt.Sprintf("Duplicate %s", c.name) }

// Created returns the copies' names, available after Apply.
func (c *DuplicateNode) Created() []string { return c.created }

// UpgradeNode re-instantiates an incompatible node against the current
// schema of its type.
type UpgradeNode struct {
	g    *graph.Graph
	name string
	snap *graph.NodeSnapshot
}

// NewUpgradeNode builds the command.
func NewUpgradeNode(g *graph.Graph, name string) *UpgradeNode {
	return &UpgradeNode{g: g, name: name}
}

func (c *UpgradeNode) Apply() error {
	snap, err := c.g.SnapshotNode(c.name)
	if err != nil {
		return err
	}
	if err := c.g.UpgradeNode(c.name); err != nil {
		return err
	}
	c.snap = snap
	return nil
}

func (c *UpgradeNode) Undo() {
	_ = c.g.RemoveNode(c.name)
	_, _ = c.g.RestoreNode(c.snap)
}

func (c *UpgradeNode) Text() string { return fmt.Sprintf("Upgrade Node %s", c.name) }

// Interface conformance checks.
var (
	_ history.Command = (*AddNode)(nil)
	_ history.Command = (*RemoveNode)(nil)
	_ history.Command = (*AddEdge)(nil)
	_ history.Command = (*RemoveEdge)(nil)
	_ history.Command = (*SetAttribute)(nil)
	_ history.Command = (*AppendListElement)(nil)
	_ history.Command = (*RemoveListElement)(nil)
	_ history.Command = (*DuplicateNode)(nil)
	_ history.Command = (*UpgradeNode)(nil)
)
