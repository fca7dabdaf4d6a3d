package orchestrator

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/pipegrid/pipegrid/internal/commands"
	"github.com/pipegrid/pipegrid/internal/graph"
)

// AddNode creates a node of the named type. An empty name derives one.
// Returns the node's final name.
func (o *Orchestrator) AddNode(typeName, name string) (string, error) {
	cmd := commands.NewAddNode(o.g, typeName, name)
	if err := o.Push(cmd); err != nil {
		return "", err
	}
	return cmd.Name(), nil
}

// RemoveNode deletes a node with its incident edges.
func (o *Orchestrator) RemoveNode(name string) error {
	return o.Push(commands.NewRemoveNode(o.g, name))
}

// AddEdge connects src to dst. When dst references a list attribute as a
// whole, a fresh element is appended and connected, grouped into one
// history entry so undo removes both. A failure in the second step rolls
// the appended element back and reports the validation error.
func (o *Orchestrator) AddEdge(src, dst graph.AttrRef) error {
	listDst, err := o.edgeNeedsElement(dst)
	if err != nil {
		return err
	}
	if !listDst {
		return o.Push(commands.NewAddEdge(o.g, src, dst))
	}

	o.BeginMacro(fmt.Sprintf("Connect %s -> %s", src, dst))
	appendCmd := commands.NewAppendListElement(o.g, dst, cty.NilVal)
	if err := o.Push(appendCmd); err != nil {
		o.abortMacro()
		return err
	}
	if err := o.Push(commands.NewAddEdge(o.g, src, dst.At(appendCmd.Index()))); err != nil {
		o.abortMacro()
		return err
	}
	o.EndMacro()
	return nil
}

// RemoveEdge disconnects the edge at dst. When dst is a list element the
// now-orphaned element is removed too, in the same history entry, so undo
// restores the element and re-connects it at its original position.
func (o *Orchestrator) RemoveEdge(dst graph.AttrRef) error {
	if !dst.IsElement() {
		return o.Push(commands.NewRemoveEdge(o.g, dst))
	}

	o.BeginMacro(fmt.Sprintf("Disconnect %s", dst))
	if err := o.Push(commands.NewRemoveEdge(o.g, dst)); err != nil {
		o.abortMacro()
		return err
	}
	if err := o.Push(commands.NewRemoveListElement(o.g, dst)); err != nil {
		o.abortMacro()
		return err
	}
	o.EndMacro()
	return nil
}

// SetAttribute writes an attribute, element, or whole list.
func (o *Orchestrator) SetAttribute(ref graph.AttrRef, value cty.Value) error {
	return o.Push(commands.NewSetAttribute(o.g, ref, value))
}

// ResetAttribute restores a scalar attribute to its schema default, or
// empties a list attribute. Connected list elements are disconnected first,
// grouped with the reset into one history entry.
func (o *Orchestrator) ResetAttribute(ref graph.AttrRef) error {
	a, err := o.lookupAttr(ref)
	if err != nil {
		return err
	}
	base := graph.Ref(ref.Node, ref.Attr)
	if a.Kind() != graph.KindList {
		return o.Push(commands.NewSetAttribute(o.g, base, a.Default()))
	}

	edges := o.g.ElementEdges(base)
	if len(edges) == 0 {
		return o.Push(commands.NewSetAttribute(o.g, base, cty.NilVal))
	}

	// Disconnect from the highest element down so each removal leaves the
	// remaining destinations' indices intact.
	dsts := make([]graph.AttrRef, len(edges))
	for i, e := range edges {
		dsts[i] = e.Dst
	}
	sort.Slice(dsts, func(i, j int) bool { return dsts[i].Index > dsts[j].Index })

	o.BeginMacro(fmt.Sprintf("Reset %s", base))
	for _, dst := range dsts {
		if err := o.RemoveEdge(dst); err != nil {
			o.abortMacro()
			return err
		}
	}
	if err := o.Push(commands.NewSetAttribute(o.g, base, cty.NilVal)); err != nil {
		o.abortMacro()
		return err
	}
	o.EndMacro()
	return nil
}

// AppendListElement appends a value (or an unset element, given NilVal) to
// a list attribute. Returns the index the element landed at.
func (o *Orchestrator) AppendListElement(ref graph.AttrRef, value cty.Value) (int, error) {
	cmd := commands.NewAppendListElement(o.g, ref, value)
	if err := o.Push(cmd); err != nil {
		return 0, err
	}
	return cmd.Index(), nil
}

// RemoveListElement removes one list element. A connected element is
// disconnected first through RemoveEdge's composite path.
func (o *Orchestrator) RemoveListElement(ref graph.AttrRef) error {
	if _, connected := o.g.EdgeTo(ref); connected {
		return o.RemoveEdge(ref)
	}
	return o.Push(commands.NewRemoveListElement(o.g, ref))
}

// DuplicateNode copies a node, optionally with everything downstream of
// it. Returns the copies' names.
func (o *Orchestrator) DuplicateNode(name string, withFollowing bool) ([]string, error) {
	cmd := commands.NewDuplicateNode(o.g, name, withFollowing)
	if err := o.Push(cmd); err != nil {
		return nil, err
	}
	return cmd.Created(), nil
}

// UpgradeNode re-instantiates an incompatible node against the current
// schema of its type.
func (o *Orchestrator) UpgradeNode(name string) error {
	return o.Push(commands.NewUpgradeNode(o.g, name))
}

// edgeNeedsElement reports whether dst addresses a list attribute as a
// whole, which means connecting requires appending an element first.
func (o *Orchestrator) edgeNeedsElement(dst graph.AttrRef) (bool, error) {
	if dst.IsElement() {
		return false, nil
	}
	a, err := o.lookupAttr(dst)
	if err != nil {
		return false, err
	}
	return a.Kind() == graph.KindList, nil
}

func (o *Orchestrator) lookupAttr(ref graph.AttrRef) (*graph.Attribute, error) {
	n, ok := o.g.Node(ref.Node)
	if !ok {
		return nil, fmt.Errorf("unknown node %q", ref.Node)
	}
	a, ok := n.Attribute(ref.Attr)
	if !ok {
		return nil, fmt.Errorf("node %q has no attribute %q", ref.Node, ref.Attr)
	}
	return a, nil
}
