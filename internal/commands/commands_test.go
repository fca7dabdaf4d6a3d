package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/pipegrid/pipegrid/internal/graph"
	"github.com/pipegrid/pipegrid/internal/history"
)

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	r := graph.NewTypeRegistry()
	r.Register(&graph.TypeDef{
		Name: "Producer",
		Attrs: []graph.AttrDef{
			{Name: "label", Kind: graph.KindScalar, Role: graph.RoleInput, Type: cty.String, Default: cty.StringVal("")},
			{Name: "out", Kind: graph.KindScalar, Role: graph.RoleOutput, Type: cty.Bool, Default: cty.True},
		},
	})
	r.Register(&graph.TypeDef{
		Name: "Consumer",
		Attrs: []graph.AttrDef{
			{Name: "in", Kind: graph.KindScalar, Role: graph.RoleInput, Type: cty.Bool, Default: cty.False},
			{Name: "items", Kind: graph.KindList, Role: graph.RoleInput, Type: cty.Bool},
			{Name: "out", Kind: graph.KindScalar, Role: graph.RoleOutput, Type: cty.Bool, Default: cty.True},
		},
	})
	return graph.New(r)
}

func TestAddNode_DerivedNameSticksAcrossRedo(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()

	cmd := NewAddNode(g, "Producer", "")
	require.NoError(t, s.Push(cmd))
	name := cmd.Name()
	require.NotEmpty(t, name)

	require.True(t, s.Undo())
	_, ok := g.Node(name)
	require.False(t, ok)

	require.NoError(t, s.Redo())
	_, ok = g.Node(name)
	assert.True(t, ok, "redo should recreate the node under its original name")
}

func TestRemoveNode_UndoRestoresValuesAndEdges(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()
	_, err := g.AddNode("Producer", "p")
	require.NoError(t, err)
	_, err = g.AddNode("Consumer", "c")
	require.NoError(t, err)
	require.NoError(t, g.SetAttributeValue(graph.Ref("c", "in"), cty.True))
	require.NoError(t, g.AddEdge(graph.Ref("p", "out"), graph.Ref("c", "in")))

	require.NoError(t, s.Push(NewRemoveNode(g, "c")))
	_, ok := g.Node("c")
	require.False(t, ok)

	require.True(t, s.Undo())

	v, err := g.AttributeValue(graph.Ref("c", "in"))
	require.NoError(t, err)
	assert.Equal(t, cty.True, v)
	_, ok = g.EdgeTo(graph.Ref("c", "in"))
	assert.True(t, ok, "incident edge should be restored")
}

func TestSetAttribute_UndoRestoresPrevious(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()
	_, err := g.AddNode("Producer", "p")
	require.NoError(t, err)

	require.NoError(t, s.Push(NewSetAttribute(g, graph.Ref("p", "label"), cty.StringVal("first"))))
	require.NoError(t, s.Push(NewSetAttribute(g, graph.Ref("p", "label"), cty.StringVal("second"))))

	require.True(t, s.Undo())
	v, err := g.AttributeValue(graph.Ref("p", "label"))
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("first"), v)
}

func TestSetAttribute_InvalidValueNotRecorded(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()
	_, err := g.AddNode("Consumer", "c")
	require.NoError(t, err)

	err = s.Push(NewSetAttribute(g, graph.Ref("c", "in"), cty.StringVal("nope")))

	require.Error(t, err)
	assert.False(t, s.CanUndo())
}

func TestAppendListElement_RedoKeepsIndex(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()
	_, err := g.AddNode("Consumer", "c")
	require.NoError(t, err)

	cmd := NewAppendListElement(g, graph.Ref("c", "items"), cty.True)
	require.NoError(t, s.Push(cmd))
	assert.Equal(t, 0, cmd.Index())

	require.True(t, s.Undo())
	require.NoError(t, s.Redo())

	v, err := g.AttributeValue(graph.Ref("c", "items").At(0))
	require.NoError(t, err)
	assert.Equal(t, cty.True, v)
}

func TestRemoveListElement_UndoRestoresValueAtPosition(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()
	_, err := g.AddNode("Consumer", "c")
	require.NoError(t, err)
	for _, v := range []cty.Value{cty.True, cty.False, cty.True} {
		_, err := g.InsertListElement(graph.Ref("c", "items"), -1, v)
		require.NoError(t, err)
	}

	require.NoError(t, s.Push(NewRemoveListElement(g, graph.Ref("c", "items").At(1))))
	require.True(t, s.Undo())

	v, err := g.AttributeValue(graph.Ref("c", "items").At(1))
	require.NoError(t, err)
	assert.Equal(t, cty.False, v)
}

func TestAddEdgeRemoveEdge_Reversible(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()
	_, err := g.AddNode("Producer", "p")
	require.NoError(t, err)
	_, err = g.AddNode("Consumer", "c")
	require.NoError(t, err)

	require.NoError(t, s.Push(NewAddEdge(g, graph.Ref("p", "out"), graph.Ref("c", "in"))))
	require.NoError(t, s.Push(NewRemoveEdge(g, graph.Ref("c", "in"))))
	_, ok := g.EdgeTo(graph.Ref("c", "in"))
	require.False(t, ok)

	require.True(t, s.Undo()) // re-adds the edge
	e, ok := g.EdgeTo(graph.Ref("c", "in"))
	require.True(t, ok)
	assert.Equal(t, graph.Ref("p", "out"), e.Src)

	require.True(t, s.Undo()) // removes it again
	_, ok = g.EdgeTo(graph.Ref("c", "in"))
	assert.False(t, ok)
}

func TestDuplicateNode_RedoReusesNames(t *testing.T) {
	t.Parallel()

	g := testGraph(t)
	s := history.NewUndoStack()
	_, err := g.AddNode("Producer", "p")
	require.NoError(t, err)

	cmd := NewDuplicateNode(g, "p", false)
	require.NoError(t, s.Push(cmd))
	created := cmd.Created()
	require.Len(t, created, 1)

	require.True(t, s.Undo())
	_, ok := g.Node(created[0])
	require.False(t, ok)

	require.NoError(t, s.Redo())
	_, ok = g.Node(created[0])
	assert.True(t, ok, "redo should recreate the copy under the same name")
}
