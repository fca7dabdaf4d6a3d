package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func writeGraphFile(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestLoad_NodesEdgesAndCache(t *testing.T) {
	t.Parallel()

	path := writeGraphFile(t, `
cache = "records"

node "Producer" "p" {
  label = "source"
}

node "Consumer" "c" {
  items = [true, false]
}

edge {
  from = "p.out"
  to   = "c.in"
}
`)

	g, err := Load(path, testTypes())
	require.NoError(t, err)

	assert.Equal(t, path, g.Path())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "records"), g.CacheDir())

	v, err := g.AttributeValue(Ref("p", "label"))
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("source"), v)

	v, err = g.AttributeValue(Ref("c", "items").At(1))
	require.NoError(t, err)
	assert.Equal(t, cty.False, v)

	e, ok := g.EdgeTo(Ref("c", "in"))
	require.True(t, ok)
	assert.Equal(t, Ref("p", "out"), e.Src)
}

func TestLoad_DefaultCacheDirDerivedFromPath(t *testing.T) {
	t.Parallel()

	path := writeGraphFile(t, `node "Producer" "p" {}`)

	g, err := Load(path, testTypes())
	require.NoError(t, err)

	want := filepath.Join(filepath.Dir(path), "main_cache")
	assert.Equal(t, want, g.CacheDir())
}

func TestLoad_UnknownTypeBecomesIncompatible(t *testing.T) {
	t.Parallel()

	path := writeGraphFile(t, `
node "Producer" "p" {}

node "Vanished" "relic" {
  knob = 42
}

edge {
  from = "p.out"
  to   = "relic.in"
}
`)

	g, err := Load(path, testTypes())
	require.NoError(t, err)

	n, ok := g.Node("relic")
	require.True(t, ok)
	assert.True(t, n.Incompatible())
	assert.Equal(t, "Vanished", n.TypeName())
	// Edges into incompatible nodes are dropped, not fatal.
	assert.Empty(t, g.Edges())
}

func TestLoad_MismatchedValuesBecomeIncompatible(t *testing.T) {
	t.Parallel()

	path := writeGraphFile(t, `
node "Producer" "p" {
  no_such_attr = true
}
`)

	g, err := Load(path, testTypes())
	require.NoError(t, err)

	n, ok := g.Node("p")
	require.True(t, ok)
	assert.True(t, n.Incompatible())
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	t.Run("malformed HCL", func(t *testing.T) {
		path := writeGraphFile(t, `node "Producer" "p" {`)
		_, err := Load(path, testTypes())
		require.Error(t, err)
	})

	t.Run("duplicate node name", func(t *testing.T) {
		path := writeGraphFile(t, `
node "Producer" "p" {}
node "Producer" "p" {}
`)
		_, err := Load(path, testTypes())
		require.ErrorContains(t, err, "defined twice")
	})

	t.Run("bad edge reference", func(t *testing.T) {
		path := writeGraphFile(t, `
node "Producer" "p" {}
edge {
  from = "p.out"
  to   = "nowhere"
}
`)
		_, err := Load(path, testTypes())
		require.Error(t, err)
	})
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	types := testTypes()
	g := New(types)
	_, err := g.AddNode("Producer", "p")
	require.NoError(t, err)
	_, err = g.AddNode("Consumer", "c")
	require.NoError(t, err)
	require.NoError(t, g.SetAttributeValue(Ref("p", "label"), cty.StringVal("kept")))
	_, err = g.InsertListElement(Ref("c", "items"), -1, cty.True)
	require.NoError(t, err)
	_, err = g.InsertListElement(Ref("c", "items"), -1, cty.NilVal)
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(Ref("p", "out"), Ref("c", "items").At(1)))

	path := filepath.Join(t.TempDir(), "roundtrip.hcl")
	require.NoError(t, g.SaveAs(path))
	assert.Equal(t, path, g.Path())

	loaded, err := Load(path, types)
	require.NoError(t, err)

	v, err := loaded.AttributeValue(Ref("p", "label"))
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("kept"), v)

	v, err = loaded.AttributeValue(Ref("c", "items").At(0))
	require.NoError(t, err)
	assert.Equal(t, cty.True, v)

	e, ok := loaded.EdgeTo(Ref("c", "items").At(1))
	require.True(t, ok)
	assert.Equal(t, Ref("p", "out"), e.Src)
}

func TestSave_RequiresPath(t *testing.T) {
	t.Parallel()

	g := New(testTypes())
	require.ErrorContains(t, g.Save(), "no file path")
}

func TestSaveLoad_IncompatibleNodePreservedVerbatim(t *testing.T) {
	t.Parallel()

	source := `
node "Vanished" "relic" {
  knob = 42
}
`
	path := writeGraphFile(t, source)
	g, err := Load(path, testTypes())
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "resaved.hcl")
	require.NoError(t, g.SaveAs(out))

	reloaded, err := Load(out, testTypes())
	require.NoError(t, err)
	n, ok := reloaded.Node("relic")
	require.True(t, ok)
	assert.True(t, n.Incompatible())
	assert.Equal(t, "Vanished", n.TypeName())
}
