package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// fileSchema describes the top level of a graph file: an optional cache
// directory attribute, node blocks, and edge blocks.
var fileSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "cache"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "node", LabelNames: []string{"type", "name"}},
		{Type: "edge"},
	},
}

var edgeSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "from", Required: true},
		{Name: "to", Required: true},
	},
}

// Load parses a graph file. Nodes whose type is unknown, or whose stored
// attributes no longer fit their type's schema, load as incompatible nodes
// rather than failing the whole file; they can be upgraded or removed
// later. Structural problems (malformed HCL, bad edges) are errors.
func Load(path string, types *TypeRegistry) (*Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", path, diags)
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("read %s: %w", path, diags)
	}

	g := New(types)
	g.path = path

	if attr, ok := content.Attributes["cache"]; ok {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || v.Type() != cty.String || v.IsNull() {
			return nil, fmt.Errorf("read %s: cache must be a string", path)
		}
		g.cacheSpec = v.AsString()
	}
	g.cacheDir = resolveCacheDir(path, g.cacheSpec)

	var edgeBlocks []*hcl.Block
	for _, block := range content.Blocks {
		switch block.Type {
		case "node":
			if err := g.loadNode(block); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		case "edge":
			edgeBlocks = append(edgeBlocks, block)
		}
	}

	// Edges load after all nodes so forward references work.
	for _, block := range edgeBlocks {
		if err := g.loadEdge(block); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	return g, nil
}

// Save writes the graph back to the path it was loaded from.
func (g *Graph) Save() error {
	if g.path == "" {
		return fmt.Errorf("graph has no file path, use SaveAs first")
	}
	return g.SaveAs(g.path)
}

// SaveAs writes the graph to the given path and adopts it as the graph's
// path for subsequent saves.
func (g *Graph) SaveAs(path string) error {
	file := hclwrite.NewEmptyFile()
	body := file.Body()

	if g.cacheSpec != "" {
		body.SetAttributeValue("cache", cty.StringVal(g.cacheSpec))
		body.AppendNewline()
	}

	for _, name := range g.nodeOrder {
		n := g.nodes[name]
		block := body.AppendNewBlock("node", []string{n.TypeName(), n.name})
		nb := block.Body()

		if n.incompatible {
			for _, attrName := range n.storedNames() {
				st := n.stored[attrName]
				if st.Kind == KindList {
					if len(st.Elements) > 0 {
						nb.SetAttributeValue(attrName, cty.TupleVal(st.Elements))
					}
				} else if st.Value != cty.NilVal {
					nb.SetAttributeValue(attrName, st.Value)
				}
			}
		} else {
			for _, a := range n.Attributes() {
				if a.Role() != RoleInput {
					continue
				}
				if a.Kind() == KindList {
					if a.Len() > 0 {
						nb.SetAttributeValue(a.Name(), cty.TupleVal(a.elements))
					}
				} else if !a.value.RawEquals(a.Default()) && a.value != cty.NilVal {
					nb.SetAttributeValue(a.Name(), a.value)
				}
			}
		}
		body.AppendNewline()
	}

	for _, key := range g.edgeOrder {
		e := g.edges[key]
		block := body.AppendNewBlock("edge", nil)
		block.Body().SetAttributeValue("from", cty.StringVal(e.Src.String()))
		block.Body().SetAttributeValue("to", cty.StringVal(e.Dst.String()))
		body.AppendNewline()
	}

	if err := os.WriteFile(path, file.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}

	g.path = path
	if g.cacheDir == "" {
		g.cacheDir = resolveCacheDir(path, g.cacheSpec)
	}
	return nil
}

func (g *Graph) loadNode(block *hcl.Block) error {
	typeName, name := block.Labels[0], block.Labels[1]
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("node %q defined twice", name)
	}

	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return fmt.Errorf("node %q: %w", name, diags)
	}
	values := make(map[string]cty.Value, len(attrs))
	for attrName, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("node %q attribute %q: %w", name, attrName, diags)
		}
		values[attrName] = v
	}

	def, known := g.types.Lookup(typeName)
	if known {
		if n, ok := instantiateLoaded(name, def, values); ok {
			g.insertNode(n)
			return nil
		}
	}

	// Unknown type or stored values that no longer fit the schema: keep the
	// node's shape verbatim as an incompatible node.
	stored := make(map[string]AttrState, len(values))
	for attrName, v := range values {
		if v.Type().IsTupleType() || v.Type().IsListType() {
			var elements []cty.Value
			for it := v.ElementIterator(); it.Next(); {
				_, el := it.Element()
				elements = append(elements, el)
			}
			stored[attrName] = AttrState{Kind: KindList, Elements: elements}
		} else {
			stored[attrName] = AttrState{Kind: KindScalar, Value: v}
		}
	}
	g.insertNode(newIncompatibleNode(name, typeName, stored))
	return nil
}

// instantiateLoaded tries to build a schema-conforming node from stored
// values. It reports false when any stored value falls outside the schema.
func instantiateLoaded(name string, def *TypeDef, values map[string]cty.Value) (*Node, bool) {
	n := newNode(name, def)
	for attrName, v := range values {
		a, ok := n.attrs[attrName]
		if !ok {
			return nil, false
		}
		if a.def.Kind == KindList {
			if !v.Type().IsTupleType() && !v.Type().IsListType() {
				return nil, false
			}
			var elements []cty.Value
			for it := v.ElementIterator(); it.Next(); {
				_, el := it.Element()
				converted, err := convertValue(el, a.Type())
				if err != nil {
					return nil, false
				}
				elements = append(elements, converted)
			}
			a.elements = elements
		} else {
			converted, err := convertValue(v, a.Type())
			if err != nil {
				return nil, false
			}
			a.value = converted
		}
	}
	return n, true
}

func (g *Graph) loadEdge(block *hcl.Block) error {
	content, diags := block.Body.Content(edgeSchema)
	if diags.HasErrors() {
		return fmt.Errorf("edge: %w", diags)
	}

	refs := make(map[string]AttrRef, 2)
	for _, field := range []string{"from", "to"} {
		v, diags := content.Attributes[field].Expr.Value(nil)
		if diags.HasErrors() || v.Type() != cty.String || v.IsNull() {
			return fmt.Errorf("edge %s must be a string", field)
		}
		ref, err := ParseAttrRef(v.AsString())
		if err != nil {
			return fmt.Errorf("edge %s: %w", field, err)
		}
		refs[field] = ref
	}

	// Edges touching incompatible nodes cannot be validated against a
	// schema; they are dropped and will be reconnected after an upgrade.
	for _, ref := range refs {
		if n, ok := g.nodes[ref.Node]; ok && n.incompatible {
			return nil
		}
	}

	if err := g.AddEdge(refs["from"], refs["to"]); err != nil {
		return fmt.Errorf("edge %s -> %s: %w", refs["from"], refs["to"], err)
	}
	return nil
}

// resolveCacheDir turns the optional cache attribute into an absolute-ish
// directory path, defaulting next to the graph file.
func resolveCacheDir(graphPath, spec string) string {
	if spec == "" {
		return strings.TrimSuffix(graphPath, filepath.Ext(graphPath)) + "_cache"
	}
	if filepath.IsAbs(spec) {
		return spec
	}
	return filepath.Join(filepath.Dir(graphPath), spec)
}
