package graph

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/pipegrid/pipegrid/internal/unit"
)

// AttrDef declares one attribute slot in a node type's schema.
type AttrDef struct {
	Name    string
	Kind    Kind
	Role    Role
	Type    cty.Type  // element type when Kind is KindList
	Default cty.Value // scalar default; lists always default to empty
}

// RunContext carries everything a run handler may read while computing one
// unit. Handlers read node inputs and write unit status records; they must
// never mutate graph topology.
type RunContext struct {
	Node *Node
	Unit *unit.Unit
}

// RunFunc computes one unit of a node. It must honor ctx cancellation
// promptly and return the cancellation cause when interrupted.
type RunFunc func(ctx context.Context, rc *RunContext) error

// TypeDef is the schema and behavior of one node type.
type TypeDef struct {
	Name   string
	Splits int // units per node; values below 1 mean a single unit
	Attrs  []AttrDef
	Run    RunFunc
}

// splits returns the effective unit count for the type.
func (d *TypeDef) splits() int {
	if d.Splits < 1 {
		return 1
	}
	return d.Splits
}

// TypeRegistry holds the node type definitions available to a graph.
// Registration happens once at startup; misuse is a programmer error.
type TypeRegistry struct {
	defs map[string]*TypeDef
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{defs: make(map[string]*TypeDef)}
}

// Register adds a type definition. Duplicate or anonymous definitions are
// rejected by panic, mirroring startup validation of handler registries.
func (r *TypeRegistry) Register(def *TypeDef) {
	if def.Name == "" {
		panic("graph: node type registered without a name")
	}
	if _, exists := r.defs[def.Name]; exists {
		panic(fmt.Sprintf("graph: node type %q registered twice", def.Name))
	}
	r.defs[def.Name] = def
}

// Lookup returns the definition for the named type.
func (r *TypeRegistry) Lookup(name string) (*TypeDef, bool) {
	def, ok := r.defs[name]
	return def, ok
}
