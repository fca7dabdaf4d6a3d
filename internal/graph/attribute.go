package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Kind classifies an attribute as a single value or a dynamic list. The
// kind tag is what edge operations branch on; no runtime type inspection
// is ever needed.
type Kind int

const (
	// KindScalar holds exactly one value.
	KindScalar Kind = iota
	// KindList holds zero or more values, addressable by index.
	KindList
)

// String returns "scalar" or "list".
func (k Kind) String() string {
	if k == KindList {
		return "list"
	}
	return "scalar"
}

// Role distinguishes attributes that receive values from attributes that
// other nodes connect to.
type Role int

const (
	// RoleInput attributes hold configuration and edge destinations.
	RoleInput Role = iota
	// RoleOutput attributes are edge sources.
	RoleOutput
)

// AttrRef addresses an attribute, or one element of a list attribute, on a
// named node. Index is -1 when the reference addresses the attribute itself.
type AttrRef struct {
	Node  string
	Attr  string
	Index int
}

// Ref builds a reference to a whole attribute.
func Ref(node, attr string) AttrRef {
	return AttrRef{Node: node, Attr: attr, Index: -1}
}

// At returns a reference to the i-th element of the referenced attribute.
func (r AttrRef) At(i int) AttrRef {
	r.Index = i
	return r
}

// IsElement reports whether the reference addresses a list element.
func (r AttrRef) IsElement() bool { return r.Index >= 0 }

// String renders the reference as "node.attr" or "node.attr[i]".
func (r AttrRef) String() string {
	if r.IsElement() {
		return fmt.Sprintf("%s.%s[%d]", r.Node, r.Attr, r.Index)
	}
	return r.Node + "." + r.Attr
}

// ParseAttrRef parses "node.attr" or "node.attr[i]" into an AttrRef.
func ParseAttrRef(s string) (AttrRef, error) {
	ref := AttrRef{Index: -1}

	rest := s
	if open := strings.IndexByte(s, '['); open >= 0 {
		if !strings.HasSuffix(s, "]") {
			return ref, fmt.Errorf("malformed attribute reference %q", s)
		}
		idx, err := strconv.Atoi(s[open+1 : len(s)-1])
		if err != nil || idx < 0 {
			return ref, fmt.Errorf("malformed element index in %q", s)
		}
		ref.Index = idx
		rest = s[:open]
	}

	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return ref, fmt.Errorf("malformed attribute reference %q, want \"node.attr\"", s)
	}
	ref.Node = rest[:dot]
	ref.Attr = rest[dot+1:]
	return ref, nil
}

// Attribute is one named value slot on a node instance. Scalar attributes
// carry a single cty.Value; list attributes carry an ordered element slice.
type Attribute struct {
	def      *AttrDef
	value    cty.Value
	elements []cty.Value
}

// Name returns the attribute's name.
func (a *Attribute) Name() string { return a.def.Name }

// Kind returns the attribute's kind tag.
func (a *Attribute) Kind() Kind { return a.def.Kind }

// Role returns whether the attribute is an input or an output.
func (a *Attribute) Role() Role { return a.def.Role }

// Type returns the attribute's value type. For lists this is the element type.
func (a *Attribute) Type() cty.Type { return a.def.Type }

// Default returns the schema default for scalar attributes.
func (a *Attribute) Default() cty.Value { return a.def.Default }

// Value returns the scalar value, or a tuple of the elements for lists.
func (a *Attribute) Value() cty.Value {
	if a.def.Kind == KindList {
		if len(a.elements) == 0 {
			return cty.EmptyTupleVal
		}
		return cty.TupleVal(a.elements)
	}
	return a.value
}

// Elements returns a copy of a list attribute's elements.
func (a *Attribute) Elements() []cty.Value {
	out := make([]cty.Value, len(a.elements))
	copy(out, a.elements)
	return out
}

// Len returns the element count of a list attribute, or 0 for scalars.
func (a *Attribute) Len() int { return len(a.elements) }
