// Package submit hands a graph, or a slice of it, to an external
// submission backend. Backends register by name; the default backend is
// selected through an environment variable read lazily at submit time, so
// the setting can change between submissions without restarting.
package submit

import (
	"context"
	"fmt"
	"os"

	"github.com/pipegrid/pipegrid/internal/graph"
	"github.com/pipegrid/pipegrid/internal/unit"
)

// DefaultSubmitterEnv names the environment variable selecting the default
// submission backend. Unset means no default.
const DefaultSubmitterEnv = "PIPEGRID_DEFAULT_SUBMITTER"

// Submitter is one external submission backend.
type Submitter interface {
	Name() string
	Submit(ctx context.Context, g *graph.Graph, units []*unit.Unit) error
}

// Registry holds the available backends. Registration happens at startup;
// misuse is a programmer error.
type Registry struct {
	subs map[string]Submitter
}

// NewRegistry creates a registry holding the given backends.
func NewRegistry(subs ...Submitter) *Registry {
	r := &Registry{subs: make(map[string]Submitter, len(subs))}
	for _, s := range subs {
		r.Register(s)
	}
	return r
}

// Register adds a backend, rejecting duplicates by panic.
func (r *Registry) Register(s Submitter) {
	if s.Name() == "" {
		panic("submit: backend registered without a name")
	}
	if _, exists := r.subs[s.Name()]; exists {
		panic(fmt.Sprintf("submit: backend %q registered twice", s.Name()))
	}
	r.subs[s.Name()] = s
}

// Lookup returns the named backend.
func (r *Registry) Lookup(name string) (Submitter, bool) {
	s, ok := r.subs[name]
	return s, ok
}

// Submit dispatches units to the named backend. An empty name falls back
// to the backend named by the environment variable; with neither set,
// submission fails.
func (r *Registry) Submit(ctx context.Context, g *graph.Graph, units []*unit.Unit, name string) error {
	if name == "" {
		name = os.Getenv(DefaultSubmitterEnv)
	}
	if name == "" {
		return fmt.Errorf("no submission backend configured, set %s or pass one explicitly", DefaultSubmitterEnv)
	}
	s, ok := r.subs[name]
	if !ok {
		return fmt.Errorf("unknown submission backend %q", name)
	}
	return s.Submit(ctx, g, units)
}
