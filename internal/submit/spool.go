package submit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pipegrid/pipegrid/internal/ctxlog"
	"github.com/pipegrid/pipegrid/internal/graph"
	"github.com/pipegrid/pipegrid/internal/unit"
)

// Spool is the built-in submission backend: it drops a YAML manifest into
// a spool directory for an external runner to pick up, and marks the
// submitted units SUBMITTED so the monitor reports them immediately.
type Spool struct {
	Dir string
}

// NewSpool creates a spool backend writing manifests into dir.
func NewSpool(dir string) *Spool {
	return &Spool{Dir: dir}
}

// Name implements Submitter.
func (s *Spool) Name() string { return "spool" }

type manifest struct {
	ID          string         `yaml:"id"`
	GraphPath   string         `yaml:"graphPath"`
	SubmittedAt time.Time      `yaml:"submittedAt"`
	Units       []manifestUnit `yaml:"units"`
}

type manifestUnit struct {
	Node       string `yaml:"node"`
	Index      int    `yaml:"index"`
	StatusFile string `yaml:"statusFile"`
}

// Submit implements Submitter. The graph must have been saved: the
// external runner only ever sees the file.
func (s *Spool) Submit(ctx context.Context, g *graph.Graph, units []*unit.Unit) error {
	if g.Path() == "" {
		return fmt.Errorf("graph has no file path, save it before submitting")
	}

	m := manifest{
		ID:          uuid.NewString(),
		GraphPath:   g.Path(),
		SubmittedAt: time.Now().UTC(),
	}
	for _, u := range units {
		m.Units = append(m.Units, manifestUnit{
			Node:       u.NodeName(),
			Index:      u.Index(),
			StatusFile: u.StatusFile(),
		})
	}

	raw, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode submission manifest: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}
	path := filepath.Join(s.Dir, m.ID+".yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write submission manifest: %w", err)
	}

	for _, u := range units {
		if err := u.SetStatus(unit.StatusSubmitted); err != nil {
			return fmt.Errorf("mark %s submitted: %w", u.ID(), err)
		}
	}

	ctxlog.FromContext(ctx).Info("Submitted units to spool.", "manifest", path, "units", len(units))
	return nil
}
