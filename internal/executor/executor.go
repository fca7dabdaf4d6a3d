// Package executor implements the local graph-execution routine. It runs
// on the orchestrator's single worker goroutine: units are computed one at
// a time in the dependency order the caller hands in, cancellation is
// cooperative through the context, and every state transition is written
// to the unit's status record, which is how the home goroutine observes
// progress, via the status monitor.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/pipegrid/pipegrid/internal/ctxlog"
	"github.com/pipegrid/pipegrid/internal/graph"
	"github.com/pipegrid/pipegrid/internal/unit"
)

// Run computes the given units in order. Units already marked SUCCESS are
// skipped. The first failure stops the run: the failing unit's record gets
// ERROR (or STOPPED when the context was cancelled) and the error is
// returned. Run never panics across its boundary; handler panics are
// absorbed into errors.
func Run(ctx context.Context, g *graph.Graph, units []*unit.Unit) error {
	logger := ctxlog.FromContext(ctx)

	for _, u := range units {
		if ctx.Err() != nil {
			logger.Debug("Execution cancelled before unit started.", "unit", u.ID())
			return ctx.Err()
		}
		if u.Status() == unit.StatusSuccess {
			logger.Debug("Unit already computed, skipping.", "unit", u.ID())
			continue
		}

		def, ok := g.Types().Lookup(u.NodeType())
		if !ok {
			return fmt.Errorf("unit %s: unknown node type %q", u.ID(), u.NodeType())
		}
		node, ok := g.Node(u.NodeName())
		if !ok {
			return fmt.Errorf("unit %s: node no longer in graph", u.ID())
		}

		if err := u.SetStatus(unit.StatusRunning); err != nil {
			return fmt.Errorf("unit %s: %w", u.ID(), err)
		}
		logger.Debug("Unit started.", "unit", u.ID())

		err := runUnit(ctx, def, node, u)
		switch {
		case err == nil:
			if err := u.SetStatus(unit.StatusSuccess); err != nil {
				return fmt.Errorf("unit %s: %w", u.ID(), err)
			}
			logger.Debug("Unit succeeded.", "unit", u.ID())

		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			if err := u.SetStatus(unit.StatusStopped); err != nil {
				logger.Warn("Failed to record stopped status.", "unit", u.ID(), "error", err)
			}
			logger.Debug("Unit stopped.", "unit", u.ID())
			return context.Canceled

		default:
			if recErr := u.SetError(err); recErr != nil {
				logger.Warn("Failed to record error status.", "unit", u.ID(), "error", recErr)
			}
			return fmt.Errorf("unit %s: %w", u.ID(), err)
		}
	}
	return nil
}

// runUnit invokes the node type's handler, converting a panic into an
// error so a misbehaving handler cannot take down the worker.
func runUnit(ctx context.Context, def *graph.TypeDef, node *graph.Node, u *unit.Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if def.Run == nil {
		return nil
	}
	return def.Run(ctx, &graph.RunContext{Node: node, Unit: u})
}
