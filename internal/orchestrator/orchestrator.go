// Package orchestrator ties the system together: it owns the undo history,
// the status monitor, and the local execution worker for one graph at a
// time. Every structural edit flows through a reversible command; graph
// topology changes recompute the unit list and hand it to the monitor; the
// monitor's per-unit notifications aggregate into a single computation
// state signal.
//
// Threading: all mutation (edits, undo history, SetGraph, Execute,
// StopExecution) belongs to one home goroutine. At most one worker
// goroutine runs the execution routine at a time; it only reads graph
// inputs and writes unit status records. Monitor notifications arrive on
// the worker or poll goroutines, so the aggregate bookkeeping is guarded
// by a mutex.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/pipegrid/pipegrid/internal/ctxlog"
	"github.com/pipegrid/pipegrid/internal/executor"
	"github.com/pipegrid/pipegrid/internal/graph"
	"github.com/pipegrid/pipegrid/internal/history"
	"github.com/pipegrid/pipegrid/internal/monitor"
	"github.com/pipegrid/pipegrid/internal/pubsub"
	"github.com/pipegrid/pipegrid/internal/submit"
	"github.com/pipegrid/pipegrid/internal/unit"
)

// ComputeState is the derived tri-state of the current graph's
// computation. Local execution takes precedence in reporting: the external
// flags are masked while a local worker is alive.
type ComputeState struct {
	LocalRunning      bool
	ExternalRunning   bool
	ExternalSubmitted bool
}

// Computing reports whether any computation is in progress.
func (s ComputeState) Computing() bool {
	return s.LocalRunning || s.ExternalRunning || s.ExternalSubmitted
}

// execHandle is the owned, cancellable handle of the local execution
// worker. Liveness is an explicit check on the handle, not thread
// introspection.
type execHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator wraps one graph with undoable mutation, execution
// lifecycle, and status monitoring.
type Orchestrator struct {
	logger     *slog.Logger
	types      *graph.TypeRegistry
	submitters *submit.Registry

	history *history.UndoStack
	monitor *monitor.Monitor

	g          *graph.Graph
	unsubGraph func()

	modifications int

	// GraphChanged fires when a new graph instance is installed.
	GraphChanged *pubsub.Publisher[*graph.Graph]
	// ComputeStatusChanged fires on actual aggregate state transitions,
	// never redundantly, however often the monitor polls.
	ComputeStatusChanged *pubsub.Publisher[ComputeState]

	mu        sync.Mutex
	units     []*unit.Unit
	exec      *execHandle
	running   bool // some watched unit reports RUNNING
	submitted bool // some watched unit reports SUBMITTED
	lastState ComputeState
}

// New creates an orchestrator with an empty graph installed.
func New(logger *slog.Logger, types *graph.TypeRegistry, submitters *submit.Registry) *Orchestrator {
	o := &Orchestrator{
		logger:               logger,
		types:                types,
		submitters:           submitters,
		history:              history.NewUndoStack(),
		monitor:              monitor.New(logger),
		GraphChanged:         pubsub.New[*graph.Graph](),
		ComputeStatusChanged: pubsub.New[ComputeState](),
	}
	o.monitor.UnitChanged.Subscribe(o.onUnitEvent)
	o.SetGraph(graph.New(types))
	return o
}

// Graph returns the current graph instance.
func (o *Orchestrator) Graph() *graph.Graph { return o.g }

// History returns the undo history.
func (o *Orchestrator) History() *history.UndoStack { return o.history }

// Monitor returns the status monitor, e.g. to start its poll loop.
func (o *Orchestrator) Monitor() *monitor.Monitor { return o.monitor }

// Units returns the current dependency-ordered unit sequence.
func (o *Orchestrator) Units() []*unit.Unit {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*unit.Unit(nil), o.units...)
}

// SetGraph replaces the current graph: local execution is stopped, the old
// graph's subscriptions and history are released, the new graph's topology
// notifications are wired up, an immediate recompute refreshes the watch
// list, and a graph-changed notification goes out.
func (o *Orchestrator) SetGraph(g *graph.Graph) {
	o.StopExecution()
	if o.unsubGraph != nil {
		o.unsubGraph()
	}
	o.history.Clear()

	o.g = g
	o.unsubGraph = g.Updated.Subscribe(func(struct{}) { o.refreshUnits() })
	o.refreshUnits()

	o.logger.Debug("Graph installed.", "path", g.Path(), "nodes", len(g.Nodes()))
	o.GraphChanged.Publish(g)
}

// Load reads a graph file, ensures its cache directory exists, and
// installs the graph.
func (o *Orchestrator) Load(path string) error {
	g, err := graph.Load(path, o.types)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(g.CacheDir(), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	o.SetGraph(g)
	return nil
}

// Save writes the graph to its current path and marks the history clean.
func (o *Orchestrator) Save() error {
	if err := o.g.Save(); err != nil {
		return err
	}
	o.history.SetClean()
	return nil
}

// SaveAs writes the graph to path and marks the history clean.
func (o *Orchestrator) SaveAs(path string) error {
	if err := o.g.SaveAs(path); err != nil {
		return err
	}
	o.history.SetClean()
	return nil
}

// Push tries to apply the command and record it in the undo history. A
// rejected command is not recorded and the validation error is returned.
func (o *Orchestrator) Push(cmd history.Command) error {
	if err := o.history.Push(cmd); err != nil {
		o.logger.Debug("Command rejected.", "command", cmd.Text(), "error", err)
		return err
	}
	return nil
}

// BeginMacro opens a grouped modification. Calls may nest; every
// BeginMacro must be matched by exactly one EndMacro.
func (o *Orchestrator) BeginMacro(name string) {
	o.modifications++
	o.history.BeginMacro(name)
}

// EndMacro closes a grouped modification opened by BeginMacro. An
// unmatched call is a caller bug and fails fast.
func (o *Orchestrator) EndMacro() {
	if o.modifications == 0 {
		panic("orchestrator: EndMacro without matching BeginMacro")
	}
	o.modifications--
	o.history.EndMacro()
}

// abortMacro discards the innermost open group after a failed step.
func (o *Orchestrator) abortMacro() {
	o.modifications--
	o.history.AbortMacro()
}

// Undo reverses the last recorded edit, if any.
func (o *Orchestrator) Undo() bool { return o.history.Undo() }

// Redo re-applies the last undone edit, if any.
func (o *Orchestrator) Redo() error { return o.history.Redo() }

// refreshUnits recomputes the unit sequence from the graph's topology. If
// composition and order are unchanged the update is a no-op; otherwise the
// new sequence becomes the monitor's watch list.
func (o *Orchestrator) refreshUnits() {
	seq := o.g.DFSUnitsOnFinish()

	o.mu.Lock()
	same := len(seq) == len(o.units)
	if same {
		for i := range seq {
			if seq[i] != o.units[i] {
				same = false
				break
			}
		}
	}
	if !same {
		o.units = seq
	}
	o.mu.Unlock()

	if same {
		return
	}
	o.logger.Debug("Unit sequence changed, rebuilding watch list.", "units", len(seq))
	o.monitor.SetWatchList(seq)
}

// onUnitEvent recomputes the externally-observed flags from the last-known
// statuses of the watched units. The aggregate notification goes out only
// on an actual transition.
func (o *Orchestrator) onUnitEvent(monitor.Event) {
	o.mu.Lock()
	running, submitted := false, false
	for _, u := range o.units {
		switch u.Status() {
		case unit.StatusRunning:
			running = true
		case unit.StatusSubmitted:
			submitted = true
		}
	}
	o.running, o.submitted = running, submitted
	o.mu.Unlock()

	o.publishState()
}

// computeStateLocked derives the reported state. Local execution masks the
// externally-observed flags.
func (o *Orchestrator) computeStateLocked() ComputeState {
	local := o.exec != nil
	return ComputeState{
		LocalRunning:      local,
		ExternalRunning:   o.running && !local,
		ExternalSubmitted: o.submitted && !local,
	}
}

// publishState emits the aggregate computation state if it transitioned.
func (o *Orchestrator) publishState() {
	o.mu.Lock()
	state := o.computeStateLocked()
	changed := state != o.lastState
	if changed {
		o.lastState = state
	}
	o.mu.Unlock()

	if changed {
		o.logger.Debug("Computation state changed.",
			"local", state.LocalRunning, "external", state.ExternalRunning, "submitted", state.ExternalSubmitted)
		o.ComputeStatusChanged.Publish(state)
	}
}

// ComputeState returns the current aggregate state.
func (o *Orchestrator) ComputeState() ComputeState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.computeStateLocked()
}

// IsComputingLocally reports whether this process owns a live execution
// worker for the current graph.
func (o *Orchestrator) IsComputingLocally() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exec != nil
}

// IsComputingExternally reports whether computation is observed through
// unit statuses while no local worker is alive.
func (o *Orchestrator) IsComputingExternally() bool {
	st := o.ComputeState()
	return st.ExternalRunning || st.ExternalSubmitted
}

// IsComputing reports whether the graph is being computed at all.
func (o *Orchestrator) IsComputing() bool { return o.ComputeState().Computing() }

// Execute starts the local execution worker over the whole graph, or over
// the named node and its not-yet-successful ancestors. If computation is
// already in progress, locally or externally observed, the call is a
// no-op. Completion, success or failure, is reported through the
// computation state signal; failures are logged, never re-thrown across
// the worker boundary.
func (o *Orchestrator) Execute(nodeName string) error {
	units, err := o.executionUnits(nodeName)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.exec != nil || o.running || o.submitted {
		o.mu.Unlock()
		o.logger.Debug("Computation already in progress, execute ignored.")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), o.logger))
	handle := &execHandle{cancel: cancel, done: make(chan struct{})}
	o.exec = handle
	o.mu.Unlock()

	o.logger.Info("Starting local execution.", "units", len(units))
	o.publishState()

	g := o.g
	go func() {
		defer close(handle.done)

		err := executor.Run(runCtx, g, units)
		if err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("Error during graph execution.", "error", err)
		}
		cancel()

		o.mu.Lock()
		o.exec = nil
		o.mu.Unlock()
		o.publishState()
	}()
	return nil
}

// StopExecution requests cooperative cancellation of the local worker and
// blocks until it has fully terminated. With no worker alive it is a
// no-op: no notification, no blocking.
func (o *Orchestrator) StopExecution() {
	o.mu.Lock()
	handle := o.exec
	o.mu.Unlock()
	if handle == nil {
		return
	}

	o.logger.Debug("Stopping local execution...")
	handle.cancel()
	<-handle.done
	// The worker's completion path already emitted the transition; this is
	// a deduplicated no-op unless something raced in between.
	o.publishState()
}

// Wait blocks until the current local execution, if any, has finished.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	handle := o.exec
	o.mu.Unlock()
	if handle != nil {
		<-handle.done
	}
}

// Submit hands the whole graph, or the named node plus its uncomputed
// ancestors, to a submission backend. The graph must have a file path:
// persistence is a precondition of submission, so the current state is
// saved first. An empty backend name selects the configured default.
func (o *Orchestrator) Submit(nodeName, backend string) error {
	if o.g.Path() == "" {
		return fmt.Errorf("graph was never saved, use SaveAs before submitting")
	}
	if err := o.Save(); err != nil {
		return fmt.Errorf("save before submit: %w", err)
	}

	units, err := o.executionUnits(nodeName)
	if err != nil {
		return err
	}
	var pending []*unit.Unit
	for _, u := range units {
		if u.Status() != unit.StatusSuccess {
			pending = append(pending, u)
		}
	}

	ctx := ctxlog.WithLogger(context.Background(), o.logger)
	return o.submitters.Submit(ctx, o.g, pending, backend)
}

// executionUnits selects the dependency-ordered units to run: all of them,
// or the named node's ancestor closure.
func (o *Orchestrator) executionUnits(nodeName string) ([]*unit.Unit, error) {
	all := o.Units()
	if nodeName == "" {
		return all, nil
	}
	closure, err := o.g.Ancestors(nodeName)
	if err != nil {
		return nil, err
	}
	var out []*unit.Unit
	for _, u := range all {
		if closure[u.NodeName()] {
			out = append(out, u)
		}
	}
	return out, nil
}
