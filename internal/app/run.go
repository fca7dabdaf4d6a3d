package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/pipegrid/pipegrid/internal/ctxlog"
	"github.com/pipegrid/pipegrid/internal/monitor"
	"github.com/pipegrid/pipegrid/internal/orchestrator"
)

// Run executes the selected action based on the provided configuration.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.orch.Monitor().Start(ctx, cfg.PollInterval)
	a.logger.Debug("Status monitor started.", "pollInterval", cfg.PollInterval)

	switch {
	case cfg.Run:
		return a.runLocally(ctx, cfg.Node)
	case cfg.Submit != "":
		return a.submit(cfg.Node, cfg.Submit)
	case cfg.Watch:
		return a.watch(ctx)
	default:
		return a.printStatuses()
	}
}

// runLocally executes the graph (or one node's dependency chain) on this
// process and waits for the worker to finish.
func (a *App) runLocally(ctx context.Context, node string) error {
	a.logger.Info("🚀 Starting local execution...")
	if err := a.orch.Execute(node); err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}

	done := make(chan struct{})
	go func() {
		a.orch.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		a.logger.Info("Interrupted, stopping execution...")
		a.orch.StopExecution()
	case <-done:
	}

	a.logger.Info("🏁 Execution finished.")
	return a.printStatuses()
}

// submit hands the graph off to a submission backend.
func (a *App) submit(node, backend string) error {
	if err := a.orch.Submit(node, backend); err != nil {
		return fmt.Errorf("submission failed: %w", err)
	}
	a.logger.Info("Graph submitted.", "backend", backend)
	return nil
}

// watch logs unit status transitions until the context is cancelled.
// Computation started by other processes shows up here through the status
// records alone.
func (a *App) watch(ctx context.Context) error {
	unsubUnits := a.orch.Monitor().UnitChanged.Subscribe(func(ev monitor.Event) {
		if ev.Unit == nil {
			return
		}
		a.logger.Info("Unit status changed.", "unit", ev.Unit.ID(), "status", ev.Status.String())
	})
	defer unsubUnits()

	unsubState := a.orch.ComputeStatusChanged.Subscribe(func(st orchestrator.ComputeState) {
		a.logger.Info("Computation state changed.",
			"external", st.ExternalRunning, "submitted", st.ExternalSubmitted)
	})
	defer unsubState()

	a.logger.Info("Watching status records, press Ctrl-C to stop.")
	<-ctx.Done()
	return nil
}

// printStatuses refreshes every unit from its record and writes a status
// table to the app's output.
func (a *App) printStatuses() error {
	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tTYPE\tSTATUS")
	for _, u := range a.orch.Units() {
		if err := u.RefreshFromRecord(); err != nil {
			a.logger.Warn("Failed to refresh unit from status record.", "unit", u.ID(), "error", err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID(), u.NodeType(), u.Status())
	}
	return w.Flush()
}
