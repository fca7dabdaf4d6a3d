package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pipegrid/pipegrid/internal/graph"
	"github.com/pipegrid/pipegrid/internal/orchestrator"
	"github.com/pipegrid/pipegrid/internal/submit"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	orch   *orchestrator.Orchestrator
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger, the built-in node
// types registered, and the graph from the configuration loaded.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	types := graph.BuiltinTypes()
	logger.Debug("Node types registered.")

	submitters := submit.NewRegistry(submit.NewSpool(cfg.SpoolDir))
	orch := orchestrator.New(logger, types, submitters)

	if err := orch.Load(cfg.GraphPath); err != nil {
		// A failure to load the graph is a fatal startup error.
		panic(fmt.Errorf("failed to load graph: %w", err))
	}
	logger.Debug("Graph loaded.", "path", cfg.GraphPath)

	return &App{
		outW:   outW,
		logger: logger,
		orch:   orch,
	}
}

// Orchestrator returns the application's orchestrator. This is primarily
// for testing.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}
