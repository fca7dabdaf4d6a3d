package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GraphPath string // hcl graph file

	LogFormat    string
	LogLevel     string
	PollInterval time.Duration

	// Action selection. Run executes locally; Submit hands off to the named
	// backend; Watch monitors status records until interrupted. With none
	// set the app prints the current unit statuses and exits.
	Run    bool
	Watch  bool
	Submit string

	// Node restricts Run/Submit to the named node and its dependencies.
	Node string

	// SpoolDir is where the built-in spool backend writes its manifests.
	SpoolDir string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.GraphPath == "" {
		return nil, errors.New("GraphPath is a required configuration field and cannot be empty")
	}
	if cfg.Run && cfg.Submit != "" {
		return nil, errors.New("run and submit are mutually exclusive")
	}
	if cfg.PollInterval < 0 {
		return nil, errors.New("PollInterval cannot be negative")
	}

	return &cfg, nil
}
