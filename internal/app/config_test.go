package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Validation(t *testing.T) {
	t.Parallel()

	t.Run("graph path required", func(t *testing.T) {
		_, err := NewConfig(Config{})
		require.ErrorContains(t, err, "GraphPath")
	})

	t.Run("run and submit exclusive", func(t *testing.T) {
		_, err := NewConfig(Config{GraphPath: "p.hcl", Run: true, Submit: "spool"})
		require.ErrorContains(t, err, "mutually exclusive")
	})

	t.Run("negative poll interval rejected", func(t *testing.T) {
		_, err := NewConfig(Config{GraphPath: "p.hcl", PollInterval: -time.Second})
		require.Error(t, err)
	})

	t.Run("valid config passes through", func(t *testing.T) {
		cfg, err := NewConfig(Config{GraphPath: "p.hcl", Run: true, Node: "resize"})
		require.NoError(t, err)
		assert.Equal(t, "p.hcl", cfg.GraphPath)
		assert.Equal(t, "resize", cfg.Node)
	})
}
