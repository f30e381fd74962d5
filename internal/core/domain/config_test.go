package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *AppConfig)
	}{
		{"empty addr", func(c *AppConfig) { c.Server.Addr = "" }},
		{"empty store", func(c *AppConfig) { c.Store.Path = "" }},
		{"no model", func(c *AppConfig) { c.Model.Model = "" }},
		{"hot temperature", func(c *AppConfig) { c.Model.Temperature = 3 }},
		{"zero turns", func(c *AppConfig) { c.Orchestrator.MaxTurns = 0 }},
		{"zero loop threshold", func(c *AppConfig) { c.Loop.SameToolThreshold = 0 }},
		{"failure threshold above history", func(c *AppConfig) { c.Loop.HistorySize = 2; c.Loop.ConsecutiveFailureThreshold = 3 }},
		{"same tool threshold above history", func(c *AppConfig) { c.Loop.SameToolThreshold = 21 }},
		{"zero runs", func(c *AppConfig) { c.Runner.MaxConcurrentRuns = 0 }},
		{"unknown engine", func(c *AppConfig) { c.Reasoning.Engine = "oracle" }},
		{"confidence above one", func(c *AppConfig) { c.Reasoning.MinConfidence = 1.5 }},
		{"unknown strategy", func(c *AppConfig) { c.Reasoning.Tree.Strategy = "random" }},
		{"zero branch", func(c *AppConfig) { c.Reasoning.Tree.BranchFactor = 0 }},
		{"prune above solution", func(c *AppConfig) { c.Reasoning.Tree.PruneThreshold = 0.95 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("tree bounds ignored for chain", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Reasoning.Engine = "chain"
		cfg.Reasoning.Tree.BranchFactor = 0
		assert.NoError(t, cfg.Validate())
	})
}
