package domain

import (
	"fmt"
	"time"
)

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // trace, debug, info, warn, error
	Format string `yaml:"format" json:"format"` // "json" or "text"
}

// ServerConfig configures the HTTP kernel
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// StoreConfig locates the DuckDB file holding agent state and traces
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ModelConfig configures the OpenAI-compatible model endpoint
type ModelConfig struct {
	BaseURL     string  `yaml:"base_url" json:"base_url"` // "http://localhost:11434/v1" for Ollama
	APIKey      string  `yaml:"api_key" json:"api_key"`   // may be "enc:"-prefixed
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// OrchestratorConfig bounds a run
type OrchestratorConfig struct {
	MaxTurns           int           `yaml:"max_turns" json:"max_turns"`
	UseFunctionCalling bool          `yaml:"use_function_calling" json:"use_function_calling"`
	ModelTimeout       time.Duration `yaml:"model_timeout" json:"model_timeout"`
	ToolTimeout        time.Duration `yaml:"tool_timeout" json:"tool_timeout"`
}

// DedupConfig controls reuse of earlier tool results
type DedupConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	StaleAfter time.Duration `yaml:"stale_after" json:"stale_after"`
}

// LoopConfig tunes the repeated-failure detector
type LoopConfig struct {
	HistorySize                 int `yaml:"history_size" json:"history_size"`
	SameToolThreshold           int `yaml:"same_tool_threshold" json:"same_tool_threshold"`
	ConsecutiveFailureThreshold int `yaml:"consecutive_failure_threshold" json:"consecutive_failure_threshold"`
}

// TreeConfig bounds tree-of-thoughts search
type TreeConfig struct {
	Strategy          ExplorationStrategy `yaml:"strategy" json:"strategy"`
	MaxDepth          int                 `yaml:"max_depth" json:"max_depth"`
	MaxNodes          int                 `yaml:"max_nodes" json:"max_nodes"`
	BranchFactor      int                 `yaml:"branch_factor" json:"branch_factor"`
	BeamWidth         int                 `yaml:"beam_width" json:"beam_width"`
	PruneThreshold    float64             `yaml:"prune_threshold" json:"prune_threshold"`
	SolutionThreshold float64             `yaml:"solution_threshold" json:"solution_threshold"`
}

// ReasoningConfig selects and tunes the pre-action reasoning engine
type ReasoningConfig struct {
	Engine        string     `yaml:"engine" json:"engine"` // "none", "chain", "tree", "hybrid"
	Every         int        `yaml:"every" json:"every"`
	Validate      bool       `yaml:"validate" json:"validate"`
	MinConfidence float64    `yaml:"min_confidence" json:"min_confidence"`
	Tree          TreeConfig `yaml:"tree" json:"tree"`
}

// RunnerConfig bounds concurrent runs in one process
type RunnerConfig struct {
	MaxConcurrentRuns int64 `yaml:"max_concurrent_runs" json:"max_concurrent_runs"`
}

// AppConfig is the main application configuration
type AppConfig struct {
	Log          LogConfig          `yaml:"log" json:"log"`
	Server       ServerConfig       `yaml:"server" json:"server"`
	Store        StoreConfig        `yaml:"store" json:"store"`
	Model        ModelConfig        `yaml:"model" json:"model"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Dedup        DedupConfig        `yaml:"dedup" json:"dedup"`
	Loop         LoopConfig         `yaml:"loop" json:"loop"`
	Reasoning    ReasoningConfig    `yaml:"reasoning" json:"reasoning"`
	Runner       RunnerConfig       `yaml:"runner" json:"runner"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Log: LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Store: StoreConfig{Path: "agentcore.db"},
		Model: ModelConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen2.5:7b",
			Temperature: 0.2,
			MaxTokens:   2048,
		},
		Orchestrator: OrchestratorConfig{
			MaxTurns:           12,
			UseFunctionCalling: true,
			ModelTimeout:       2 * time.Minute,
			ToolTimeout:        30 * time.Second,
		},
		Dedup: DedupConfig{Enabled: true, StaleAfter: 5 * time.Minute},
		Loop: LoopConfig{
			HistorySize:                 20,
			SameToolThreshold:           3,
			ConsecutiveFailureThreshold: 3,
		},
		Reasoning: ReasoningConfig{
			Engine:        "hybrid",
			Every:         3,
			Validate:      true,
			MinConfidence: 0.5,
			Tree: TreeConfig{
				Strategy:          StrategyBestFirst,
				MaxDepth:          3,
				MaxNodes:          15,
				BranchFactor:      3,
				BeamWidth:         2,
				PruneThreshold:    0.3,
				SolutionThreshold: 0.9,
			},
		},
		Runner: RunnerConfig{MaxConcurrentRuns: 10},
	}
}

// Validate rejects configurations the runtime cannot honor
func (c *AppConfig) Validate() error {
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	case c.Store.Path == "":
		return fmt.Errorf("%w: store.path is empty", ErrInvalidConfig)
	case c.Model.Model == "":
		return fmt.Errorf("%w: model.model is empty", ErrInvalidConfig)
	case c.Model.Temperature < 0 || c.Model.Temperature > 2:
		return fmt.Errorf("%w: model.temperature %v outside [0, 2]", ErrInvalidConfig, c.Model.Temperature)
	case c.Orchestrator.MaxTurns < 1:
		return fmt.Errorf("%w: orchestrator.max_turns must be at least 1", ErrInvalidConfig)
	case c.Loop.HistorySize < 1 || c.Loop.SameToolThreshold < 1 || c.Loop.ConsecutiveFailureThreshold < 1:
		return fmt.Errorf("%w: loop thresholds must be positive", ErrInvalidConfig)
	case c.Loop.SameToolThreshold > c.Loop.HistorySize || c.Loop.ConsecutiveFailureThreshold > c.Loop.HistorySize:
		return fmt.Errorf("%w: loop thresholds exceed loop.history_size %d", ErrInvalidConfig, c.Loop.HistorySize)
	case c.Runner.MaxConcurrentRuns < 1:
		return fmt.Errorf("%w: runner.max_concurrent_runs must be at least 1", ErrInvalidConfig)
	}

	r := c.Reasoning
	switch r.Engine {
	case "", "none", "chain", "tree", "hybrid":
	default:
		return fmt.Errorf("%w: reasoning.engine %q", ErrInvalidConfig, r.Engine)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("%w: reasoning.min_confidence %v outside [0, 1]", ErrInvalidConfig, r.MinConfidence)
	}
	if r.Engine == "tree" || r.Engine == "hybrid" {
		t := r.Tree
		if !t.Strategy.Valid() {
			return fmt.Errorf("%w: reasoning.tree.strategy %q", ErrInvalidConfig, t.Strategy)
		}
		if t.MaxDepth < 1 || t.MaxNodes < 1 || t.BranchFactor < 1 {
			return fmt.Errorf("%w: reasoning.tree bounds must be positive", ErrInvalidConfig)
		}
		if t.PruneThreshold > t.SolutionThreshold {
			return fmt.Errorf("%w: reasoning.tree.prune_threshold above solution_threshold", ErrInvalidConfig)
		}
	}
	return nil
}
