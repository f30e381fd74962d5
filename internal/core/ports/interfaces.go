package ports

import (
	"context"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// ModelClient streams a model response. The channel is closed after the
// final chunk; a transport failure mid-stream arrives as a chunk with Err.
type ModelClient interface {
	Stream(ctx context.Context, req domain.ModelRequest) (<-chan domain.ModelChunk, error)
}

// StateStore persists agent state between runs
type StateStore interface {
	// Load returns domain.ErrAgentNotFound for unknown agents.
	Load(ctx context.Context, id domain.AgentID) (*domain.AgentState, error)
	Save(ctx context.Context, state *domain.AgentState) error
}

// AgentLister enumerates stored agents, most recently updated first.
type AgentLister interface {
	ListAgents(ctx context.Context, limit int) ([]domain.AgentSummary, error)
}

// MessageBuilder turns agent state into the prompt for the next model call
type MessageBuilder interface {
	Build(state *domain.AgentState, tools []domain.ToolSpec) []domain.ChatMessage
}

// MetricsSink receives orchestration counters. Calls are synchronous;
// returned errors and panics are logged by the caller and otherwise ignored.
type MetricsSink interface {
	RecordReasoning(engine string, duration time.Duration, confidence float64, success bool) error
	RecordDedup(tool string, hit bool) error
	RecordLoopDetected(agentID domain.AgentID, tool string, shape string) error
	RecordValidation(tool string, ok bool) error
}

// ReasoningEngine performs structured analysis before the agent acts.
// Only cancellation is returned as an error; every other failure is
// reported in the result.
type ReasoningEngine interface {
	Name() string
	Reason(ctx context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error)
}
