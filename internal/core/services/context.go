package services

import (
	"context"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// Use a private type for context keys to avoid collisions
type serviceContextKey string

const (
	ctxKeyAgentID serviceContextKey = "agent_id"
	ctxKeyTurn    serviceContextKey = "turn"
)

// ContextWithAgent injects the AgentID into the context
func ContextWithAgent(ctx context.Context, id domain.AgentID) context.Context {
	return context.WithValue(ctx, ctxKeyAgentID, id)
}

// AgentFromContext retrieves the AgentID from the context
func AgentFromContext(ctx context.Context) (domain.AgentID, bool) {
	id, ok := ctx.Value(ctxKeyAgentID).(domain.AgentID)
	return id, ok
}

// ContextWithTurn records the index of the turn a tool runs in
func ContextWithTurn(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, ctxKeyTurn, index)
}

// TurnFromContext retrieves the turn index from the context
func TurnFromContext(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(ctxKeyTurn).(int)
	return idx, ok
}
