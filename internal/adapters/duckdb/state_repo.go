package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// Load returns the stored state for id, or domain.ErrAgentNotFound.
func (r *Repository) Load(ctx context.Context, id domain.AgentID) (*domain.AgentState, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT state FROM agent_states WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", id, err)
	}

	var state domain.AgentState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent %s: %w", id, err)
	}
	if state.ReasoningMeta == nil {
		state.ReasoningMeta = map[string]string{}
	}
	return &state, nil
}

// Save upserts the whole agent state. Turns are append-only in memory, so
// rewriting the document never loses history.
func (r *Repository) Save(ctx context.Context, state *domain.AgentState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal agent %s: %w", state.ID, err)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_states (id, goal, turn_count, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			goal       = excluded.goal,
			turn_count = excluded.turn_count,
			state      = excluded.state,
			updated_at = excluded.updated_at`,
		string(state.ID), state.Goal, len(state.Turns), string(raw), updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", state.ID, err)
	}
	return nil
}

// ListAgents returns stored agents, most recently updated first.
func (r *Repository) ListAgents(ctx context.Context, limit int) ([]domain.AgentSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, goal, turn_count, updated_at
		FROM agent_states
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	out := []domain.AgentSummary{}
	for rows.Next() {
		var s domain.AgentSummary
		var id string
		if err := rows.Scan(&id, &s.Goal, &s.TurnCount, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.ID = domain.AgentID(id)
		out = append(out, s)
	}
	return out, rows.Err()
}
