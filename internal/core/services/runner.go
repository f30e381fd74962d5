package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manthysbr/agentcore/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// Runner bounds how many runs execute at once and keeps each agent to a
// single run at a time.
type Runner struct {
	logger    *slog.Logger
	orch      *Orchestrator
	semaphore *semaphore.Weighted

	mu   sync.Mutex
	busy map[domain.AgentID]struct{}
}

// NewRunner creates a runner. Default to 10 concurrent runs if not set.
func NewRunner(logger *slog.Logger, orch *Orchestrator, cfg domain.RunnerConfig) *Runner {
	limit := cfg.MaxConcurrentRuns
	if limit <= 0 {
		limit = 10
	}
	return &Runner{
		logger:    logger,
		orch:      orch,
		semaphore: semaphore.NewWeighted(limit),
		busy:      make(map[domain.AgentID]struct{}),
	}
}

// Run executes req once a slot is free. A second concurrent run of the same
// agent fails fast with domain.ErrAgentBusy.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	release, err := r.claim(req.AgentID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := r.semaphore.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire run slot: %w", err)
	}
	defer r.semaphore.Release(1)

	return r.orch.Run(ctx, req)
}

// Step runs a single turn for a stored agent, holding the same per-agent
// claim as Run.
func (r *Runner) Step(ctx context.Context, id domain.AgentID, goal string, tools *domain.ToolRegistry) (*StepOutcome, error) {
	release, err := r.claim(id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := r.semaphore.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire run slot: %w", err)
	}
	defer r.semaphore.Release(1)

	return r.orch.StepAgent(ctx, id, goal, tools)
}

// Busy reports whether the agent has a run in flight.
func (r *Runner) Busy(id domain.AgentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.busy[id]
	return ok
}

func (r *Runner) claim(id domain.AgentID) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.busy[id]; ok {
		r.logger.Warn("rejecting concurrent run", "agent_id", string(id))
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentBusy, id)
	}
	r.busy[id] = struct{}{}
	return func() {
		r.mu.Lock()
		delete(r.busy, id)
		r.mu.Unlock()
	}, nil
}
