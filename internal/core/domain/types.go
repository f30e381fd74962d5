package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AgentID identifies an agent across runs
type AgentID string

// TurnSource says who produced a turn
type TurnSource string

const (
	TurnSourceModel      TurnSource = "model"
	TurnSourceController TurnSource = "controller" // corrective hints injected by the orchestrator
)

var (
	ErrAgentNotFound        = errors.New("agent not found")
	ErrAgentBusy            = errors.New("agent already running")
	ErrTurnBudgetExhausted  = errors.New("turn budget exhausted")
	ErrEmptyGoal            = errors.New("goal cannot be empty")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrInvalidArguments     = errors.New("invalid tool arguments")
	ErrNoDecision           = errors.New("model returned no usable decision")
	ErrChainClosed          = errors.New("reasoning chain already completed")
	ErrTreeFull             = errors.New("reasoning tree at node capacity")
	ErrMaxDepth             = errors.New("reasoning node at maximum depth")
	ErrNodeNotFound         = errors.New("thought node not found")
	ErrNodePruned           = errors.New("thought node is pruned")
	ErrUnknownReasoningType = errors.New("unknown reasoning engine")
	ErrTraceNotFound        = errors.New("trace not found")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// AgentState is everything the orchestrator knows about one agent. It is
// owned by a single run at a time and persisted between runs.
type AgentState struct {
	ID            AgentID           `json:"id"`
	Goal          string            `json:"goal"`
	Turns         []Turn            `json:"turns"`
	ActiveChain   *ReasoningChain   `json:"active_chain,omitempty"`
	ActiveTree    *ReasoningTree    `json:"active_tree,omitempty"`
	ReasoningMeta map[string]string `json:"reasoning_meta,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewAgentState starts an empty history for goal.
func NewAgentState(id AgentID, goal string) *AgentState {
	return &AgentState{
		ID:            id,
		Goal:          goal,
		Turns:         []Turn{},
		ReasoningMeta: map[string]string{},
		UpdatedAt:     time.Now(),
	}
}

// NextIndex is the index the next appended turn receives.
func (s *AgentState) NextIndex() int {
	return len(s.Turns)
}

// LastTurn returns the most recent turn, if any.
func (s *AgentState) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Append stamps the turn with the next dense index and records it.
// Turns are never modified after this call.
func (s *AgentState) Append(t Turn) Turn {
	t.Index = s.NextIndex()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = t.CreatedAt
	return t
}

// LastResult returns the result of the newest turn that executed tools.
// For multi-call turns the last failing result wins so callers see failure.
func (s *AgentState) LastResult() (*ToolResult, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		t := s.Turns[i]
		if t.Result != nil {
			return t.Result, true
		}
		if len(t.Results) > 0 {
			last := t.Results[len(t.Results)-1]
			for j := range t.Results {
				if !t.Results[j].Success {
					last = t.Results[j]
				}
			}
			return &last, true
		}
	}
	return nil, false
}

// ModelTurns counts turns produced by the model; controller turns are free.
func (s *AgentState) ModelTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Source == TurnSourceModel {
			n++
		}
	}
	return n
}

// AgentSummary is a lightweight view for listing stored agents.
type AgentSummary struct {
	ID        AgentID   `json:"id"`
	Goal      string    `json:"goal"`
	TurnCount int       `json:"turn_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one immutable entry in an agent's history. Exactly one of the
// single (ToolCall/Result) or multi (ToolCalls/Results) families is set,
// depending on the decision's action.
type Turn struct {
	Index       int          `json:"index"`
	ID          string       `json:"id"`
	Source      TurnSource   `json:"source"`
	Decision    Decision     `json:"decision"`
	ToolCall    *ToolCall    `json:"tool_call,omitempty"`
	Result      *ToolResult  `json:"result,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	Results     []ToolResult `json:"results,omitempty"`
	LoopBreaker bool         `json:"loop_breaker,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Failed reports whether any tool executed in this turn failed.
func (t Turn) Failed() bool {
	if t.Result != nil && !t.Result.Success {
		return true
	}
	for _, r := range t.Results {
		if !r.Success {
			return true
		}
	}
	return false
}

// ToolResult is the outcome of one tool execution. ID is the canonical
// hash of (Tool, Params) so identical calls share an identity.
type ToolResult struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params,omitempty"`
	Success   bool           `json:"success"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	CreatedAt time.Time      `json:"created_at"`
}

// FreshAt reports whether the result can still be reused at now.
func (r ToolResult) FreshAt(now time.Time, window time.Duration) bool {
	return r.Success && now.Sub(r.CreatedAt) < window
}
