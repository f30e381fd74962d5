package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/services"
)

type runAgentRequest struct {
	Goal     string   `json:"goal"`
	MaxTurns int      `json:"max_turns,omitempty"`
	Tools    []string `json:"tools,omitempty"`
}

type stepAgentRequest struct {
	Goal  string   `json:"goal,omitempty"`
	Tools []string `json:"tools,omitempty"`
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// toolsFor narrows the registry to names. No names means every tool.
func (s *Server) toolsFor(names []string) (*domain.ToolRegistry, error) {
	if len(names) == 0 {
		return s.tools, nil
	}
	for _, n := range names {
		if _, ok := s.tools.GetTool(n); !ok {
			return nil, &domain.UnknownToolError{Name: n, Suggestion: s.tools.Suggest(n)}
		}
	}
	return s.tools.FilterByNames(names), nil
}

// handleRunAgent runs an agent until it answers or its budget runs out.
// POST /v1/agents/{id}/run
func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	var id domain.AgentID
	if err := pathID(r, &id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req runAgentRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MaxTurns < 0 {
		http.Error(w, "max_turns must not be negative", http.StatusBadRequest)
		return
	}
	tools, err := s.toolsFor(req.Tools)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.runner.Run(r.Context(), services.RunRequest{
		AgentID:  id,
		Goal:     req.Goal,
		Tools:    tools,
		MaxTurns: req.MaxTurns,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStepAgent runs exactly one model turn.
// POST /v1/agents/{id}/step
func (s *Server) handleStepAgent(w http.ResponseWriter, r *http.Request) {
	var id domain.AgentID
	if err := pathID(r, &id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req stepAgentRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tools, err := s.toolsFor(req.Tools)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out, err := s.runner.Step(r.Context(), id, req.Goal, tools)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetAgent returns the persisted state.
// GET /v1/agents/{id}
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	var id domain.AgentID
	if err := pathID(r, &id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := s.agents.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleListAgents returns stored agents, most recently updated first.
// GET /v1/agents?limit=50
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	agents, err := s.agents.ListAgents(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if agents == nil {
		agents = []domain.AgentSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

// handleAgentSSE streams the agent's bus events (status, thoughts).
// GET /v1/agents/{id}/events
func (s *Server) handleAgentSSE(w http.ResponseWriter, r *http.Request) {
	var id domain.AgentID
	if err := pathID(r, &id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss the next event.
	ch, unsub := s.eventBus.Subscribe(string(id))
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, string(evt.Type), evt.Data)
			flusher.Flush()
		}
	}
}

// writeSSE frames one event. Multi-line payloads (streamed thoughts) become
// several data lines.
func writeSSE(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
