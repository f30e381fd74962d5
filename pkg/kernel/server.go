package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/ports"
	"github.com/manthysbr/agentcore/internal/core/services"
)

// AgentRunner executes runs and single steps for an agent.
type AgentRunner interface {
	Run(ctx context.Context, req services.RunRequest) (*services.RunResult, error)
	Step(ctx context.Context, id domain.AgentID, goal string, tools *domain.ToolRegistry) (*services.StepOutcome, error)
}

// AgentStore reads persisted agents.
type AgentStore interface {
	Load(ctx context.Context, id domain.AgentID) (*domain.AgentState, error)
	ports.AgentLister
}

// TraceHistory reads traces that already left the collector's ring buffer.
type TraceHistory interface {
	ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
	GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error)
}

type Server struct {
	logger   *slog.Logger
	runner   AgentRunner
	agents   AgentStore
	tools    *domain.ToolRegistry
	eventBus *services.EventBus
	tracer   *services.TraceCollector
	history  TraceHistory // optional
	cfg      *domain.AppConfig
}

func NewServer(
	logger *slog.Logger,
	runner AgentRunner,
	agents AgentStore,
	tools *domain.ToolRegistry,
	eventBus *services.EventBus,
	tracer *services.TraceCollector,
	history TraceHistory,
	cfg *domain.AppConfig,
) *Server {
	if tools == nil {
		tools = domain.NewToolRegistry()
	}
	return &Server{
		logger:   logger,
		runner:   runner,
		agents:   agents,
		tools:    tools,
		eventBus: eventBus,
		tracer:   tracer,
		history:  history,
		cfg:      cfg,
	}
}

// Handler returns the http.Handler serving the kernel API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Agents
	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("POST /v1/agents/{id}/run", s.handleRunAgent)
	mux.HandleFunc("POST /v1/agents/{id}/step", s.handleStepAgent)
	mux.HandleFunc("GET /v1/agents/{id}/events", s.handleAgentSSE)

	// Tracing
	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)

	// System
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// pathID binds the {id} path segment.
func pathID(r *http.Request, dest interface{}) error {
	return runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), dest, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
}

// queryLimit binds ?limit=, falling back to def and clamping to max.
func queryLimit(r *http.Request, def, max int) (int, error) {
	limit := def
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAgentNotFound), errors.Is(err, domain.ErrTraceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAgentBusy):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrEmptyGoal), errors.Is(err, domain.ErrUnknownTool):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}
