package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/services"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req services.RunRequest) (*services.RunResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*services.RunResult)
	return res, args.Error(1)
}

func (m *MockRunner) Step(ctx context.Context, id domain.AgentID, goal string, tools *domain.ToolRegistry) (*services.StepOutcome, error) {
	args := m.Called(ctx, id, goal, tools)
	out, _ := args.Get(0).(*services.StepOutcome)
	return out, args.Error(1)
}

type memAgents struct {
	states    map[domain.AgentID]*domain.AgentState
	lastLimit int
}

func (m *memAgents) Load(_ context.Context, id domain.AgentID) (*domain.AgentState, error) {
	s, ok := m.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return s, nil
}

func (m *memAgents) ListAgents(_ context.Context, limit int) ([]domain.AgentSummary, error) {
	m.lastLimit = limit
	var out []domain.AgentSummary
	for _, s := range m.states {
		out = append(out, domain.AgentSummary{ID: s.ID, Goal: s.Goal, TurnCount: len(s.Turns), UpdatedAt: s.UpdatedAt})
	}
	return out, nil
}

type memHistory struct {
	traces map[domain.TraceID]*domain.Trace
}

func (h *memHistory) ListTraces(_ context.Context, limit int) ([]domain.TraceSummary, error) {
	var out []domain.TraceSummary
	for _, t := range h.traces {
		out = append(out, domain.TraceSummary{ID: t.ID, Name: t.Name, Status: t.Status, StartTime: t.StartTime})
	}
	return out, nil
}

func (h *memHistory) GetTrace(_ context.Context, id domain.TraceID) (*domain.Trace, error) {
	t, ok := h.traces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, id)
	}
	return t, nil
}

type testKernel struct {
	handler http.Handler
	runner  *MockRunner
	agents  *memAgents
	bus     *services.EventBus
	tracer  *services.TraceCollector
	history *memHistory
	cfg     *domain.AppConfig
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := services.NewEventBus(logger)
	tracer := services.NewTraceCollector(logger, bus, nil)

	tools := domain.NewToolRegistry()
	require.NoError(t, services.RegisterBuiltinTools(tools))

	k := &testKernel{
		runner:  new(MockRunner),
		agents:  &memAgents{states: map[domain.AgentID]*domain.AgentState{}},
		bus:     bus,
		tracer:  tracer,
		history: &memHistory{traces: map[domain.TraceID]*domain.Trace{}},
		cfg:     domain.DefaultConfig(),
	}
	k.cfg.Model.APIKey = "sk-live-abcdef1234"
	k.handler = NewServer(logger, k.runner, k.agents, tools, bus, tracer, k.history, k.cfg).Handler()
	return k
}

func (k *testKernel) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	k.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServer_RunAgent(t *testing.T) {
	k := newTestKernel(t)

	state := domain.NewAgentState("a1", "what time is it")
	k.runner.On("Run", mock.Anything, mock.MatchedBy(func(req services.RunRequest) bool {
		_, hasClock := req.Tools.GetTool("current_time")
		return req.AgentID == "a1" && req.Goal == "what time is it" && req.MaxTurns == 4 &&
			req.Tools.Len() == 1 && hasClock
	})).Return(&services.RunResult{Success: true, FinalText: "noon", State: state, Turns: 2}, nil).Once()

	w := k.do("POST", "/v1/agents/a1/run", `{"goal":"what time is it","max_turns":4,"tools":["current_time"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "noon", resp["final_text"])
	assert.EqualValues(t, 2, resp["turns"])
	k.runner.AssertExpectations(t)
}

func TestServer_RunAgent_AllToolsByDefault(t *testing.T) {
	k := newTestKernel(t)

	k.runner.On("Run", mock.Anything, mock.MatchedBy(func(req services.RunRequest) bool {
		return req.Tools.Len() == 3 && req.MaxTurns == 0
	})).Return(&services.RunResult{Error: "turn budget exhausted after 12 turns"}, nil).Once()

	w := k.do("POST", "/v1/agents/a1/run", `{"goal":"g"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
	k.runner.AssertExpectations(t)
}

func TestServer_RunAgent_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		runErr   error
		wantCode int
	}{
		{"malformed body", `{"goal":`, nil, http.StatusBadRequest},
		{"negative budget", `{"goal":"g","max_turns":-1}`, nil, http.StatusBadRequest},
		{"unknown tool", `{"goal":"g","tools":["current_tim"]}`, nil, http.StatusBadRequest},
		{"busy", `{"goal":"g"}`, domain.ErrAgentBusy, http.StatusConflict},
		{"empty goal", `{}`, domain.ErrEmptyGoal, http.StatusBadRequest},
		{"slot timeout", `{"goal":"g"}`, fmt.Errorf("acquire run slot: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"store failure", `{"goal":"g"}`, fmt.Errorf("save agent state: disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKernel(t)
			if tt.runErr != nil {
				k.runner.On("Run", mock.Anything, mock.Anything).Return(nil, tt.runErr).Once()
			}

			w := k.do("POST", "/v1/agents/a1/run", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.runErr == nil {
				k.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestServer_UnknownToolSuggestion(t *testing.T) {
	k := newTestKernel(t)
	w := k.do("POST", "/v1/agents/a1/step", `{"tools":["current_tim"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "current_time")
}

func TestServer_StepAgent(t *testing.T) {
	k := newTestKernel(t)

	k.runner.On("Step", mock.Anything, domain.AgentID("a1"), "", mock.Anything).
		Return(&services.StepOutcome{Finished: true, Answer: "done"}, nil).Once()

	w := k.do("POST", "/v1/agents/a1/step", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["finished"])
	assert.Equal(t, "done", resp["answer"])
	k.runner.AssertExpectations(t)
}

func TestServer_GetAgent(t *testing.T) {
	k := newTestKernel(t)
	k.agents.states["a1"] = domain.NewAgentState("a1", "stored goal")

	w := k.do("GET", "/v1/agents/a1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stored goal", decode(t, w)["goal"])

	w = k.do("GET", "/v1/agents/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ListAgents(t *testing.T) {
	k := newTestKernel(t)
	k.agents.states["a1"] = domain.NewAgentState("a1", "one")

	w := k.do("GET", "/v1/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
	assert.Equal(t, 50, k.agents.lastLimit)

	w = k.do("GET", "/v1/agents?limit=9000", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 500, k.agents.lastLimit)

	w = k.do("GET", "/v1/agents?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Traces(t *testing.T) {
	k := newTestKernel(t)

	_, live, _ := k.tracer.StartTrace(context.Background(), "run: live", nil)
	k.tracer.EndTrace(live, domain.SpanStatusOK, "")

	k.history.traces["old"] = &domain.Trace{ID: "old", Name: "run: old", Status: domain.SpanStatusError, StartTime: time.Now().Add(-time.Hour)}
	k.history.traces[live] = &domain.Trace{ID: live, Name: "run: live", Status: domain.SpanStatusOK}

	w := k.do("GET", "/v1/traces", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.EqualValues(t, 2, resp["count"])
	traces := resp["traces"].([]interface{})
	assert.Equal(t, string(live), traces[0].(map[string]interface{})["id"])
	assert.Equal(t, "old", traces[1].(map[string]interface{})["id"])

	w = k.do("GET", "/v1/traces?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = k.do("GET", "/v1/traces/"+string(live), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run: live", decode(t, w)["name"])

	w = k.do("GET", "/v1/traces/old", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run: old", decode(t, w)["name"])

	w = k.do("GET", "/v1/traces/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_SystemEndpoints(t *testing.T) {
	k := newTestKernel(t)

	w := k.do("GET", "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = k.do("GET", "/v1/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["count"])

	w = k.do("GET", "/v1/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-live")
	model := decode(t, w)["model"].(map[string]interface{})
	assert.Equal(t, "****1234", model["api_key"])

	require.NoError(t, k.tracer.RecordDedup("current_time", true))
	w = k.do("GET", "/v1/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["dedup_hits"])

	w = k.do("DELETE", "/v1/tools", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_AgentEvents(t *testing.T) {
	k := newTestKernel(t)
	srv := httptest.NewServer(k.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/v1/agents/a1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	k.bus.PublishStatus(services.StatusEvent{AgentID: "a1", Turn: 0, Title: "Checking clock"})
	k.bus.PublishThoughts("a1", "line one\nline two")
	k.bus.PublishStatus(services.StatusEvent{AgentID: "other", Title: "not mine"})

	reader := bufio.NewReader(resp.Body)
	readEvent := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSuffix(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	status := readEvent()
	require.Len(t, status, 2)
	assert.Equal(t, "event: status", status[0])
	assert.Contains(t, status[1], `"title":"Checking clock"`)

	thoughts := readEvent()
	assert.Equal(t, []string{"event: thoughts", "data: line one", "data: line two"}, thoughts)
}
