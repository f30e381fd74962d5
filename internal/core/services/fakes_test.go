package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// testConfig is the default config with reasoning and function calling off.
func testConfig() *domain.AppConfig {
	cfg := domain.DefaultConfig()
	cfg.Reasoning.Engine = EngineNone
	cfg.Orchestrator.UseFunctionCalling = false
	cfg.Orchestrator.ModelTimeout = 5 * time.Second
	cfg.Orchestrator.ToolTimeout = 5 * time.Second
	return cfg
}

// --- scripted model ---

type scriptedReply struct {
	chunks []domain.ModelChunk
	err    error
}

// textReply streams s in small pieces.
func textReply(s string) scriptedReply {
	var chunks []domain.ModelChunk
	for len(s) > 0 {
		n := min(7, len(s))
		chunks = append(chunks, domain.ModelChunk{Content: s[:n]})
		s = s[n:]
	}
	chunks = append(chunks, domain.ModelChunk{IsFinal: true, FinishReason: "stop", Usage: &domain.Usage{InputTokens: 10, OutputTokens: 5}})
	return scriptedReply{chunks: chunks}
}

// callReply streams one function call with its arguments split in two.
func callReply(id, name, args string) scriptedReply {
	half := len(args) / 2
	return scriptedReply{chunks: []domain.ModelChunk{
		{FunctionCall: &domain.FunctionCallDelta{Index: 0, ID: id, Name: name, ArgsJSON: args[:half]}},
		{FunctionCall: &domain.FunctionCallDelta{Index: 0, ArgsJSON: args[half:]}},
		{IsFinal: true, FinishReason: "tool_calls"},
	}}
}

func errReply(err error) scriptedReply {
	return scriptedReply{err: err}
}

type fakeModel struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []domain.ModelRequest
}

func newFakeModel(replies ...scriptedReply) *fakeModel {
	return &fakeModel{replies: replies}
}

func (m *fakeModel) Stream(ctx context.Context, req domain.ModelRequest) (<-chan domain.ModelChunk, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return nil, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	m.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	ch := make(chan domain.ModelChunk)
	go func() {
		defer close(ch)
		for _, c := range r.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (m *fakeModel) Requests() []domain.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ModelRequest(nil), m.requests...)
}

// --- in-memory store; states round-trip through JSON like a real store ---

type memStore struct {
	mu     sync.Mutex
	states map[domain.AgentID][]byte
}

func newMemStore() *memStore {
	return &memStore{states: make(map[domain.AgentID][]byte)}
}

func (s *memStore) Load(ctx context.Context, id domain.AgentID) (*domain.AgentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.states[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	var st domain.AgentState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *memStore) Save(ctx context.Context, state *domain.AgentState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = raw
	return nil
}

// --- metrics ---

type recordingMetrics struct {
	mu          sync.Mutex
	dedupHits   int
	dedupMisses int
	loops       []string
	validations map[bool]int
	reasoning   []string
	panicOn     string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{validations: map[bool]int{}}
}

func (m *recordingMetrics) RecordReasoning(engine string, d time.Duration, confidence float64, success bool) error {
	if m.panicOn == "reasoning" {
		panic("boom")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasoning = append(m.reasoning, engine)
	return nil
}

func (m *recordingMetrics) RecordDedup(tool string, hit bool) error {
	if m.panicOn == "dedup" {
		panic("boom")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.dedupHits++
	} else {
		m.dedupMisses++
	}
	return nil
}

func (m *recordingMetrics) RecordLoopDetected(agentID domain.AgentID, tool, shape string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loops = append(m.loops, tool)
	return nil
}

func (m *recordingMetrics) RecordValidation(tool string, ok bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations[ok]++
	return errors.New("sink unavailable")
}

// --- tools ---

type weatherTool struct {
	calls atomic.Int32
	fail  bool
}

func (w *weatherTool) tool() *domain.Tool {
	return &domain.Tool{
		Name:        "get_weather",
		Description: "Returns the forecast for a city",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"city": map[string]interface{}{"type": "string"},
			},
			Required: []string{"city"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			w.calls.Add(1)
			if w.fail {
				return nil, fmt.Errorf("weather service unavailable")
			}
			return map[string]interface{}{"city": params["city"], "forecast": "sunny"}, nil
		},
	}
}

func registry(tools ...*domain.Tool) *domain.ToolRegistry {
	reg := domain.NewToolRegistry()
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			panic(err)
		}
	}
	return reg
}

// --- reasoning ---

type fakeEngine struct {
	name   string
	result *domain.ReasoningResult
	err    error
	calls  int
	reqs   []domain.ReasoningRequest
	after  func() // runs once the result is ready
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) Reason(ctx context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error) {
	e.calls++
	e.reqs = append(e.reqs, req)
	if e.err != nil {
		return nil, e.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cp := *e.result
	if e.after != nil {
		e.after()
	}
	return &cp, nil
}
