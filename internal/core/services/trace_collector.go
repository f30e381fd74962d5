package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/agentcore/internal/core/domain"
)

const (
	maxTraces      = 500  // traces kept in memory
	maxInputOutput = 2000 // bytes of span input/output kept
	persistTimeout = 10 * time.Second
)

// Trace lifecycle events, published on topic "trace:<id>".
const (
	EventTypeTraceStart EventType = "trace_start"
	EventTypeTraceEnd   EventType = "trace_end"
	EventTypeSpanStart  EventType = "span_start"
	EventTypeSpanEnd    EventType = "span_end"
)

// TraceRepository stores completed traces.
type TraceRepository interface {
	SaveTrace(ctx context.Context, trace *domain.Trace) error
}

type traceEntry struct {
	trace domain.Trace
	spans []*domain.Span // creation order, root first
}

// TraceCollector records one trace per run, with model, tool, turn and
// reasoning spans beneath it, and keeps the orchestrator counters (it is
// the default ports.MetricsSink). The newest maxTraces traces stay in
// memory; finished ones go to the repository when one is set.
type TraceCollector struct {
	logger *slog.Logger
	bus    *EventBus
	repo   TraceRepository

	mu      sync.RWMutex
	order   []domain.TraceID // oldest first
	entries map[domain.TraceID]*traceEntry
	spans   map[domain.SpanID]*domain.Span

	metrics *counters
}

// NewTraceCollector creates a collector. bus and repo may be nil.
func NewTraceCollector(logger *slog.Logger, bus *EventBus, repo TraceRepository) *TraceCollector {
	return &TraceCollector{
		logger:  logger,
		bus:     bus,
		repo:    repo,
		order:   make([]domain.TraceID, 0, maxTraces),
		entries: make(map[domain.TraceID]*traceEntry, maxTraces),
		spans:   make(map[domain.SpanID]*domain.Span),
		metrics: newCounters(),
	}
}

type traceCtxKey struct{}
type spanCtxKey struct{}

// ContextWithTrace makes spanID the parent of spans started from ctx.
func ContextWithTrace(ctx context.Context, traceID domain.TraceID, spanID domain.SpanID) context.Context {
	ctx = context.WithValue(ctx, traceCtxKey{}, traceID)
	return context.WithValue(ctx, spanCtxKey{}, spanID)
}

// TraceFromContext returns the trace and current span carried by ctx.
func TraceFromContext(ctx context.Context) (domain.TraceID, domain.SpanID, bool) {
	traceID, ok := ctx.Value(traceCtxKey{}).(domain.TraceID)
	if !ok {
		return "", "", false
	}
	spanID, ok := ctx.Value(spanCtxKey{}).(domain.SpanID)
	return traceID, spanID, ok
}

// StartTrace opens a trace and its root span.
func (tc *TraceCollector) StartTrace(ctx context.Context, name string, attrs map[string]string) (context.Context, domain.TraceID, domain.SpanID) {
	now := time.Now()
	traceID := domain.TraceID(uuid.NewString())
	root := &domain.Span{
		ID:         domain.SpanID(uuid.NewString()),
		TraceID:    traceID,
		Name:       name,
		Kind:       domain.SpanKindRun,
		Status:     domain.SpanStatusRunning,
		Attributes: attrs,
		StartTime:  now,
	}
	entry := &traceEntry{
		trace: domain.Trace{
			ID:         traceID,
			RootSpanID: root.ID,
			Name:       name,
			Status:     domain.SpanStatusRunning,
			StartTime:  now,
			SpanCount:  1,
		},
		spans: []*domain.Span{root},
	}

	tc.mu.Lock()
	if len(tc.order) >= maxTraces {
		tc.dropLocked(tc.order[0])
	}
	tc.order = append(tc.order, traceID)
	tc.entries[traceID] = entry
	tc.spans[root.ID] = root
	tc.mu.Unlock()

	tc.publish(traceID, EventTypeTraceStart, map[string]interface{}{
		"trace_id": traceID,
		"name":     name,
	})
	tc.logger.Debug("trace started", "trace_id", string(traceID), "name", name)

	return ContextWithTrace(ctx, traceID, root.ID), traceID, root.ID
}

// EndTrace closes the trace and its root span, then hands a copy to the
// repository in the background.
func (tc *TraceCollector) EndTrace(traceID domain.TraceID, status domain.SpanStatus, errMsg string) {
	tc.mu.Lock()
	entry, ok := tc.entries[traceID]
	if !ok {
		tc.mu.Unlock()
		return
	}

	now := time.Now()
	entry.trace.Status = status
	entry.trace.EndTime = &now
	entry.trace.DurationMs = now.Sub(entry.trace.StartTime).Milliseconds()
	finishSpan(entry.spans[0], status, now, errMsg)

	var snapshot *domain.Trace
	if tc.repo != nil {
		snapshot = entry.snapshot()
	}
	duration := entry.trace.DurationMs
	tc.mu.Unlock()

	tc.publish(traceID, EventTypeTraceEnd, map[string]interface{}{
		"trace_id":    traceID,
		"status":      status,
		"duration_ms": duration,
	})

	if snapshot != nil {
		go tc.persist(snapshot)
	}
}

func (tc *TraceCollector) persist(trace *domain.Trace) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := tc.repo.SaveTrace(ctx, trace); err != nil {
		tc.logger.Warn("failed to persist trace", "trace_id", string(trace.ID), "error", err)
	}
}

// StartSpan opens a child of the span carried by ctx. Without a trace in
// ctx it returns ctx unchanged and an empty id, which the other span
// methods ignore.
func (tc *TraceCollector) StartSpan(ctx context.Context, name string, kind domain.SpanKind, attrs map[string]string) (context.Context, domain.SpanID) {
	traceID, parentID, ok := TraceFromContext(ctx)
	if !ok {
		return ctx, ""
	}

	span := &domain.Span{
		ID:         domain.SpanID(uuid.NewString()),
		ParentID:   parentID,
		TraceID:    traceID,
		Name:       name,
		Kind:       kind,
		Status:     domain.SpanStatusRunning,
		Attributes: attrs,
		StartTime:  time.Now(),
	}

	tc.mu.Lock()
	entry, live := tc.entries[traceID]
	if live {
		tc.spans[span.ID] = span
		entry.spans = append(entry.spans, span)
		entry.trace.SpanCount++
		if parent, ok := tc.spans[parentID]; ok {
			parent.Children = append(parent.Children, span.ID)
		}
	}
	tc.mu.Unlock()

	if live {
		tc.publish(traceID, EventTypeSpanStart, map[string]interface{}{
			"span_id":   span.ID,
			"parent_id": parentID,
			"name":      name,
			"kind":      kind,
		})
	}
	return ContextWithTrace(ctx, traceID, span.ID), span.ID
}

// EndSpan records the span's outcome.
func (tc *TraceCollector) EndSpan(spanID domain.SpanID, status domain.SpanStatus, output string, errMsg string) {
	var event map[string]interface{}
	var traceID domain.TraceID

	tc.withSpan(spanID, func(span *domain.Span) {
		span.Output = truncate(output, maxInputOutput)
		finishSpan(span, status, time.Now(), errMsg)
		traceID = span.TraceID
		event = map[string]interface{}{
			"span_id":     span.ID,
			"name":        span.Name,
			"kind":        span.Kind,
			"status":      status,
			"duration_ms": span.DurationMs,
		}
	})
	if event != nil {
		tc.publish(traceID, EventTypeSpanEnd, event)
	}
}

// SetSpanInput attaches the (truncated) input of a span.
func (tc *TraceCollector) SetSpanInput(spanID domain.SpanID, input string) {
	tc.withSpan(spanID, func(span *domain.Span) { span.Input = truncate(input, maxInputOutput) })
}

// SetSpanModel records which model served an LLM span.
func (tc *TraceCollector) SetSpanModel(spanID domain.SpanID, model string) {
	tc.withSpan(spanID, func(span *domain.Span) { span.Model = model })
}

// SetTraceAgent tags the trace with the agent it ran for.
func (tc *TraceCollector) SetTraceAgent(traceID domain.TraceID, agentID domain.AgentID) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if entry, ok := tc.entries[traceID]; ok {
		entry.trace.AgentID = agentID
	}
}

// ListTraces returns up to limit summaries, newest first. limit <= 0
// returns everything held in memory.
func (tc *TraceCollector) ListTraces(limit int) []domain.TraceSummary {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if limit <= 0 || limit > len(tc.order) {
		limit = len(tc.order)
	}
	out := make([]domain.TraceSummary, 0, limit)
	for i := len(tc.order) - 1; i >= 0 && len(out) < limit; i-- {
		t := tc.entries[tc.order[i]].trace
		out = append(out, domain.TraceSummary{
			ID:         t.ID,
			Name:       t.Name,
			AgentID:    t.AgentID,
			Status:     t.Status,
			StartTime:  t.StartTime,
			DurationMs: t.DurationMs,
			SpanCount:  t.SpanCount,
		})
	}
	return out
}

// GetTrace returns a copy of the trace with all its spans.
func (tc *TraceCollector) GetTrace(traceID domain.TraceID) (*domain.Trace, error) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	entry, ok := tc.entries[traceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, traceID)
	}
	return entry.snapshot(), nil
}

func (tc *TraceCollector) withSpan(spanID domain.SpanID, fn func(*domain.Span)) {
	if spanID == "" {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if span, ok := tc.spans[spanID]; ok {
		fn(span)
	}
}

// dropLocked forgets a trace and its spans. Caller holds tc.mu.
func (tc *TraceCollector) dropLocked(traceID domain.TraceID) {
	if entry, ok := tc.entries[traceID]; ok {
		for _, s := range entry.spans {
			delete(tc.spans, s.ID)
		}
		delete(tc.entries, traceID)
	}
	for i, id := range tc.order {
		if id == traceID {
			tc.order = append(tc.order[:i], tc.order[i+1:]...)
			break
		}
	}
}

func (tc *TraceCollector) publish(traceID domain.TraceID, typ EventType, data map[string]interface{}) {
	if tc.bus == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		tc.logger.Warn("failed to encode trace event", "trace_id", string(traceID), "error", err)
		return
	}
	tc.bus.Publish(Event{
		Topic:     "trace:" + string(traceID),
		Type:      typ,
		Data:      string(payload),
		Timestamp: time.Now().UnixMilli(),
	})
}

// snapshot deep-copies the trace and its spans. Caller holds tc.mu.
func (e *traceEntry) snapshot() *domain.Trace {
	out := e.trace
	out.Spans = make([]domain.Span, 0, len(e.spans))
	for _, s := range e.spans {
		cp := *s
		cp.Children = append([]domain.SpanID(nil), s.Children...)
		out.Spans = append(out.Spans, cp)
	}
	return &out
}

func finishSpan(span *domain.Span, status domain.SpanStatus, at time.Time, errMsg string) {
	span.Status = status
	span.EndTime = &at
	span.DurationMs = at.Sub(span.StartTime).Milliseconds()
	if errMsg != "" {
		span.Error = errMsg
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
