package domain

import "time"

// TraceID uniquely identifies a trace (one per agent run or step).
type TraceID string

// SpanID uniquely identifies a span within a trace.
type SpanID string

// SpanKind classifies the type of operation a span represents.
type SpanKind string

const (
	SpanKindRun       SpanKind = "run"       // Top-level run or step invocation
	SpanKindTurn      SpanKind = "turn"      // One orchestrator turn
	SpanKindLLM       SpanKind = "llm"       // Model call
	SpanKindTool      SpanKind = "tool"      // Tool execution
	SpanKindReasoning SpanKind = "reasoning" // Reasoning engine pass
)

// SpanStatus indicates completion state of a span.
type SpanStatus string

const (
	SpanStatusRunning   SpanStatus = "running"
	SpanStatusOK        SpanStatus = "ok"
	SpanStatusError     SpanStatus = "error"
	SpanStatusCancelled SpanStatus = "cancelled"
)

// Span represents a single unit of work within a trace.
// Spans form a tree: a run span contains turn spans, which contain llm and tool spans.
type Span struct {
	ID         SpanID            `json:"id"`
	ParentID   SpanID            `json:"parent_id,omitempty"` // empty = root
	TraceID    TraceID           `json:"trace_id"`
	Name       string            `json:"name"`
	Kind       SpanKind          `json:"kind"`
	Status     SpanStatus        `json:"status"`
	Input      string            `json:"input,omitempty"`  // truncated input
	Output     string            `json:"output,omitempty"` // truncated output
	Error      string            `json:"error,omitempty"`
	Model      string            `json:"model,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Children   []SpanID          `json:"children,omitempty"`
}

// Trace groups all spans of a single run.
type Trace struct {
	ID         TraceID    `json:"id"`
	RootSpanID SpanID     `json:"root_span_id"`
	Name       string     `json:"name"`
	AgentID    AgentID    `json:"agent_id,omitempty"`
	Status     SpanStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	SpanCount  int        `json:"span_count"`
	Spans      []Span     `json:"spans,omitempty"` // populated only on detail view
}

// TraceSummary is a lightweight view for listing traces.
type TraceSummary struct {
	ID         TraceID    `json:"id"`
	Name       string     `json:"name"`
	AgentID    AgentID    `json:"agent_id,omitempty"`
	Status     SpanStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	DurationMs int64      `json:"duration_ms"`
	SpanCount  int        `json:"span_count"`
}

// MetricsSnapshot is a point-in-time copy of the orchestrator counters.
type MetricsSnapshot struct {
	DedupHits           int64            `json:"dedup_hits"`
	DedupMisses         int64            `json:"dedup_misses"`
	LoopsDetected       int64            `json:"loops_detected"`
	LoopsDetectedByTool map[string]int64 `json:"loops_detected_by_tool,omitempty"`
	ValidationsOK       int64            `json:"validations_ok"`
	ValidationsFailed   int64            `json:"validations_failed"`
	ReasoningRuns       map[string]int64 `json:"reasoning_runs"`
	ReasoningMeanMs     float64          `json:"reasoning_mean_ms"`
	ReasoningMeanConf   float64          `json:"reasoning_mean_confidence"`
}
