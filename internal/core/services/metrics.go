package services

import (
	"sync"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// counters backs the MetricsSink side of TraceCollector. It has its own
// lock so metric calls never contend with span bookkeeping.
type counters struct {
	mu              sync.Mutex
	dedupHits       int64
	dedupMisses     int64
	loops           int64
	loopsByTool     map[string]int64
	validationsOK   int64
	validationsFail int64
	reasoningRuns   map[string]int64
	reasoningTotal  int64
	reasoningDur    time.Duration
	reasoningConf   float64
}

func newCounters() *counters {
	return &counters{
		loopsByTool:   make(map[string]int64),
		reasoningRuns: make(map[string]int64),
	}
}

// RecordReasoning counts one reasoning pass.
func (tc *TraceCollector) RecordReasoning(engine string, duration time.Duration, confidence float64, success bool) error {
	m := tc.metrics
	m.mu.Lock()
	m.reasoningRuns[engine]++
	m.reasoningTotal++
	m.reasoningDur += duration
	m.reasoningConf += domain.Clamp01(confidence)
	m.mu.Unlock()

	tc.logger.Debug("reasoning recorded", "engine", engine, "duration_ms", duration.Milliseconds(), "confidence", confidence, "success", success)
	return nil
}

// RecordDedup counts a dedup lookup.
func (tc *TraceCollector) RecordDedup(tool string, hit bool) error {
	m := tc.metrics
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.dedupHits++
	} else {
		m.dedupMisses++
	}
	return nil
}

// RecordLoopDetected counts a loop-breaker firing.
func (tc *TraceCollector) RecordLoopDetected(agentID domain.AgentID, tool string, shape string) error {
	m := tc.metrics
	m.mu.Lock()
	m.loops++
	m.loopsByTool[tool]++
	m.mu.Unlock()

	tc.logger.Warn("loop detected", "agent_id", string(agentID), "tool", tool, "shape", shape)
	return nil
}

// RecordValidation counts a tool argument validation.
func (tc *TraceCollector) RecordValidation(tool string, ok bool) error {
	m := tc.metrics
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.validationsOK++
	} else {
		m.validationsFail++
	}
	return nil
}

// Metrics returns a copy of the counters.
func (tc *TraceCollector) Metrics() domain.MetricsSnapshot {
	m := tc.metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.MetricsSnapshot{
		DedupHits:           m.dedupHits,
		DedupMisses:         m.dedupMisses,
		LoopsDetected:       m.loops,
		LoopsDetectedByTool: make(map[string]int64, len(m.loopsByTool)),
		ValidationsOK:       m.validationsOK,
		ValidationsFailed:   m.validationsFail,
		ReasoningRuns:       make(map[string]int64, len(m.reasoningRuns)),
	}
	for k, v := range m.loopsByTool {
		snap.LoopsDetectedByTool[k] = v
	}
	for k, v := range m.reasoningRuns {
		snap.ReasoningRuns[k] = v
	}
	if m.reasoningTotal > 0 {
		snap.ReasoningMeanMs = float64(m.reasoningDur.Milliseconds()) / float64(m.reasoningTotal)
		snap.ReasoningMeanConf = m.reasoningConf / float64(m.reasoningTotal)
	}
	return snap
}
