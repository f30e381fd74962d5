package services

import (
	"sync"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// LoopSignal describes the failure streaks after recording a call.
type LoopSignal struct {
	// SameToolFailures counts trailing failures of the tool, any params.
	SameToolFailures int
	// ShapeFailures counts trailing failures of the tool with the same
	// parameter shape.
	ShapeFailures int
	// Escalate is set once SameToolFailures reaches the same-tool threshold.
	Escalate bool
	// LoopBreaker is set when ShapeFailures reaches the consecutive failure
	// threshold. The agent's history is cleared when this fires.
	LoopBreaker bool
}

type callRecord struct {
	tool    string
	shape   string
	success bool
	at      time.Time
}

// LoopDetector keeps a short in-memory history of calls per agent. It is a
// safety net, not state: nothing survives a restart.
type LoopDetector struct {
	mu      sync.Mutex
	cfg     domain.LoopConfig
	history map[domain.AgentID][]callRecord
}

// NewLoopDetector creates a detector with the given thresholds. The history
// window is widened to the largest threshold when it is shorter.
func NewLoopDetector(cfg domain.LoopConfig) *LoopDetector {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	if cfg.SameToolThreshold <= 0 {
		cfg.SameToolThreshold = 3
	}
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = 3
	}
	// streaks are counted inside the window, so it must hold the longest one
	cfg.HistorySize = max(cfg.HistorySize, cfg.SameToolThreshold, cfg.ConsecutiveFailureThreshold)
	return &LoopDetector{
		cfg:     cfg,
		history: make(map[domain.AgentID][]callRecord),
	}
}

// Record appends a call outcome and returns the resulting streaks.
func (d *LoopDetector) Record(agentID domain.AgentID, tool, shape string, success bool) LoopSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := append(d.history[agentID], callRecord{tool: tool, shape: shape, success: success, at: time.Now()})
	if len(h) > d.cfg.HistorySize {
		h = h[len(h)-d.cfg.HistorySize:]
	}
	d.history[agentID] = h

	var sig LoopSignal
	if success {
		return sig
	}

	// trailing failures of this tool; another tool failing in between does
	// not break the streak, a success of this tool does
	sameShape := true
	for i := len(h) - 1; i >= 0; i-- {
		rec := h[i]
		if rec.tool != tool {
			continue
		}
		if rec.success {
			break
		}
		sig.SameToolFailures++
		if sameShape && rec.shape == shape {
			sig.ShapeFailures++
		} else {
			sameShape = false
		}
	}

	sig.Escalate = sig.SameToolFailures >= d.cfg.SameToolThreshold
	if sig.ShapeFailures >= d.cfg.ConsecutiveFailureThreshold {
		sig.LoopBreaker = true
		delete(d.history, agentID)
	}
	return sig
}

// Reset forgets an agent's history.
func (d *LoopDetector) Reset(agentID domain.AgentID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, agentID)
}

// Len returns how many calls are remembered for an agent.
func (d *LoopDetector) Len(agentID domain.AgentID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history[agentID])
}
