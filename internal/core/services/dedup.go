package services

import (
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// DedupIndex answers "did this exact call already succeed recently?".
// Identity is the result id, the canonical hash of (tool, params); result
// content plays no part, so tools with varying output must opt out through
// domain.Tool.DisableDedup.
type DedupIndex struct {
	enabled bool
	window  time.Duration
	now     func() time.Time
}

// NewDedupIndex builds a dedup index from config.
func NewDedupIndex(cfg domain.DedupConfig) *DedupIndex {
	return &DedupIndex{
		enabled: cfg.Enabled,
		window:  cfg.StaleAfter,
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (d *DedupIndex) WithClock(now func() time.Time) *DedupIndex {
	d.now = now
	return d
}

// Now reads the index clock. Result timestamps come from it so freshness
// is judged on one time line.
func (d *DedupIndex) Now() time.Time {
	return d.now()
}

// Applies reports whether tool takes part in deduplication at all.
func (d *DedupIndex) Applies(tool *domain.Tool) bool {
	return d.enabled && tool != nil && !tool.DisableDedup && d.windowFor(tool) > 0
}

func (d *DedupIndex) windowFor(tool *domain.Tool) time.Duration {
	if tool != nil && tool.StaleAfter > 0 {
		return tool.StaleAfter
	}
	return d.window
}

// Lookup searches pending (results already produced in the current turn)
// and then the recorded turns, newest first, for a successful result with
// id that is still inside the staleness window.
func (d *DedupIndex) Lookup(turns []domain.Turn, pending []domain.ToolResult, tool *domain.Tool, id string) (domain.ToolResult, bool) {
	if !d.Applies(tool) {
		return domain.ToolResult{}, false
	}
	now := d.now()
	window := d.windowFor(tool)

	for i := len(pending) - 1; i >= 0; i-- {
		if r := pending[i]; r.ID == id && r.FreshAt(now, window) {
			return r, true
		}
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Result != nil && t.Result.ID == id && t.Result.FreshAt(now, window) {
			return *t.Result, true
		}
		for j := len(t.Results) - 1; j >= 0; j-- {
			if r := t.Results[j]; r.ID == id && r.FreshAt(now, window) {
				return r, true
			}
		}
	}
	return domain.ToolResult{}, false
}
