package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/manthysbr/agentcore/internal/canonical"
	"github.com/manthysbr/agentcore/internal/core/domain"
)

func TestDedupIndex_Lookup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idx := NewDedupIndex(domain.DedupConfig{Enabled: true, StaleAfter: 5 * time.Minute}).
		WithClock(func() time.Time { return now })

	tool := &domain.Tool{Name: "get_weather"}
	id := canonical.Hash("get_weather", map[string]any{"city": "Paris"})

	result := func(age time.Duration, ok bool) *domain.ToolResult {
		return &domain.ToolResult{ID: id, Tool: "get_weather", Success: ok, CreatedAt: now.Add(-age)}
	}

	tests := []struct {
		name  string
		turns []domain.Turn
		tool  *domain.Tool
		hit   bool
	}{
		{"fresh success", []domain.Turn{{Result: result(time.Minute, true)}}, tool, true},
		{"stale success", []domain.Turn{{Result: result(6 * time.Minute, true)}}, tool, false},
		{"fresh failure", []domain.Turn{{Result: result(time.Minute, false)}}, tool, false},
		{"older success behind a newer failure", []domain.Turn{
			{Result: result(2*time.Minute, true)},
			{Result: result(time.Minute, false)},
		}, tool, true},
		{"inside a multi-call turn", []domain.Turn{{Results: []domain.ToolResult{*result(time.Minute, true)}}}, tool, true},
		{"tool opts out", []domain.Turn{{Result: result(time.Minute, true)}}, &domain.Tool{Name: "get_weather", DisableDedup: true}, false},
		{"tool window override", []domain.Turn{{Result: result(2 * time.Minute, true)}}, &domain.Tool{Name: "get_weather", StaleAfter: time.Minute}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hit := idx.Lookup(tt.turns, nil, tt.tool, id)
			assert.Equal(t, tt.hit, hit)
		})
	}
}

func TestDedupIndex_PendingResults(t *testing.T) {
	now := time.Now()
	idx := NewDedupIndex(domain.DedupConfig{Enabled: true, StaleAfter: time.Minute}).WithClock(func() time.Time { return now })
	tool := &domain.Tool{Name: "echo"}

	pending := []domain.ToolResult{{ID: "x", Tool: "echo", Success: true, Output: "hi", CreatedAt: now}}
	got, hit := idx.Lookup(nil, pending, tool, "x")
	assert.True(t, hit)
	assert.Equal(t, "hi", got.Output)
}

func TestDedupIndex_Disabled(t *testing.T) {
	idx := NewDedupIndex(domain.DedupConfig{Enabled: false, StaleAfter: time.Hour})
	tool := &domain.Tool{Name: "echo"}

	assert.False(t, idx.Applies(tool))
	_, hit := idx.Lookup([]domain.Turn{{Result: &domain.ToolResult{ID: "x", Success: true, CreatedAt: time.Now()}}}, nil, tool, "x")
	assert.False(t, hit)
}
