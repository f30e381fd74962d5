package services

import (
	"context"
	"sort"
	"strings"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// Aggregator folds a chunk stream into one response.
//
// Text is concatenated in arrival order. Function-call fragments are merged
// by index: the id and name come from the first fragment that carries them
// and argument text is appended. Usage is cumulative on most providers, so
// the largest value seen wins.
type Aggregator struct {
	text    strings.Builder
	calls   map[int]*domain.FunctionCall
	args    map[int]*strings.Builder
	usage   domain.Usage
	finish  string
	onDelta func(string)
}

// NewAggregator returns an empty aggregator. onDelta, if set, receives
// every text delta as it arrives.
func NewAggregator(onDelta func(string)) *Aggregator {
	return &Aggregator{
		calls:   make(map[int]*domain.FunctionCall),
		args:    make(map[int]*strings.Builder),
		onDelta: onDelta,
	}
}

// Add folds one chunk in.
func (a *Aggregator) Add(chunk domain.ModelChunk) {
	if chunk.Content != "" {
		a.text.WriteString(chunk.Content)
		if a.onDelta != nil {
			a.onDelta(chunk.Content)
		}
	}
	if fc := chunk.FunctionCall; fc != nil {
		call, ok := a.calls[fc.Index]
		if !ok {
			call = &domain.FunctionCall{}
			a.calls[fc.Index] = call
			a.args[fc.Index] = &strings.Builder{}
		}
		if call.ID == "" {
			call.ID = fc.ID
		}
		if call.Name == "" {
			call.Name = fc.Name
		}
		a.args[fc.Index].WriteString(fc.ArgsJSON)
	}
	if u := chunk.Usage; u != nil {
		a.usage.InputTokens = max(a.usage.InputTokens, u.InputTokens)
		a.usage.OutputTokens = max(a.usage.OutputTokens, u.OutputTokens)
	}
	if chunk.FinishReason != "" {
		a.finish = chunk.FinishReason
	}
}

// Response returns the aggregated response. Calls without a name are
// dropped; they cannot be dispatched.
func (a *Aggregator) Response() *domain.ModelResponse {
	resp := &domain.ModelResponse{
		Content:      a.text.String(),
		FinishReason: a.finish,
		Usage:        a.usage,
	}
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		call := *a.calls[i]
		if call.Name == "" {
			continue
		}
		call.ArgsJSON = a.args[i].String()
		resp.FunctionCalls = append(resp.FunctionCalls, call)
	}
	return resp
}

// Aggregate drains ch into a single response. A chunk carrying Err aborts
// with that error; a cancelled context aborts with ctx.Err().
func Aggregate(ctx context.Context, ch <-chan domain.ModelChunk, onDelta func(string)) (*domain.ModelResponse, error) {
	agg := NewAggregator(onDelta)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return agg.Response(), nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			agg.Add(chunk)
			if chunk.IsFinal {
				return agg.Response(), nil
			}
		}
	}
}
