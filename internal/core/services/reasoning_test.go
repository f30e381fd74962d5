package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

var weatherReq = domain.ReasoningRequest{
	Goal: "What's the weather in Paris?",
	Tools: []domain.ToolSpec{{
		Name:        "get_weather",
		Description: "Current weather for a city",
	}},
}

func newCaller(model *fakeModel) *JSONCaller {
	return NewJSONCaller(model, domain.ModelConfig{Temperature: 0.1, MaxTokens: 256}, time.Second)
}

func TestChainOfThought_Success(t *testing.T) {
	model := newFakeModel(
		textReply(`{"reasoning":"The user wants current weather.","confidence":0.8,"insights":["weather is live data"]}`),
		textReply(`{"reasoning":"Call get_weather for Paris.","confidence":"60%","insights":[{"text":"one call is enough"}]}`),
		textReply("```json\n{\"reasoning\":\"get_weather first\",\"confidence\":0.7}\n```"),
		textReply(`{"reasoning":"Plan is sound.","confidence":0.9,"conclusion":"Call get_weather with city=Paris."}`),
		textReply(`{"valid":true,"confidence":0.85,"issues":[]}`),
	)
	cot := NewChainOfThought(testLogger(), newCaller(model), domain.ReasoningConfig{Validate: true, MinConfidence: 0.5})

	res, err := cot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, EngineChain, res.Engine)
	assert.Equal(t, "Call get_weather with city=Paris.", res.Conclusion)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9, "validator confidence overrides the step mean")

	require.Len(t, res.Chain.Steps, 4)
	assert.Equal(t, domain.ChainPipeline[0], res.Chain.Steps[0].Type)
	assert.InDelta(t, 0.6, res.Chain.Steps[1].Confidence, 1e-9)
	assert.True(t, res.Chain.Completed)
	assert.Len(t, res.Chain.Insights(), 2)

	reqs := model.Requests()
	require.Len(t, reqs, 5)
	for _, r := range reqs {
		assert.True(t, r.JSONMode)
	}
	assert.Contains(t, reqs[1].Messages[1].Content, "The user wants current weather.", "later stages see earlier ones")
	assert.Contains(t, reqs[0].Messages[1].Content, "get_weather")
}

func TestChainOfThought_ValidationRejects(t *testing.T) {
	model := newFakeModel(
		textReply(`{"reasoning":"a","confidence":0.9}`),
		textReply(`{"reasoning":"b","confidence":0.9}`),
		textReply(`{"reasoning":"c","confidence":0.9}`),
		textReply(`{"reasoning":"d","confidence":0.9}`),
		textReply(`{"valid":false,"confidence":0.2,"issues":["ignores the city","no fallback"]}`),
	)
	cot := NewChainOfThought(testLogger(), newCaller(model), domain.ReasoningConfig{Validate: true})

	res, err := cot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "ignores the city")
	assert.Equal(t, "ignores the city; no fallback", res.Metadata["issues"])
	assert.Len(t, res.Chain.Steps, 4, "partial chain is kept")
	assert.False(t, res.Chain.Completed)
}

func TestChainOfThought_StepFailureKeepsPartialChain(t *testing.T) {
	model := newFakeModel(
		textReply(`{"reasoning":"a","confidence":0.9}`),
		textReply(`not json at all`),
	)
	cot := NewChainOfThought(testLogger(), newCaller(model), domain.ReasoningConfig{})

	res, err := cot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "planning")
	assert.Len(t, res.Chain.Steps, 1)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestChainOfThought_BelowMinimumConfidence(t *testing.T) {
	model := newFakeModel(
		textReply(`{"reasoning":"a","confidence":0.2}`),
		textReply(`{"reasoning":"b","confidence":0.2}`),
		textReply(`{"reasoning":"c","confidence":0.2}`),
		textReply(`{"reasoning":"d","confidence":0.2}`),
	)
	cot := NewChainOfThought(testLogger(), newCaller(model), domain.ReasoningConfig{MinConfidence: 0.5})

	res, err := cot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "below minimum")
	assert.Equal(t, "d", res.Conclusion, "evaluation reasoning stands in for a missing conclusion")
}

func TestChainOfThought_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cot := NewChainOfThought(testLogger(), newCaller(newFakeModel(textReply(`{}`))), domain.ReasoningConfig{})

	res, err := cot.Reason(ctx, weatherReq)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func treeConfig(strategy domain.ExplorationStrategy, depth int) domain.ReasoningConfig {
	return domain.ReasoningConfig{
		MinConfidence: 0.5,
		Tree: domain.TreeConfig{
			Strategy:          strategy,
			MaxDepth:          depth,
			MaxNodes:          10,
			BranchFactor:      2,
			BeamWidth:         1,
			PruneThreshold:    0.3,
			SolutionThreshold: 0.9,
		},
	}
}

func TestTreeOfThoughts_BestFirstFindsSolution(t *testing.T) {
	model := newFakeModel(
		textReply(`{"thoughts":[{"text":"look up the forecast","type":"approach"},{"text":"guess from the season","type":"approach"},{"text":"over the branch factor"}]}`),
		textReply(`{"score":0.6,"reasoning":"plausible"}`),
		textReply(`{"score":0.2,"reasoning":"unreliable"}`),
		textReply(`{"thoughts":[{"text":"call get_weather(Paris)","type":"step"},{"text":"search the web","type":"step"}]}`),
		textReply(`{"score":0.95,"reasoning":"direct"}`),
	)
	tot := NewTreeOfThoughts(testLogger(), newCaller(model), treeConfig(domain.StrategyBestFirst, 3))

	res, err := tot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "call get_weather(Paris)", res.Conclusion)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, "solution", res.Metadata["stop"])
	assert.Equal(t, "2", res.Metadata["expansions"])

	tree := res.Tree
	assert.True(t, tree.Completed)
	assert.Equal(t, 5, tree.Size(), "root, two approaches, two steps")
	require.Len(t, tree.BestPath, 3)
	assert.Equal(t, tree.RootID, tree.BestPath[0])

	var pruned []string
	for _, n := range tree.Nodes {
		if n.State == domain.NodePruned {
			pruned = append(pruned, n.Text)
		}
	}
	assert.Equal(t, []string{"guess from the season"}, pruned)
	assert.Len(t, model.Requests(), 5, "search stops at the first solution")
}

func TestTreeOfThoughts_DepthLimitExhaustsFrontier(t *testing.T) {
	model := newFakeModel(
		textReply(`{"thoughts":[{"text":"a"},{"text":"b"}]}`),
		textReply(`{"score":0.5}`),
		textReply(`{"score":0.7}`),
	)
	tot := NewTreeOfThoughts(testLogger(), newCaller(model), treeConfig(domain.StrategyBreadthFirst, 1))

	res, err := tot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "b", res.Conclusion)
	assert.Equal(t, "frontier_exhausted", res.Metadata["stop"])
}

func TestTreeOfThoughts_ProposalFailure(t *testing.T) {
	model := newFakeModel(errReply(errors.New("model offline")))
	tot := NewTreeOfThoughts(testLogger(), newCaller(model), treeConfig(domain.StrategyBestFirst, 3))

	res, err := tot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "model_error", res.Metadata["stop"])
	assert.Contains(t, res.Error, "model offline")
}

func TestTreeOfThoughts_EvaluationFailureScoresZero(t *testing.T) {
	model := newFakeModel(
		textReply(`{"thoughts":[{"text":"a"}]}`),
		textReply(`garbage`),
		textReply(`{"thoughts":[]}`),
	)
	tot := NewTreeOfThoughts(testLogger(), newCaller(model), treeConfig(domain.StrategyBestFirst, 3))

	res, err := tot.Reason(context.Background(), weatherReq)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "no viable thought survived evaluation", res.Error)
}

func chainWithInsights() *domain.ReasoningChain {
	c := domain.NewReasoningChain("weather")
	_, _ = c.AddStep(domain.StepAnalysis, "needs live data", 0.9, []string{"weather is live data"})
	_, _ = c.AddStep(domain.StepPlanning, "call the tool", 0.5, []string{"maybe cache"})
	_, _ = c.AddStep(domain.StepStrategy, "get_weather", 0.8, []string{"use get_weather"})
	return c
}

func TestHybrid_MergesChainAndTree(t *testing.T) {
	chain := &fakeEngine{name: EngineChain, result: &domain.ReasoningResult{
		Engine: EngineChain, Success: true, Conclusion: "call get_weather", Confidence: 0.8, Chain: chainWithInsights(),
	}}
	tree := &fakeEngine{name: EngineTree, result: &domain.ReasoningResult{
		Engine: EngineTree, Success: true, Conclusion: "get_weather(Paris)", Confidence: 0.6,
		Metadata: map[string]string{"stop": "solution"},
	}}
	h := NewHybrid(testLogger(), chain, tree)

	req := weatherReq
	req.Context = "Turn 0: nothing yet"
	res, err := h.Reason(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, EngineHybrid, res.Engine)
	assert.InDelta(t, 0.72, res.Confidence, 1e-9)
	assert.Equal(t, "Chain-of-Thought: call get_weather\n\nTree-of-Thoughts: get_weather(Paris)", res.Conclusion)
	assert.Equal(t, "true", res.Metadata["tree_success"])
	assert.Equal(t, "solution", res.Metadata["stop"])
	assert.NotNil(t, res.Chain)

	require.Len(t, tree.reqs, 1)
	ctx := tree.reqs[0].Context
	assert.Contains(t, ctx, "Turn 0: nothing yet")
	assert.Contains(t, ctx, "Key insights from step-by-step analysis:")
	assert.Contains(t, ctx, "weather is live data")
	assert.Contains(t, ctx, "use get_weather")
	assert.NotContains(t, ctx, "maybe cache", "insights at or below 0.7 are left out")
}

func TestHybrid_TreeFailureStillSucceeds(t *testing.T) {
	chain := &fakeEngine{result: &domain.ReasoningResult{Success: true, Conclusion: "c", Confidence: 1}}
	tree := &fakeEngine{result: &domain.ReasoningResult{Error: "no viable thought"}}

	res, err := NewHybrid(testLogger(), chain, tree).Reason(context.Background(), weatherReq)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
	assert.Equal(t, "false", res.Metadata["tree_success"])
	assert.Equal(t, "no viable thought", res.Metadata["tree_error"])
}

func TestHybrid_FallsBackToTreeOnly(t *testing.T) {
	treeResult := &domain.ReasoningResult{Engine: EngineTree, Success: true, Conclusion: "tree answer", Confidence: 0.7}

	tests := []struct {
		name   string
		chain  *fakeEngine
		reason string
	}{
		{"chain unsuccessful", &fakeEngine{result: &domain.ReasoningResult{Error: "validation rejected the chain"}}, "validation rejected the chain"},
		{"chain error", &fakeEngine{err: errors.New("boom")}, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := &fakeEngine{result: treeResult}
			res, err := NewHybrid(testLogger(), tt.chain, tree).Reason(context.Background(), weatherReq)
			require.NoError(t, err)

			assert.Equal(t, EngineHybrid, res.Engine)
			assert.True(t, res.Success)
			assert.Equal(t, "tree answer", res.Conclusion)
			assert.InDelta(t, 0.7, res.Confidence, 1e-9)
			assert.Equal(t, "tree_only", res.Metadata["fallback"])
			assert.Equal(t, tt.reason, res.Metadata["chain_error"])
			require.Len(t, tree.reqs, 1)
			assert.Empty(t, tree.reqs[0].Context, "no insights are injected on fallback")
		})
	}
	assert.Nil(t, treeResult.Metadata, "the tree's own result is not mutated")
}

// frontierTree builds root -> a(0.2), b(0.9), c(0.5); b -> b1(0.3).
// The frontier is a, c and b1.
func frontierTree(strategy domain.ExplorationStrategy) (*domain.ReasoningTree, map[string]*domain.ThoughtNode) {
	tree := domain.NewReasoningTree("goal", strategy, 3, 20)
	nodes := map[string]*domain.ThoughtNode{}
	add := func(name string, parent domain.NodeID, score float64) {
		n, _ := tree.AddChild(parent, name, "")
		_ = tree.Evaluate(n.ID, score, "")
		nodes[name] = n
	}
	add("a", tree.RootID, 0.2)
	add("b", tree.RootID, 0.9)
	add("c", tree.RootID, 0.5)
	add("b1", nodes["b"].ID, 0.3)
	return tree, nodes
}

func TestSelectNode_Strategies(t *testing.T) {
	tests := []struct {
		strategy domain.ExplorationStrategy
		want     string
	}{
		{domain.StrategyBreadthFirst, "a"},
		{domain.StrategyDepthFirst, "b1"},
		{domain.StrategyBestFirst, "c"},
		{domain.StrategyBeam, "b1"},
		{domain.StrategyMonteCarlo, "a"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			tree, _ := frontierTree(tt.strategy)
			got, ok := selectNode(tree, 1, nil)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Text)
		})
	}
}

func TestSelectNode_SkipAndEmpty(t *testing.T) {
	tree, nodes := frontierTree(domain.StrategyBestFirst)

	got, ok := selectNode(tree, 1, map[domain.NodeID]bool{nodes["c"].ID: true})
	require.True(t, ok)
	assert.Equal(t, "b1", got.Text)

	skip := map[domain.NodeID]bool{nodes["a"].ID: true, nodes["c"].ID: true, nodes["b1"].ID: true}
	_, ok = selectNode(tree, 1, skip)
	assert.False(t, ok)
}

func TestSelectNode_MonteCarloPrefersUnvisited(t *testing.T) {
	tree, nodes := frontierTree(domain.StrategyMonteCarlo)
	tree.Backpropagate(nodes["a"].ID, 0.9)

	got, ok := selectNode(tree, 0, nil)
	require.True(t, ok)
	assert.Equal(t, "c", got.Text)
}

func TestLooseFloat(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{`0.8`, 0.8, false},
		{`"0.8"`, 0.8, false},
		{`"80%"`, 0.8, false},
		{`85`, 0.85, false},
		{`null`, 0, false},
		{`"high"`, 0, true},
	}
	for _, tt := range tests {
		var f looseFloat
		err := json.Unmarshal([]byte(tt.in), &f)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, float64(f), 1e-9, tt.in)
	}
}

func TestLooseStrings(t *testing.T) {
	var l looseStrings
	require.NoError(t, json.Unmarshal([]byte(`["a",{"text":"b"},{"insight":"c"}]`), &l))
	assert.Equal(t, looseStrings{"a", "b", "c"}, l)

	require.NoError(t, json.Unmarshal([]byte(`"single"`), &l))
	assert.Equal(t, looseStrings{"single"}, l)
}

func TestNewReasoningEngine(t *testing.T) {
	model := newFakeModel()
	mc := domain.ModelConfig{}

	e, err := NewReasoningEngine(testLogger(), model, domain.ReasoningConfig{Engine: EngineNone}, mc, time.Second)
	require.NoError(t, err)
	assert.Nil(t, e)

	for _, name := range []string{EngineChain, EngineTree, EngineHybrid} {
		e, err := NewReasoningEngine(testLogger(), model, domain.ReasoningConfig{Engine: name}, mc, time.Second)
		require.NoError(t, err)
		assert.Equal(t, name, e.Name())
	}

	_, err = NewReasoningEngine(testLogger(), model, domain.ReasoningConfig{Engine: "oracle"}, mc, time.Second)
	assert.ErrorIs(t, err, domain.ErrUnknownReasoningType)
}
