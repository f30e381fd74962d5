package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReasoningTree_AddChildDepth(t *testing.T) {
	tree := NewReasoningTree("goal", StrategyBreadthFirst, 2, 10)
	root := tree.Root()
	require.NotNil(t, root)
	assert.Equal(t, 0, root.Depth)
	assert.Empty(t, root.ParentID)

	child, err := tree.AddChild(root.ID, "a", "hypothesis")
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, []NodeID{child.ID}, root.Children)

	grand, err := tree.AddChild(child.ID, "b", "step")
	require.NoError(t, err)
	assert.Equal(t, 2, grand.Depth)
}

func TestReasoningTree_CapacityDoesNotMutate(t *testing.T) {
	t.Run("max nodes", func(t *testing.T) {
		tree := NewReasoningTree("goal", StrategyBestFirst, 5, 3)
		_, err := tree.AddChild(tree.RootID, "a", "")
		require.NoError(t, err)
		_, err = tree.AddChild(tree.RootID, "b", "")
		require.NoError(t, err)

		before := tree.Clone()
		_, err = tree.AddChild(tree.RootID, "c", "")
		assert.ErrorIs(t, err, ErrTreeFull)
		assert.Equal(t, before, tree)
	})

	t.Run("max depth", func(t *testing.T) {
		tree := NewReasoningTree("goal", StrategyBestFirst, 1, 10)
		child, err := tree.AddChild(tree.RootID, "a", "")
		require.NoError(t, err)

		before := tree.Clone()
		_, err = tree.AddChild(child.ID, "too deep", "")
		assert.ErrorIs(t, err, ErrMaxDepth)
		assert.Equal(t, before, tree)
	})

	t.Run("unknown parent", func(t *testing.T) {
		tree := NewReasoningTree("goal", StrategyBestFirst, 3, 10)
		_, err := tree.AddChild("missing", "a", "")
		assert.ErrorIs(t, err, ErrNodeNotFound)
		assert.Equal(t, 1, tree.Size())
	})
}

func TestReasoningTree_PruneSubtree(t *testing.T) {
	tree := NewReasoningTree("goal", StrategyBestFirst, 3, 20)
	a, _ := tree.AddChild(tree.RootID, "a", "")
	a1, _ := tree.AddChild(a.ID, "a1", "")
	a11, _ := tree.AddChild(a1.ID, "a11", "")
	b, _ := tree.AddChild(tree.RootID, "b", "")

	require.NoError(t, tree.Prune(a.ID))

	for _, id := range []NodeID{a.ID, a1.ID, a11.ID} {
		n, ok := tree.Node(id)
		require.True(t, ok, "pruned nodes stay addressable")
		assert.Equal(t, NodePruned, n.State)
	}
	nb, _ := tree.Node(b.ID)
	assert.Equal(t, NodeActive, nb.State)
	assert.Equal(t, 5, tree.Size())

	_, err := tree.AddChild(a.ID, "x", "")
	assert.ErrorIs(t, err, ErrNodePruned)
}

func TestReasoningTree_EvaluateClampsAndBestPath(t *testing.T) {
	tree := NewReasoningTree("goal", StrategyBestFirst, 3, 20)
	a, _ := tree.AddChild(tree.RootID, "a", "")
	b, _ := tree.AddChild(tree.RootID, "b", "")
	b1, _ := tree.AddChild(b.ID, "b1", "")
	c, _ := tree.AddChild(tree.RootID, "c", "")

	require.NoError(t, tree.Evaluate(a.ID, 1.7, "too high"))
	require.NoError(t, tree.Evaluate(b.ID, 0.6, ""))
	require.NoError(t, tree.Evaluate(b1.ID, 0.8, ""))
	require.NoError(t, tree.Evaluate(c.ID, -2, ""))

	na, _ := tree.Node(a.ID)
	assert.Equal(t, 1.0, na.Score)
	nc, _ := tree.Node(c.ID)
	assert.Equal(t, 0.0, nc.Score)

	// a is best until pruned
	require.NoError(t, tree.Prune(a.ID))
	best, ok := tree.BestNode()
	require.True(t, ok)
	assert.Equal(t, b1.ID, best.ID)

	path := tree.Finalize()
	assert.Equal(t, []NodeID{tree.RootID, b.ID, b1.ID}, path)
	assert.True(t, tree.Completed)

	nb, _ := tree.Node(b.ID)
	assert.Equal(t, NodeBestPath, nb.State)
	nc, _ = tree.Node(c.ID)
	assert.Equal(t, NodeCompleted, nc.State)
	na, _ = tree.Node(a.ID)
	assert.Equal(t, NodePruned, na.State)
}

func TestReasoningTree_PathToAndFrontier(t *testing.T) {
	tree := NewReasoningTree("goal", StrategyDepthFirst, 2, 20)
	a, _ := tree.AddChild(tree.RootID, "a", "")
	a1, _ := tree.AddChild(a.ID, "a1", "")
	b, _ := tree.AddChild(tree.RootID, "b", "")

	path, err := tree.PathTo(a1.ID)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{tree.RootID, a.ID, a1.ID}, path)

	_, err = tree.PathTo("nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	// a1 is at max depth, a and root have children
	frontier := tree.Frontier()
	require.Len(t, frontier, 1)
	assert.Equal(t, b.ID, frontier[0].ID)
}

func TestReasoningTree_Backpropagate(t *testing.T) {
	tree := NewReasoningTree("goal", StrategyMonteCarlo, 3, 20)
	a, _ := tree.AddChild(tree.RootID, "a", "")
	a1, _ := tree.AddChild(a.ID, "a1", "")

	tree.Backpropagate(a1.ID, 0.8)
	tree.Backpropagate(a.ID, 0.4)

	assert.Equal(t, 2, tree.Root().Visits)
	assert.InDelta(t, 0.6, tree.Root().MeanValue(), 1e-9)
	na1, _ := tree.Node(a1.ID)
	assert.Equal(t, 1, na1.Visits)
}

func TestReasoningTree_JSONRoundTrip(t *testing.T) {
	tree := NewReasoningTree("goal", StrategyBeam, 2, 5)
	a, _ := tree.AddChild(tree.RootID, "a", "")
	require.NoError(t, tree.Evaluate(a.ID, 0.5, "ok"))

	raw, err := json.Marshal(tree)
	require.NoError(t, err)

	var back ReasoningTree
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, tree.Size(), back.Size())
	assert.Equal(t, tree.NextSeq, back.NextSeq)
	n, ok := back.Node(a.ID)
	require.True(t, ok)
	assert.Equal(t, tree.RootID, n.ParentID)
}

func TestNewReasoningTree_InvalidStrategyFallsBack(t *testing.T) {
	tree := NewReasoningTree("goal", "random", 0, 0)
	assert.Equal(t, StrategyBestFirst, tree.Strategy)
	assert.Equal(t, 1, tree.MaxDepth)
	assert.Equal(t, 1, tree.MaxNodes)
	assert.True(t, tree.Full())
}
