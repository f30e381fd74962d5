package services

import (
	"math"
	"sort"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// uctExploration is the c in UCT: mean + c*sqrt(ln(N)/n).
var uctExploration = math.Sqrt2

// selectNode picks the next node to expand. skip holds nodes that were
// already expanded without producing children.
func selectNode(tree *domain.ReasoningTree, beamWidth int, skip map[domain.NodeID]bool) (*domain.ThoughtNode, bool) {
	var candidates []*domain.ThoughtNode
	for _, n := range tree.Frontier() {
		if !skip[n.ID] {
			candidates = append(candidates, n)
		}
	}
	if tree.Strategy == domain.StrategyBeam {
		candidates = beamFilter(tree, candidates, beamWidth)
	}
	if len(candidates) == 0 {
		return nil, false
	}

	var less func(a, b *domain.ThoughtNode) bool
	switch tree.Strategy {
	case domain.StrategyBreadthFirst:
		less = func(a, b *domain.ThoughtNode) bool {
			if a.Depth != b.Depth {
				return a.Depth < b.Depth
			}
			return a.Seq < b.Seq
		}
	case domain.StrategyDepthFirst:
		less = func(a, b *domain.ThoughtNode) bool {
			if a.Depth != b.Depth {
				return a.Depth > b.Depth
			}
			return a.Seq > b.Seq
		}
	case domain.StrategyMonteCarlo:
		scores := make(map[domain.NodeID]float64, len(candidates))
		for _, n := range candidates {
			scores[n.ID] = uct(tree, n)
		}
		less = func(a, b *domain.ThoughtNode) bool {
			if scores[a.ID] != scores[b.ID] {
				return scores[a.ID] > scores[b.ID]
			}
			return a.Seq < b.Seq
		}
	default: // best_first, beam
		less = func(a, b *domain.ThoughtNode) bool {
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			return a.Seq < b.Seq
		}
	}

	best := candidates[0]
	for _, n := range candidates[1:] {
		if less(n, best) {
			best = n
		}
	}
	return best, true
}

// beamFilter keeps candidates that rank in the top width evaluated nodes of
// their depth. The root is always kept.
func beamFilter(tree *domain.ReasoningTree, candidates []*domain.ThoughtNode, width int) []*domain.ThoughtNode {
	if width <= 0 {
		width = 1
	}
	byDepth := make(map[int][]*domain.ThoughtNode)
	for _, n := range tree.Nodes {
		if n.State == domain.NodePruned || !n.Evaluated() {
			continue
		}
		byDepth[n.Depth] = append(byDepth[n.Depth], n)
	}
	keep := make(map[domain.NodeID]bool)
	for _, nodes := range byDepth {
		sort.Slice(nodes, func(i, j int) bool {
			if nodes[i].Score != nodes[j].Score {
				return nodes[i].Score > nodes[j].Score
			}
			return nodes[i].Seq < nodes[j].Seq
		})
		for i := 0; i < len(nodes) && i < width; i++ {
			keep[nodes[i].ID] = true
		}
	}

	var out []*domain.ThoughtNode
	for _, n := range candidates {
		if n.ID == tree.RootID || keep[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// uct scores a node for Monte-Carlo selection; unvisited nodes come first.
func uct(tree *domain.ReasoningTree, n *domain.ThoughtNode) float64 {
	if n.Visits == 0 {
		return math.Inf(1)
	}
	parentVisits := n.Visits
	if p, ok := tree.Node(n.ParentID); ok && p.Visits > 0 {
		parentVisits = p.Visits
	}
	return n.MeanValue() + uctExploration*math.Sqrt(math.Log(float64(parentVisits))/float64(n.Visits))
}
