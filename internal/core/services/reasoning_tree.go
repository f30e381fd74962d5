package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

const proposeSystemPrompt = `You explore alternative ways to reach a goal.
Propose distinct next thoughts that build on the current one.
Answer with ONE JSON object:
{"thoughts": [{"text": "<thought>", "type": "approach|step|check"}, ...]}`

const evaluateSystemPrompt = `You score how promising a thought is for reaching the goal.
Answer with ONE JSON object:
{"score": <0.0-1.0>, "reasoning": "<why>"}`

type proposal struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type proposeReply struct {
	Thoughts []proposal `json:"thoughts"`
}

type evaluateReply struct {
	Score     looseFloat `json:"score"`
	Reasoning string     `json:"reasoning"`
}

// TreeOfThoughts searches a tree of alternative thoughts, scoring each with
// a model call and expanding the most promising according to the
// configured exploration strategy.
type TreeOfThoughts struct {
	logger        *slog.Logger
	caller        *JSONCaller
	cfg           domain.TreeConfig
	minConfidence float64
}

// NewTreeOfThoughts creates a tree engine.
func NewTreeOfThoughts(logger *slog.Logger, caller *JSONCaller, cfg domain.ReasoningConfig) *TreeOfThoughts {
	tc := cfg.Tree
	if tc.BranchFactor <= 0 {
		tc.BranchFactor = 3
	}
	return &TreeOfThoughts{
		logger:        logger,
		caller:        caller,
		cfg:           tc,
		minConfidence: cfg.MinConfidence,
	}
}

func (t *TreeOfThoughts) Name() string { return EngineTree }

// Reason implements ports.ReasoningEngine.
func (t *TreeOfThoughts) Reason(ctx context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error) {
	start := time.Now()
	tree := domain.NewReasoningTree(req.Goal, t.cfg.Strategy, t.cfg.MaxDepth, t.cfg.MaxNodes)
	res := &domain.ReasoningResult{Engine: EngineTree, Tree: tree, Metadata: map[string]string{}}
	problem := describeRequest(req)

	skip := make(map[domain.NodeID]bool)
	stop := "frontier_exhausted"
	expansions := 0

explore:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tree.Full() {
			stop = "capacity"
			break
		}
		node, ok := selectNode(tree, t.cfg.BeamWidth, skip)
		if !ok {
			break
		}

		var pr proposeReply
		if err := t.caller.Call(ctx, proposeSystemPrompt, proposePrompt(problem, tree, node, t.cfg.BranchFactor), &pr); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Warn("thought proposal failed", "node", string(node.ID), "error", err)
			res.Metadata["error"] = err.Error()
			stop = "model_error"
			break
		}
		expansions++

		var children []*domain.ThoughtNode
		for _, p := range pr.Thoughts {
			if len(children) >= t.cfg.BranchFactor {
				break
			}
			if strings.TrimSpace(p.Text) == "" {
				continue
			}
			child, err := tree.AddChild(node.ID, p.Text, p.Type)
			if errors.Is(err, domain.ErrTreeFull) || errors.Is(err, domain.ErrMaxDepth) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("add thought: %w", err)
			}
			children = append(children, child)
		}
		if len(children) == 0 {
			skip[node.ID] = true
			continue
		}

		for _, child := range children {
			var ev evaluateReply
			if err := t.caller.Call(ctx, evaluateSystemPrompt, evaluatePrompt(problem, tree, child), &ev); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				t.logger.Warn("thought evaluation failed", "node", string(child.ID), "error", err)
				ev = evaluateReply{Reasoning: "evaluation failed: " + err.Error()}
			}
			_ = tree.Evaluate(child.ID, float64(ev.Score), ev.Reasoning)
			if tree.Strategy == domain.StrategyMonteCarlo {
				tree.Backpropagate(child.ID, child.Score)
			}
			if child.Score < t.cfg.PruneThreshold {
				_ = tree.Prune(child.ID)
				continue
			}
			if t.cfg.SolutionThreshold > 0 && child.Score >= t.cfg.SolutionThreshold {
				stop = "solution"
				break explore
			}
		}
	}

	tree.Finalize()
	res.Metadata["stop"] = stop
	res.Metadata["expansions"] = fmt.Sprintf("%d", expansions)
	res.Duration = time.Since(start)

	best, ok := tree.BestNode()
	if !ok {
		res.Error = res.Metadata["error"]
		if res.Error == "" {
			res.Error = "no viable thought survived evaluation"
		}
		return res, nil
	}
	res.Conclusion = best.Text
	res.Confidence = best.Score
	if res.Confidence < t.minConfidence {
		res.Error = fmt.Sprintf("best thought scored %.2f, below minimum %.2f", res.Confidence, t.minConfidence)
		return res, nil
	}
	res.Success = true
	t.logger.Debug("tree of thoughts complete", "nodes", tree.Size(), "confidence", res.Confidence, "stop", stop)
	return res, nil
}

func pathText(tree *domain.ReasoningTree, id domain.NodeID) string {
	path, err := tree.PathTo(id)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for i, nid := range path {
		if i == 0 {
			continue // root holds the goal
		}
		n, _ := tree.Node(nid)
		fmt.Fprintf(&b, "%d. %s\n", i, n.Text)
	}
	return b.String()
}

func proposePrompt(problem string, tree *domain.ReasoningTree, node *domain.ThoughtNode, n int) string {
	var b strings.Builder
	b.WriteString(problem)
	if p := pathText(tree, node.ID); p != "" {
		b.WriteString("\nThoughts so far:\n")
		b.WriteString(p)
	}
	fmt.Fprintf(&b, "\nPropose up to %d next thoughts.", n)
	return b.String()
}

func evaluatePrompt(problem string, tree *domain.ReasoningTree, node *domain.ThoughtNode) string {
	var b strings.Builder
	b.WriteString(problem)
	b.WriteString("\nLine of thought:\n")
	b.WriteString(pathText(tree, node.ID))
	fmt.Fprintf(&b, "\nScore the last thought: %s", node.Text)
	return b.String()
}
