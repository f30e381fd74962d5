package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/ports"
)

const (
	hybridChainWeight   = 0.6
	hybridTreeWeight    = 0.4
	hybridInsightFloor  = 0.7
	hybridInsightsInUse = 3
)

// Hybrid runs chain-of-thought first and feeds its strongest insights into
// a tree-of-thoughts search. If the chain fails the tree runs alone.
type Hybrid struct {
	logger *slog.Logger
	chain  ports.ReasoningEngine
	tree   ports.ReasoningEngine
}

// NewHybrid combines two engines.
func NewHybrid(logger *slog.Logger, chain, tree ports.ReasoningEngine) *Hybrid {
	return &Hybrid{logger: logger, chain: chain, tree: tree}
}

func (h *Hybrid) Name() string { return EngineHybrid }

// Reason implements ports.ReasoningEngine.
func (h *Hybrid) Reason(ctx context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error) {
	start := time.Now()

	chainRes, err := h.chain.Reason(ctx, req)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || chainRes == nil || !chainRes.Success {
		reason := "chain failed"
		switch {
		case err != nil:
			reason = err.Error()
		case chainRes != nil && chainRes.Error != "":
			reason = chainRes.Error
		}
		h.logger.Info("chain of thought unusable, falling back to tree only", "reason", reason)

		treeRes, err := h.tree.Reason(ctx, req)
		if err != nil {
			return nil, err
		}
		out := *treeRes
		out.Engine = EngineHybrid
		out.Duration = time.Since(start)
		out.Metadata = copyMeta(treeRes.Metadata)
		out.Metadata["fallback"] = "tree_only"
		out.Metadata["chain_error"] = reason
		if chainRes != nil {
			out.Chain = chainRes.Chain
		}
		return &out, nil
	}

	treeReq := req
	if insights := topInsights(chainRes.Chain); len(insights) > 0 {
		var b strings.Builder
		b.WriteString(req.Context)
		b.WriteString("\n\nKey insights from step-by-step analysis:\n")
		for _, in := range insights {
			fmt.Fprintf(&b, "- %s (confidence %.2f)\n", in.Text, in.Confidence)
		}
		treeReq.Context = strings.TrimLeft(b.String(), "\n")
	}

	treeRes, err := h.tree.Reason(ctx, treeReq)
	if err != nil {
		return nil, err
	}

	meta := copyMeta(treeRes.Metadata)
	meta["tree_success"] = fmt.Sprintf("%t", treeRes.Success)
	if treeRes.Error != "" {
		meta["tree_error"] = treeRes.Error
	}
	return &domain.ReasoningResult{
		Engine:     EngineHybrid,
		Success:    true,
		Conclusion: "Chain-of-Thought: " + chainRes.Conclusion + "\n\nTree-of-Thoughts: " + treeRes.Conclusion,
		Confidence: domain.Clamp01(hybridChainWeight*chainRes.Confidence + hybridTreeWeight*treeRes.Confidence),
		Chain:      chainRes.Chain,
		Tree:       treeRes.Tree,
		Duration:   time.Since(start),
		Metadata:   meta,
	}, nil
}

// topInsights returns up to three insights above the confidence floor,
// strongest first.
func topInsights(chain *domain.ReasoningChain) []domain.Insight {
	if chain == nil {
		return nil
	}
	var out []domain.Insight
	for _, in := range chain.Insights() {
		if in.Confidence > hybridInsightFloor {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > hybridInsightsInUse {
		out = out[:hybridInsightsInUse]
	}
	return out
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
