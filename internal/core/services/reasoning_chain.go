package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

const chainSystemPrompt = `You are a careful analyst working through a problem one stage at a time.
Answer with ONE JSON object:
{"reasoning": "<your reasoning for this stage>", "confidence": <0.0-1.0>, "insights": ["<short takeaway>", ...]}`

var stepInstructions = map[domain.StepType]string{
	domain.StepAnalysis:   "Stage: ANALYSIS. What exactly is being asked? What is known, what is missing?",
	domain.StepPlanning:   "Stage: PLANNING. Lay out the steps that reach the goal with the available tools.",
	domain.StepStrategy:   "Stage: STRATEGY. Pick the approach: which tool first, with which arguments, and what could go wrong.",
	domain.StepEvaluation: `Stage: EVALUATION. Judge the plan and state the concrete next action. Add "conclusion": "<one paragraph>" to your JSON.`,
}

const validatorSystemPrompt = `You review a chain of reasoning for errors and gaps.
Answer with ONE JSON object:
{"valid": true|false, "confidence": <0.0-1.0>, "issues": ["<problem>", ...]}`

type stepReply struct {
	Reasoning  string       `json:"reasoning"`
	Confidence looseFloat   `json:"confidence"`
	Insights   looseStrings `json:"insights"`
	Conclusion string       `json:"conclusion"`
}

type validationReply struct {
	Valid      bool         `json:"valid"`
	Confidence *looseFloat  `json:"confidence"`
	Issues     looseStrings `json:"issues"`
}

// ChainOfThought runs analysis, planning, strategy and evaluation as four
// separate model calls, optionally followed by a validation call.
type ChainOfThought struct {
	logger        *slog.Logger
	caller        *JSONCaller
	validate      bool
	minConfidence float64
}

// NewChainOfThought creates a chain engine.
func NewChainOfThought(logger *slog.Logger, caller *JSONCaller, cfg domain.ReasoningConfig) *ChainOfThought {
	return &ChainOfThought{
		logger:        logger,
		caller:        caller,
		validate:      cfg.Validate,
		minConfidence: cfg.MinConfidence,
	}
}

func (c *ChainOfThought) Name() string { return EngineChain }

// Reason implements ports.ReasoningEngine. On failure the partial chain is
// returned in the result.
func (c *ChainOfThought) Reason(ctx context.Context, req domain.ReasoningRequest) (*domain.ReasoningResult, error) {
	start := time.Now()
	chain := domain.NewReasoningChain(req.Goal)
	res := &domain.ReasoningResult{Engine: EngineChain, Chain: chain, Metadata: map[string]string{}}

	fail := func(err error) (*domain.ReasoningResult, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("chain of thought failed", "goal", req.Goal, "steps", len(chain.Steps), "error", err)
		res.Error = err.Error()
		res.Confidence = chain.MeanConfidence()
		res.Duration = time.Since(start)
		return res, nil
	}

	problem := describeRequest(req)
	var conclusion string
	for _, st := range domain.ChainPipeline {
		var out stepReply
		if err := c.caller.Call(ctx, chainSystemPrompt, stepPrompt(st, problem, chain), &out); err != nil {
			return fail(fmt.Errorf("%s step: %w", st, err))
		}
		if strings.TrimSpace(out.Reasoning) == "" {
			return fail(fmt.Errorf("%s step: empty reasoning", st))
		}
		if _, err := chain.AddStep(st, out.Reasoning, float64(out.Confidence), out.Insights); err != nil {
			return fail(err)
		}
		if st == domain.StepEvaluation {
			conclusion = out.Conclusion
			if conclusion == "" {
				conclusion = out.Reasoning
			}
		}
	}

	confidence := chain.MeanConfidence()
	if c.validate {
		var v validationReply
		if err := c.caller.Call(ctx, validatorSystemPrompt, validationPrompt(problem, chain, conclusion), &v); err != nil {
			return fail(fmt.Errorf("validation: %w", err))
		}
		if v.Confidence != nil {
			confidence = domain.Clamp01(float64(*v.Confidence))
		}
		if !v.Valid {
			res.Metadata["issues"] = strings.Join(v.Issues, "; ")
			return fail(fmt.Errorf("validation rejected the chain: %s", strings.Join(v.Issues, "; ")))
		}
	}

	if err := chain.Complete(conclusion, confidence); err != nil {
		return fail(err)
	}
	res.Conclusion = conclusion
	res.Confidence = chain.FinalConfidence
	res.Duration = time.Since(start)
	if res.Confidence < c.minConfidence {
		res.Error = fmt.Sprintf("confidence %.2f below minimum %.2f", res.Confidence, c.minConfidence)
		return res, nil
	}
	res.Success = true
	c.logger.Debug("chain of thought complete", "confidence", res.Confidence, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func stepPrompt(st domain.StepType, problem string, chain *domain.ReasoningChain) string {
	var b strings.Builder
	b.WriteString(problem)
	if len(chain.Steps) > 0 {
		b.WriteString("\nEarlier stages:\n")
		for _, s := range chain.Steps {
			fmt.Fprintf(&b, "[%s, confidence %.2f] %s\n", s.Type, s.Confidence, s.Reasoning)
		}
	}
	b.WriteString("\n")
	b.WriteString(stepInstructions[st])
	return b.String()
}

func validationPrompt(problem string, chain *domain.ReasoningChain, conclusion string) string {
	var b strings.Builder
	b.WriteString(problem)
	b.WriteString("\nReasoning to review:\n")
	for _, s := range chain.Steps {
		fmt.Fprintf(&b, "[%s] %s\n", s.Type, s.Reasoning)
	}
	fmt.Fprintf(&b, "\nConclusion: %s\n", conclusion)
	return b.String()
}
