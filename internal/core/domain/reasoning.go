package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// StepType names a stage of chain-of-thought reasoning
type StepType string

const (
	StepAnalysis   StepType = "analysis"
	StepPlanning   StepType = "planning"
	StepStrategy   StepType = "strategy"
	StepEvaluation StepType = "evaluation"
)

// ChainPipeline is the fixed order chain-of-thought steps run in.
var ChainPipeline = []StepType{StepAnalysis, StepPlanning, StepStrategy, StepEvaluation}

// Insight is a single takeaway from a reasoning step.
type Insight struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Step       StepType `json:"step"`
}

// ReasoningStep is one completed stage of a chain.
type ReasoningStep struct {
	Type       StepType  `json:"type"`
	Reasoning  string    `json:"reasoning"`
	Confidence float64   `json:"confidence"`
	Insights   []Insight `json:"insights,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReasoningChain is a linear sequence of typed steps. It accepts new steps
// until Complete is called; after that it is read-only.
type ReasoningChain struct {
	ID              string          `json:"id"`
	Goal            string          `json:"goal"`
	Steps           []ReasoningStep `json:"steps"`
	Completed       bool            `json:"completed"`
	Conclusion      string          `json:"conclusion,omitempty"`
	FinalConfidence float64         `json:"final_confidence"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewReasoningChain opens an empty chain for goal.
func NewReasoningChain(goal string) *ReasoningChain {
	return &ReasoningChain{
		ID:        uuid.New().String(),
		Goal:      goal,
		Steps:     []ReasoningStep{},
		CreatedAt: time.Now(),
	}
}

// AddStep appends a step. Confidence is clamped to [0,1] and every insight
// carries the step's confidence.
func (c *ReasoningChain) AddStep(stepType StepType, reasoning string, confidence float64, insights []string) (*ReasoningStep, error) {
	if c.Completed {
		return nil, ErrChainClosed
	}
	confidence = Clamp01(confidence)
	step := ReasoningStep{
		Type:       stepType,
		Reasoning:  reasoning,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
	for _, text := range insights {
		if text == "" {
			continue
		}
		step.Insights = append(step.Insights, Insight{Text: text, Confidence: confidence, Step: stepType})
	}
	c.Steps = append(c.Steps, step)
	return &c.Steps[len(c.Steps)-1], nil
}

// Complete closes the chain. It can only be called once.
func (c *ReasoningChain) Complete(conclusion string, confidence float64) error {
	if c.Completed {
		return ErrChainClosed
	}
	now := time.Now()
	c.Completed = true
	c.Conclusion = conclusion
	c.FinalConfidence = Clamp01(confidence)
	c.CompletedAt = &now
	return nil
}

// MeanConfidence averages step confidences; an empty chain scores 0.
func (c *ReasoningChain) MeanConfidence() float64 {
	if len(c.Steps) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range c.Steps {
		sum += s.Confidence
	}
	return Clamp01(sum / float64(len(c.Steps)))
}

// Insights returns every insight in step order.
func (c *ReasoningChain) Insights() []Insight {
	var out []Insight
	for _, s := range c.Steps {
		out = append(out, s.Insights...)
	}
	return out
}

// Clone returns a deep copy.
func (c *ReasoningChain) Clone() *ReasoningChain {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Steps = make([]ReasoningStep, len(c.Steps))
	for i, s := range c.Steps {
		s.Insights = append([]Insight(nil), s.Insights...)
		cp.Steps[i] = s
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ReasoningRequest is what an engine gets to work with. Engines receive
// copies and never touch agent state directly.
type ReasoningRequest struct {
	Goal    string
	Context string
	Tools   []ToolSpec
}

// ReasoningResult is an engine's answer. Failures other than cancellation
// are reported here, with whatever partial structure was built.
type ReasoningResult struct {
	Engine     string            `json:"engine"`
	Success    bool              `json:"success"`
	Conclusion string            `json:"conclusion"`
	Confidence float64           `json:"confidence"`
	Chain      *ReasoningChain   `json:"chain,omitempty"`
	Tree       *ReasoningTree    `json:"tree,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clamp01 bounds v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
