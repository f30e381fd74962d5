package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/ports"
	"github.com/manthysbr/agentcore/internal/jsonrepair"
)

// Engine names, as used in config and ReasoningResult.Engine.
const (
	EngineNone   = "none"
	EngineChain  = "chain"
	EngineTree   = "tree"
	EngineHybrid = "hybrid"
)

// NewReasoningEngine builds the engine named in cfg. "none" (or empty)
// returns a nil engine and no error.
func NewReasoningEngine(logger *slog.Logger, model ports.ModelClient, cfg domain.ReasoningConfig, mc domain.ModelConfig, timeout time.Duration) (ports.ReasoningEngine, error) {
	caller := NewJSONCaller(model, mc, timeout)
	switch cfg.Engine {
	case "", EngineNone:
		return nil, nil
	case EngineChain:
		return NewChainOfThought(logger, caller, cfg), nil
	case EngineTree:
		return NewTreeOfThoughts(logger, caller, cfg), nil
	case EngineHybrid:
		return NewHybrid(logger, NewChainOfThought(logger, caller, cfg), NewTreeOfThoughts(logger, caller, cfg)), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownReasoningType, cfg.Engine)
	}
}

// JSONCaller makes one model call that must answer with a JSON object.
type JSONCaller struct {
	model       ports.ModelClient
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewJSONCaller wraps a model client for reasoning calls. Each call gets
// its own timeout when timeout > 0.
func NewJSONCaller(model ports.ModelClient, mc domain.ModelConfig, timeout time.Duration) *JSONCaller {
	return &JSONCaller{
		model:       model,
		temperature: mc.Temperature,
		maxTokens:   mc.MaxTokens,
		timeout:     timeout,
	}
}

// Call sends system+user, repairs the reply and decodes it into out.
func (c *JSONCaller) Call(ctx context.Context, system, user string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	temp := c.temperature
	ch, err := c.model.Stream(ctx, domain.ModelRequest{
		Messages:    []domain.ChatMessage{domain.SystemMessage(system), domain.UserMessage(user)},
		Temperature: &temp,
		MaxTokens:   c.maxTokens,
		Stream:      true,
		JSONMode:    true,
	})
	if err != nil {
		return fmt.Errorf("model call: %w", err)
	}
	resp, err := Aggregate(ctx, ch, nil)
	if err != nil {
		return fmt.Errorf("model stream: %w", err)
	}
	raw, err := jsonrepair.Extract(resp.Content)
	if err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// looseFloat accepts 0.8, "0.8" and "80%". Values above 1 are read as
// percentages.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	if pct || (v > 1 && v <= 100) {
		v /= 100
	}
	*f = looseFloat(v)
	return nil
}

// looseStrings accepts a list of strings or of {"text": ...} objects.
type looseStrings []string

func (l *looseStrings) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var one string
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return err
		}
		*l = looseStrings{one}
		return nil
	}
	out := make(looseStrings, 0, len(items))
	for _, raw := range items {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Text    string `json:"text"`
			Insight string `json:"insight"`
		}
		if json.Unmarshal(raw, &obj) == nil {
			if obj.Text == "" {
				obj.Text = obj.Insight
			}
			out = append(out, obj.Text)
		}
	}
	*l = out
	return nil
}

func describeRequest(req domain.ReasoningRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	if strings.TrimSpace(req.Context) != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", req.Context)
	}
	if len(req.Tools) > 0 {
		b.WriteString("\n")
		b.WriteString(domain.FormatToolSpecs(req.Tools))
	}
	return b.String()
}
