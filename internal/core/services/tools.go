package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// NewCurrentTimeTool reports the current time. Its output changes between
// identical calls, so it opts out of dedup.
func NewCurrentTimeTool(now func() time.Time) *domain.Tool {
	if now == nil {
		now = time.Now
	}
	return &domain.Tool{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in an IANA time zone",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"timezone": map[string]interface{}{
					"type":        "string",
					"description": "IANA zone name such as Europe/Lisbon; defaults to UTC",
				},
			},
		},
		DisableDedup: true,
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			zone, _ := params["timezone"].(string)
			if zone == "" {
				zone = "UTC"
			}
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", zone)
			}
			t := now().In(loc)
			return map[string]interface{}{
				"timezone": zone,
				"time":     t.Format(time.RFC3339),
				"weekday":  t.Weekday().String(),
			}, nil
		},
	}
}

// NewCalculatorTool evaluates one binary arithmetic operation
func NewCalculatorTool() *domain.Tool {
	return &domain.Tool{
		Name:        "calculate",
		Description: "Applies an arithmetic operator (+, -, *, /) to two numbers",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"a":  map[string]interface{}{"type": "number", "description": "Left operand"},
				"b":  map[string]interface{}{"type": "number", "description": "Right operand"},
				"op": map[string]interface{}{"type": "string", "enum": []interface{}{"+", "-", "*", "/"}},
			},
			Required: []string{"a", "b", "op"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			a, err := numberParam(params, "a")
			if err != nil {
				return nil, err
			}
			b, err := numberParam(params, "b")
			if err != nil {
				return nil, err
			}
			op, _ := params["op"].(string)

			var v float64
			switch op {
			case "+":
				v = a + b
			case "-":
				v = a - b
			case "*":
				v = a * b
			case "/":
				if b == 0 {
					return nil, fmt.Errorf("division by zero")
				}
				v = a / b
			default:
				return nil, fmt.Errorf("unsupported operator %q", op)
			}
			return map[string]interface{}{"result": v}, nil
		},
	}
}

// NewEchoTool returns its input
func NewEchoTool() *domain.Tool {
	return &domain.Tool{
		Name:        "echo",
		Description: "Returns the given text unchanged",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			Required: []string{"text"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			text, ok := params["text"].(string)
			if !ok {
				return nil, fmt.Errorf("text must be a string")
			}
			return map[string]interface{}{"text": text}, nil
		},
	}
}

// RegisterBuiltinTools adds the host tools to reg.
func RegisterBuiltinTools(reg *domain.ToolRegistry) error {
	for _, t := range []*domain.Tool{NewCurrentTimeTool(nil), NewCalculatorTool(), NewEchoTool()} {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}

// numberParam reads a numeric parameter; decoded params keep numbers as
// json.Number.
func numberParam(params map[string]interface{}, name string) (float64, error) {
	switch v := params[name].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", name)
		}
		return f, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s must be a number", name)
	}
}
