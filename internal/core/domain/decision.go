package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType tags the variant of a model decision
type ActionType string

const (
	ActionPlan          ActionType = "plan"
	ActionToolCall      ActionType = "tool_call"
	ActionMultiToolCall ActionType = "multi_tool_call"
	ActionFinish        ActionType = "finish"
	ActionRetry         ActionType = "retry"
)

// Action is the closed set of things a decision can ask for. Only the types
// in this file implement it.
type Action interface {
	Type() ActionType
	isAction()
}

// PlanAction records intent without doing anything yet.
type PlanAction struct {
	Summary string `json:"summary"`
}

// ToolCallAction asks for one tool invocation.
type ToolCallAction struct {
	Call ToolCall `json:"call"`
}

// MultiToolCallAction asks for several invocations in one turn.
type MultiToolCallAction struct {
	Calls []ToolCall `json:"calls"`
}

// FinishAction ends the run with an answer for the user.
type FinishAction struct {
	Answer string `json:"answer"`
}

// RetryAction is produced when a turn could not be acted upon.
type RetryAction struct {
	Reason string `json:"reason"`
}

func (PlanAction) Type() ActionType          { return ActionPlan }
func (ToolCallAction) Type() ActionType      { return ActionToolCall }
func (MultiToolCallAction) Type() ActionType { return ActionMultiToolCall }
func (FinishAction) Type() ActionType        { return ActionFinish }
func (RetryAction) Type() ActionType         { return ActionRetry }

func (PlanAction) isAction()          {}
func (ToolCallAction) isAction()      {}
func (MultiToolCallAction) isAction() {}
func (FinishAction) isAction()        {}
func (RetryAction) isAction()         {}

// ToolCall is one requested invocation. Reason is only set inside
// multi-call decisions; CallID carries the provider's function-call id.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
	Reason string         `json:"reason,omitempty"`
	CallID string         `json:"call_id,omitempty"`
}

// Status is the public progress report attached to a decision. It is shown
// to users and must never contain the model's private thoughts.
type Status struct {
	Title    string `json:"title,omitempty"`
	Details  string `json:"details,omitempty"`
	NextHint string `json:"next_hint,omitempty"`
	Progress int    `json:"progress,omitempty"` // percent, 0-100
}

// UnmarshalJSON tolerates progress given as a float or a "40%" string.
func (s *Status) UnmarshalJSON(data []byte) error {
	var w struct {
		Title    string          `json:"title"`
		Details  string          `json:"details"`
		NextHint string          `json:"next_hint"`
		Progress json.RawMessage `json:"progress"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Title, s.Details, s.NextHint = w.Title, w.Details, w.NextHint
	s.Progress = 0
	raw := strings.Trim(strings.TrimSpace(string(w.Progress)), `"%`)
	if raw != "" && raw != "null" {
		var f float64
		if _, err := fmt.Sscanf(raw, "%g", &f); err == nil {
			s.Progress = clampPercent(int(f))
		}
	}
	return nil
}

// Decision is a parsed model reply.
type Decision struct {
	Thoughts string
	Action   Action
	Status   Status
}

// ActionType returns the tag of the decision's action, or "" when unset.
func (d Decision) ActionType() ActionType {
	if d.Action == nil {
		return ""
	}
	return d.Action.Type()
}

// decisionWire is the flat JSON form models are asked to produce and the
// form decisions are persisted in.
type decisionWire struct {
	Thoughts string          `json:"thoughts,omitempty"`
	Action   json.RawMessage `json:"action"`
	Summary  string          `json:"summary,omitempty"`
	Tool     string          `json:"tool,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Calls    []callWire      `json:"calls,omitempty"`
	Answer   string          `json:"answer,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	CallID   string          `json:"call_id,omitempty"`
	Status   *Status         `json:"status,omitempty"`
}

type callWire struct {
	Tool      string          `json:"tool"`
	Name      string          `json:"name,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
}

// MarshalJSON writes the flat wire form.
func (d Decision) MarshalJSON() ([]byte, error) {
	w := map[string]any{}
	if d.Thoughts != "" {
		w["thoughts"] = d.Thoughts
	}
	if d.Status != (Status{}) {
		w["status"] = d.Status
	}
	switch a := d.Action.(type) {
	case nil:
	case PlanAction:
		w["action"] = ActionPlan
		w["summary"] = a.Summary
	case ToolCallAction:
		w["action"] = ActionToolCall
		w["tool"] = a.Call.Tool
		w["params"] = nonNilParams(a.Call.Params)
		if a.Call.CallID != "" {
			w["call_id"] = a.Call.CallID
		}
	case MultiToolCallAction:
		w["action"] = ActionMultiToolCall
		calls := make([]ToolCall, len(a.Calls))
		for i, c := range a.Calls {
			c.Params = nonNilParams(c.Params)
			calls[i] = c
		}
		w["calls"] = calls
	case FinishAction:
		w["action"] = ActionFinish
		w["answer"] = a.Answer
	case RetryAction:
		w["action"] = ActionRetry
		w["reason"] = a.Reason
	default:
		return nil, fmt.Errorf("marshal decision: unsupported action %T", a)
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the flat wire form plus the variations models tend
// to produce: a nested action object ({"action":{"type":...}}), "name" or
// "arguments" instead of "tool"/"params", and arguments given as a JSON
// string.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w decisionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var generic map[string]json.RawMessage
	_ = json.Unmarshal(data, &generic)
	if generic == nil {
		generic = map[string]json.RawMessage{}
	}

	actionTag, nested := parseActionField(w.Action)
	if nested != nil {
		// fields inside the nested action object fill whatever the flat form left empty
		var inner decisionWire
		if err := json.Unmarshal(nested, &inner); err == nil {
			mergeWire(&w, inner)
		}
		var innerGeneric map[string]json.RawMessage
		if err := json.Unmarshal(nested, &innerGeneric); err == nil {
			for k, v := range innerGeneric {
				if _, ok := generic[k]; !ok {
					generic[k] = v
				}
			}
		}
	}

	d.Thoughts = w.Thoughts
	if d.Thoughts == "" {
		for _, k := range []string{"thought", "reasoning"} {
			if raw, ok := generic[k]; ok {
				_ = json.Unmarshal(raw, &d.Thoughts)
				break
			}
		}
	}
	if w.Status != nil {
		d.Status = *w.Status
		d.Status.Progress = clampPercent(d.Status.Progress)
	}

	if w.Tool == "" {
		if raw, ok := generic["name"]; ok {
			_ = json.Unmarshal(raw, &w.Tool)
		}
	}
	params := w.Params
	if len(params) == 0 {
		params = generic["arguments"]
	}

	switch ActionType(strings.ToLower(strings.TrimSpace(actionTag))) {
	case ActionPlan:
		d.Action = PlanAction{Summary: w.Summary}
	case ActionToolCall:
		if w.Tool == "" {
			return fmt.Errorf("tool_call without tool name")
		}
		p, err := NormalizeArguments(params)
		if err != nil {
			return fmt.Errorf("tool_call %s: %w", w.Tool, err)
		}
		d.Action = ToolCallAction{Call: ToolCall{Tool: w.Tool, Params: p, CallID: w.CallID}}
	case ActionMultiToolCall:
		calls := make([]ToolCall, 0, len(w.Calls))
		for i, c := range w.Calls {
			name := c.Tool
			if name == "" {
				name = c.Name
			}
			if name == "" {
				return fmt.Errorf("multi_tool_call entry %d without tool name", i)
			}
			raw := c.Params
			if len(raw) == 0 {
				raw = c.Arguments
			}
			p, err := NormalizeArguments(raw)
			if err != nil {
				return fmt.Errorf("multi_tool_call %s: %w", name, err)
			}
			calls = append(calls, ToolCall{Tool: name, Params: p, Reason: c.Reason, CallID: c.CallID})
		}
		if len(calls) == 0 {
			return fmt.Errorf("multi_tool_call without calls")
		}
		d.Action = MultiToolCallAction{Calls: calls}
	case ActionFinish:
		answer := w.Answer
		if answer == "" {
			for _, k := range []string{"final_answer", "result", "summary"} {
				if raw, ok := generic[k]; ok {
					_ = json.Unmarshal(raw, &answer)
					if answer != "" {
						break
					}
				}
			}
		}
		d.Action = FinishAction{Answer: answer}
	case ActionRetry:
		d.Action = RetryAction{Reason: w.Reason}
	case "":
		d.Action = nil
	default:
		return fmt.Errorf("unknown action %q", actionTag)
	}
	return nil
}

// ParseDecision decodes a model reply that is already plain JSON.
func ParseDecision(raw []byte) (Decision, error) {
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, fmt.Errorf("parse decision: %w", err)
	}
	if d.Action == nil {
		return Decision{}, fmt.Errorf("parse decision: %w", ErrNoDecision)
	}
	return d, nil
}

// NormalizeArguments turns tool arguments into a parameter map. Arguments
// encoded as a JSON string are decoded; numbers stay json.Number.
func NormalizeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		trimmed = strings.TrimSpace(inner)
		if trimmed == "" {
			return map[string]any{}, nil
		}
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func parseActionField(raw json.RawMessage) (string, json.RawMessage) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var obj struct {
			Type string `json:"type"`
			Name string `json:"name"`
		}
		_ = json.Unmarshal(raw, &obj)
		tag := obj.Type
		if tag == "" && obj.Name != "" {
			// {"action":{"name":"get_weather","arguments":{...}}}
			tag = string(ActionToolCall)
			if isActionTag(obj.Name) {
				tag = obj.Name
			}
		}
		return tag, raw
	}
	var tag string
	_ = json.Unmarshal(raw, &tag)
	return tag, nil
}

func isActionTag(s string) bool {
	switch ActionType(strings.ToLower(s)) {
	case ActionPlan, ActionToolCall, ActionMultiToolCall, ActionFinish, ActionRetry:
		return true
	}
	return false
}

func mergeWire(dst *decisionWire, src decisionWire) {
	if dst.Summary == "" {
		dst.Summary = src.Summary
	}
	if dst.Tool == "" {
		dst.Tool = src.Tool
	}
	if len(dst.Params) == 0 {
		dst.Params = src.Params
	}
	if len(dst.Calls) == 0 {
		dst.Calls = src.Calls
	}
	if dst.Answer == "" {
		dst.Answer = src.Answer
	}
	if dst.Reason == "" {
		dst.Reason = src.Reason
	}
	if dst.Status == nil {
		dst.Status = src.Status
	}
}

func nonNilParams(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

func clampPercent(p int) int {
	return max(0, min(100, p))
}
