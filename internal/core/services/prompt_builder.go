package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

const defaultIdentity = "You are an autonomous agent that reaches goals by calling tools."

// decisionFormat is the free-form contract used when function calling is
// off or yields nothing.
const decisionFormat = `Reply with ONE JSON object and nothing else:
{
  "thoughts": "<private reasoning, never shown to the user>",
  "action": "plan" | "tool_call" | "multi_tool_call" | "finish",
  "summary": "<plan summary, for plan>",
  "tool": "<EXACT tool name, for tool_call>",
  "params": { ... },
  "calls": [{"tool": "<name>", "params": { ... }, "reason": "<why>"}],
  "answer": "<final answer, for finish>",
  "status": {"title": "<short>", "details": "<one line>", "next_hint": "<what comes next>", "progress": 0-100}
}

RULES:
1. Use the EXACT tool name from the list. Do NOT invent tool names.
2. Use multi_tool_call only for independent calls.
3. Do not repeat a call that already succeeded; its observation is above.
4. When an observation starts with "Error:", fix the arguments or choose another tool.
5. Finish as soon as the goal is met.`

// PromptBuilder is the default ports.MessageBuilder. It renders the goal,
// the latest reasoning conclusion and every turn of the agent's history.
type PromptBuilder struct {
	identity string
}

// NewPromptBuilder creates a builder. An empty identity uses a generic one.
func NewPromptBuilder(identity string) *PromptBuilder {
	if identity == "" {
		identity = defaultIdentity
	}
	return &PromptBuilder{identity: identity}
}

// Build implements ports.MessageBuilder.
func (b *PromptBuilder) Build(state *domain.AgentState, tools []domain.ToolSpec) []domain.ChatMessage {
	var sys strings.Builder
	sys.WriteString(b.identity)
	sys.WriteString("\n\n")
	sys.WriteString(decisionFormat)
	if len(tools) > 0 {
		sys.WriteString("\n\n")
		sys.WriteString(domain.FormatToolSpecs(tools))
	}

	msgs := []domain.ChatMessage{
		domain.SystemMessage(sys.String()),
		domain.UserMessage("Goal: " + state.Goal),
	}

	if c := state.ReasoningMeta[metaConclusion]; c != "" {
		msgs = append(msgs, domain.SystemMessage(fmt.Sprintf("Analysis (%s, confidence %s):\n%s",
			state.ReasoningMeta[metaEngine], state.ReasoningMeta[metaConfidence], c)))
	}

	for _, t := range state.Turns {
		msgs = append(msgs, renderTurn(t)...)
	}
	return msgs
}

func renderTurn(t domain.Turn) []domain.ChatMessage {
	if t.Source == domain.TurnSourceController {
		return []domain.ChatMessage{domain.UserMessage("Controller: " + controllerText(t.Decision))}
	}

	if a, ok := t.Decision.Action.(domain.RetryAction); ok {
		// the model's reply was unusable; show it the parse error only
		return []domain.ChatMessage{domain.UserMessage("Observation: Error: " + a.Reason)}
	}

	calls, results := turnCalls(t)
	if len(calls) > 0 && nativeCalls(calls) {
		// function-calling turns replay as assistant tool_calls + tool messages
		assistant := domain.ChatMessage{Role: domain.RoleAssistant}
		for _, c := range calls {
			args, _ := json.Marshal(nonNil(c.Params))
			assistant.ToolCalls = append(assistant.ToolCalls, domain.FunctionCall{ID: c.CallID, Name: c.Tool, ArgsJSON: string(args)})
		}
		msgs := []domain.ChatMessage{assistant}
		for i, r := range results {
			id := ""
			if i < len(calls) {
				id = calls[i].CallID
			}
			msgs = append(msgs, domain.ChatMessage{Role: domain.RoleTool, Content: Observation(r), ToolCallID: id})
		}
		return msgs
	}

	raw, err := json.Marshal(t.Decision)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"action":%q}`, t.Decision.ActionType()))
	}
	msgs := []domain.ChatMessage{domain.AssistantMessage(string(raw))}
	for _, r := range results {
		msgs = append(msgs, domain.UserMessage("Observation: "+Observation(r)))
	}
	return msgs
}

func controllerText(d domain.Decision) string {
	if a, ok := d.Action.(domain.RetryAction); ok {
		return a.Reason
	}
	return d.Status.Details
}

func turnCalls(t domain.Turn) ([]domain.ToolCall, []domain.ToolResult) {
	if t.ToolCall != nil {
		var results []domain.ToolResult
		if t.Result != nil {
			results = []domain.ToolResult{*t.Result}
		}
		return []domain.ToolCall{*t.ToolCall}, results
	}
	return t.ToolCalls, t.Results
}

func nativeCalls(calls []domain.ToolCall) bool {
	for _, c := range calls {
		if c.CallID == "" {
			return false
		}
	}
	return true
}

func nonNil(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

// Observation renders a tool result the way the model sees it.
func Observation(r domain.ToolResult) string {
	if !r.Success {
		return "Error: " + r.Error
	}
	out, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return truncate(string(out), maxInputOutput)
}

// RenderHistory summarizes the last n turns as plain text, the context
// handed to reasoning engines.
func RenderHistory(turns []domain.Turn, n int) string {
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "#%d %s %s", t.Index, t.Source, t.Decision.ActionType())
		calls, results := turnCalls(t)
		for i, c := range calls {
			args, _ := json.Marshal(nonNil(c.Params))
			fmt.Fprintf(&b, "\n  %s %s", c.Tool, args)
			if i < len(results) {
				fmt.Fprintf(&b, " -> %s", truncate(Observation(results[i]), 200))
			}
		}
		switch a := t.Decision.Action.(type) {
		case domain.RetryAction:
			fmt.Fprintf(&b, ": %s", a.Reason)
		case domain.PlanAction:
			fmt.Fprintf(&b, ": %s", a.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}
