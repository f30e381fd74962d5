package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// Tool represents an executable capability available to the agent
type Tool struct {
	Name        string
	Description string
	Parameters  ToolParameters
	Execute     ToolExecutor

	// DisableDedup opts the tool out of result reuse, for tools whose output
	// changes between identical calls (clocks, random sources, live feeds).
	DisableDedup bool
	// StaleAfter overrides the configured reuse window when non-zero.
	StaleAfter time.Duration
}

// ToolParameters defines the schema for tool inputs
type ToolParameters struct {
	Type       string                 `json:"type"`       // "object"
	Properties map[string]interface{} `json:"properties"` // param definitions
	Required   []string               `json:"required"`   // required param names
}

// ToolExecutor is the function signature for tool execution
type ToolExecutor func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolSpec is the model-facing description of a tool
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// FieldError is a single schema violation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every schema violation of one call.
type ValidationError struct {
	Tool   string       `json:"tool"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Reason)
			continue
		}
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArguments }

// UnknownToolError is returned for names that are not registered.
type UnknownToolError struct {
	Name       string
	Suggestion string
}

func (e *UnknownToolError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("tool not found: %s (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("tool not found: %s", e.Name)
}

func (e *UnknownToolError) Unwrap() error { return ErrUnknownTool }

type registeredTool struct {
	tool   *Tool
	schema *openapi3.Schema // nil when the tool declares no properties
}

// ToolRegistry manages available tools
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool to the registry. The parameter schema is compiled up
// front so a broken schema fails here rather than on first use.
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %s has no executor", tool.Name)
	}
	schema, err := compileSchema(tool.Parameters)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = &registeredTool{tool: tool, schema: schema}
	return nil
}

func compileSchema(p ToolParameters) (*openapi3.Schema, error) {
	if len(p.Properties) == 0 && len(p.Required) == 0 {
		return nil, nil
	}
	if p.Type == "" {
		p.Type = "object"
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	schema := &openapi3.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// Validate checks params against the tool's schema and reports every
// violation with its field path.
func (r *ToolRegistry) Validate(name string, params map[string]interface{}) error {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &UnknownToolError{Name: name, Suggestion: r.Suggest(name)}
	}
	if rt.schema == nil {
		return nil
	}
	value, _ := plainJSON(params).(map[string]interface{})
	if value == nil {
		value = map[string]interface{}{}
	}
	err := rt.schema.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return &ValidationError{Tool: name, Fields: fieldErrors(err)}
}

func fieldErrors(err error) []FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []FieldError
		for _, e := range multi {
			out = append(out, fieldErrors(e)...)
		}
		return out
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return []FieldError{{Field: strings.Join(se.JSONPointer(), "."), Reason: se.Reason}}
	}
	return []FieldError{{Reason: err.Error()}}
}

// plainJSON converts json.Number values (kept for hashing) into float64 so
// the schema validator sees ordinary JSON types.
func plainJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = plainJSON(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = plainJSON(item)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

// Execute validates params and runs the tool. Unknown names are reported as
// *UnknownToolError with the closest registered name as a suggestion;
// they are never silently redirected.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name, Suggestion: r.Suggest(name)}
	}
	if err := r.Validate(name, params); err != nil {
		return nil, err
	}
	return rt.tool.Execute(ctx, params)
}

// Suggest finds the best matching tool name for a hallucinated/wrong name.
// It uses word-overlap scoring + Levenshtein distance as tiebreaker.
// Returns empty string if no reasonable match is found.
func (r *ToolRegistry) Suggest(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inputWords := splitToolWords(input)

	bestName := ""
	bestScore := 0
	for _, name := range r.sortedNamesLocked() {
		score := wordOverlapScore(inputWords, splitToolWords(name))
		if score > bestScore {
			bestScore = score
			bestName = name
		} else if score == bestScore && score > 0 {
			if levenshtein(input, name) < levenshtein(input, bestName) {
				bestName = name
			}
		}
	}
	if bestScore >= 1 {
		return bestName
	}

	// no shared words: accept a close spelling ("get_wether")
	for _, name := range r.sortedNamesLocked() {
		if d := levenshtein(strings.ToLower(input), name); d <= 2 && (bestName == "" || d < levenshtein(strings.ToLower(input), bestName)) {
			bestName = name
		}
	}
	return bestName
}

func splitToolWords(name string) []string {
	parts := []string{}
	for _, p := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	}) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func wordOverlapScore(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	score := 0
	for _, w := range a {
		if set[w] {
			score++
		}
	}
	return score
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// GetTool returns a tool by name
func (r *ToolRegistry) GetTool(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Len is the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ListTools returns all registered tools ordered by name
func (r *ToolRegistry) ListTools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]*Tool, 0, len(r.tools))
	for _, name := range r.sortedNamesLocked() {
		tools = append(tools, r.tools[name].tool)
	}
	return tools
}

// Specs describes every tool for a model request.
func (r *ToolRegistry) Specs() []ToolSpec {
	tools := r.ListTools()
	specs := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return specs
}

func (r *ToolRegistry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatToolsForPrompt generates a concise description of available tools for LLM prompt.
func (r *ToolRegistry) FormatToolsForPrompt() string {
	return FormatToolSpecs(r.Specs())
}

// FormatToolSpecs renders tool specs in the compact prompt format:
// name: description | params | required.
func FormatToolSpecs(specs []ToolSpec) string {
	var b strings.Builder
	b.WriteString("Available Tools:\n")
	for _, tool := range specs {
		reqParams := ""
		if len(tool.Parameters.Required) > 0 {
			reqParams = " | required: " + strings.Join(tool.Parameters.Required, ", ")
		}

		paramsList := ""
		if len(tool.Parameters.Properties) > 0 {
			names := make([]string, 0, len(tool.Parameters.Properties))
			for pName := range tool.Parameters.Properties {
				names = append(names, pName)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, pName := range names {
				pType := "any"
				if pm, ok := tool.Parameters.Properties[pName].(map[string]interface{}); ok {
					if t, ok := pm["type"].(string); ok {
						pType = t
					}
				}
				parts = append(parts, pName+":"+pType)
			}
			paramsList = " | params: {" + strings.Join(parts, ", ") + "}"
		}

		fmt.Fprintf(&b, "- %s: %s%s%s\n", tool.Name, tool.Description, paramsList, reqParams)
	}
	return b.String()
}

// FilterByNames returns a new ToolRegistry containing only the tools whose names match the given list.
// The new registry shares Tool pointers with the original (same Execute funcs).
func (r *ToolRegistry) FilterByNames(names []string) *ToolRegistry {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	filtered := NewToolRegistry()
	for name, rt := range r.tools {
		if _, ok := allowed[name]; ok {
			filtered.tools[name] = rt
		}
	}
	return filtered
}
