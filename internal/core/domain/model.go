package domain

// ModelRequest is a single call to a language model.
type ModelRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Tools       []ToolSpec    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
	// JSONMode asks providers that support it for a bare JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FunctionCallDelta is a fragment of a structured call as it streams in.
// Fragments sharing an Index belong to the same call.
type FunctionCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	ArgsJSON string `json:"args_json,omitempty"`
}

// ModelChunk is one streamed piece of a model response.
type ModelChunk struct {
	Content      string             `json:"content,omitempty"`
	IsFinal      bool               `json:"is_final,omitempty"`
	FinishReason string             `json:"finish_reason,omitempty"`
	FunctionCall *FunctionCallDelta `json:"function_call,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
	Err          error              `json:"-"`
}

// FunctionCall is a complete structured call.
type FunctionCall struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	ArgsJSON string `json:"args_json"`
}

// ModelResponse is a whole response after aggregation.
type ModelResponse struct {
	Content       string         `json:"content"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	Usage         Usage          `json:"usage"`
}
