package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/manthysbr/agentcore/internal/core/domain"
	"github.com/manthysbr/agentcore/internal/core/ports"
)

// OpenAIClient streams chat completions from any OpenAI-compatible endpoint.
// Works with: OpenAI, Azure OpenAI, Together AI, local Ollama /v1, etc.
type OpenAIClient struct {
	logger *slog.Logger
	client *openai.Client
	model  string
}

var _ ports.ModelClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for cfg. The API key may be empty for
// local servers that do not check it.
func NewOpenAIClient(logger *slog.Logger, cfg domain.ModelConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		logger: logger,
		client: &client,
		model:  model,
	}
}

// Model returns the model id requests are sent to.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Stream implements ports.ModelClient. Text and tool-call fragments are
// forwarded as they arrive; the last chunk carries the finish reason and
// usage. A transport or API failure arrives as a chunk with Err.
func (c *OpenAIClient) Stream(ctx context.Context, req domain.ModelRequest) (<-chan domain.ModelChunk, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan domain.ModelChunk)

	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(chunk domain.ModelChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage domain.Usage
		var finish string
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage = domain.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				if !send(domain.ModelChunk{Content: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				delta := &domain.FunctionCallDelta{
					Index:    int(tc.Index),
					ID:       tc.ID,
					Name:     tc.Function.Name,
					ArgsJSON: tc.Function.Arguments,
				}
				if !send(domain.ModelChunk{FunctionCall: delta}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				c.logger.Warn("model request rejected", "model", c.model, "status", apiErr.StatusCode)
			}
			send(domain.ModelChunk{Err: fmt.Errorf("openai stream: %w", err)})
			return
		}
		send(domain.ModelChunk{IsFinal: true, FinishReason: finish, Usage: &usage})
	}()

	return ch, nil
}

func (c *OpenAIClient) params(req domain.ModelRequest) (openai.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: msgs,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = tools
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}
	return params, nil
}

func convertMessages(messages []domain.ChatMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case domain.RoleUser:
			result = append(result, openai.UserMessage(msg.Content))
		case domain.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.ArgsJSON,
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case domain.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

func convertTools(specs []domain.ToolSpec) ([]openai.ChatCompletionToolParam, error) {
	result := make([]openai.ChatCompletionToolParam, len(specs))
	for i, spec := range specs {
		p := spec.Parameters
		if p.Type == "" {
			p.Type = "object"
		}
		if p.Properties == nil {
			p.Properties = map[string]interface{}{}
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal parameters for %s: %w", spec.Name, err)
		}
		var params shared.FunctionParameters
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("convert parameters for %s: %w", spec.Name, err)
		}
		result[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  params,
			},
		}
	}
	return result, nil
}
