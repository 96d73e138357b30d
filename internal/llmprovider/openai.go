package llmprovider

// openai.go adapts github.com/openai/openai-go's Chat Completions API to
// llm.Client.

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/llmerrors"
)

// OpenAIClient wraps the official OpenAI Go SDK behind llm.Client, using the
// Chat Completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds an OpenAI-backed client for the given model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *OpenAIClient) GetModelName() string { return c.model }

func (c *OpenAIClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
		for _, tr := range m.ToolResults {
			messages = append(messages, openai.ToolMessage(tr.Content, tr.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(float64(req.Temperature)),
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, d := range req.Tools {
			properties := map[string]any{}
			for name, p := range d.InputSchema.Properties {
				properties[name] = map[string]any{"type": p.Type, "description": p.Description}
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        d.Name,
					Description: openai.String(d.Description),
					Parameters: openai.FunctionParameters{
						"type":       "object",
						"properties": properties,
						"required":   d.InputSchema.Required,
					},
				},
			})
		}
		params.Tools = tools
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err, 0)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.Generic, "empty response from OpenAI API")
	}

	choice := resp.Choices[0]
	var calls []llm.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var params map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &params)
		}
		calls = append(calls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: params})
	}

	stopReason := llm.StopEndTurn
	if len(calls) > 0 {
		stopReason = llm.StopToolUse
	}
	if choice.FinishReason == "length" {
		stopReason = llm.StopMaxTokens
	}

	var usage *llm.Usage
	if resp.Usage.TotalTokens > 0 {
		usage = &llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		}
	}

	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		ToolCalls:  calls,
		StopReason: stopReason,
		Usage:      usage,
		Model:      c.model,
	}, nil
}
