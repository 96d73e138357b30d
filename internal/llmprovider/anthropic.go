// Package llmprovider implements concrete internal/llm.Client adapters over
// each vendor SDK pulled in by the teacher corpus. Each adapter translates
// the uniform completion contract to/from its SDK's wire types; no
// SDK-specific type ever crosses back out of this package.
package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/llmerrors"
)

// AnthropicClient wraps the Anthropic SDK behind llm.Client.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds an Anthropic-backed client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:  model,
	}
}

func (c *AnthropicClient) GetModelName() string { return c.model }

// Complete implements llm.Client.
func (c *AnthropicClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	system, rest, err := splitSystemAndValidate(req.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.Generic, err.Error())
	}

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		var blocks []anthropic.ContentBlockParamUnion

		for _, tr := range m.ToolResults {
			textBlock := anthropic.TextBlockParam{Text: tr.Content, Type: "text"}
			content := anthropic.ToolResultBlockParamContentUnion{OfText: &textBlock}
			block := anthropic.ContentBlockParamUnion{}
			block.OfToolResult = &anthropic.ToolResultBlockParam{
				Type:      "tool_result",
				ToolUseID: tr.ToolCallID,
				Content:   []anthropic.ToolResultBlockParamContentUnion{content},
				IsError:   anthropic.Bool(tr.IsError),
			}
			blocks = append(blocks, block)
		}

		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}

		for _, tc := range m.ToolCalls {
			block := anthropic.ContentBlockParamUnion{}
			block.OfToolUse = &anthropic.ToolUseBlockParam{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: tc.Parameters,
			}
			blocks = append(blocks, block)
		}

		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(m.Role),
			Content: blocks,
		})
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		if req.ToolChoice == "any" {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err, 0)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.Generic, "empty response from Anthropic API")
	}

	var text string
	var calls []llm.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			var params map[string]any
			if err := json.Unmarshal(tu.Input, &params); err != nil {
				return llm.CompletionResponse{}, fmt.Errorf("parsing tool input: %w", err)
			}
			calls = append(calls, llm.ToolCall{ID: tu.ID, Name: tu.Name, Parameters: params})
		}
	}

	return llm.CompletionResponse{
		Content:    text,
		ToolCalls:  calls,
		StopReason: llm.StopReason(resp.StopReason),
		Model:      c.model,
	}, nil
}

func toAnthropicTools(defs []llm.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		props := map[string]any{}
		for name, p := range d.InputSchema.Properties {
			propMap := map[string]any{"type": p.Type}
			if p.Description != "" {
				propMap["description"] = p.Description
			}
			if len(p.Enum) > 0 {
				propMap["enum"] = p.Enum
			}
			props[name] = propMap
		}
		tool := anthropic.ToolParam{
			Name: d.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   d.InputSchema.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParamOfTool(tool.InputSchema, tool.Name))
	}
	return out
}

// splitSystemAndValidate extracts system messages and ensures strict
// user/assistant alternation required by the Anthropic wire format.
func splitSystemAndValidate(messages []llm.Message) (string, []llm.Message, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var rest []llm.Message
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	for i := 1; i < len(rest); i++ {
		if rest[i].Role == rest[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, rest[i].Role)
		}
	}

	return strings.Join(systemParts, "\n\n"), rest, nil
}
