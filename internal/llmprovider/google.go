package llmprovider

// google.go adapts google.golang.org/genai (Gemini) to llm.Client.

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/llmerrors"
)

// GoogleClient wraps the Gemini API behind llm.Client. The underlying
// genai.Client is created lazily on first use since its construction
// requires a context.
type GoogleClient struct {
	client *genai.Client
	apiKey string
	model  string
	// cache preserves assistant Content entries (including any thought
	// signatures Gemini attaches) across turns of the same conversation.
	cache []*genai.Content
}

// NewGoogleClient builds a Gemini-backed client for the given model.
func NewGoogleClient(apiKey, model string) *GoogleClient {
	return &GoogleClient{apiKey: apiKey, model: model}
}

func (c *GoogleClient) GetModelName() string { return c.model }

func (c *GoogleClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.Generic, err, "failed to create Gemini client")
		}
		c.client = client
	}

	contents, systemInstruction, err := c.toGeminiContents(req.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.Generic, err.Error())
	}

	temp := req.Temperature
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if systemInstruction != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}}
	}
	if len(req.Tools) > 0 {
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: toGeminiDeclarations(req.Tools)}}
		genConfig.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny},
		}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err, 0)
	}
	if result == nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.Generic, "empty response from Gemini API")
	}

	if len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		c.cache = append(c.cache, result.Candidates[0].Content)
	}

	resp := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: llm.StopEndTurn,
		Model:      c.model,
	}
	if calls := result.FunctionCalls(); len(calls) > 0 {
		resp.ToolCalls = fromGeminiCalls(calls)
		resp.StopReason = llm.StopToolUse
	}
	return resp, nil
}

func (c *GoogleClient) toGeminiContents(messages []llm.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content
	assistantIdx := 0

	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n" + m.Content
			} else {
				systemInstruction = m.Content
			}
			continue
		}

		var role string
		switch m.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", m.Role)
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 && assistantIdx < len(c.cache) {
			contents = append(contents, c.cache[assistantIdx])
			assistantIdx++
			continue
		}
		if m.Role == llm.RoleAssistant {
			assistantIdx++
		}

		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, &genai.Part{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Parameters, ID: tc.ID}})
		}
		for _, tr := range m.ToolResults {
			if tr.ToolCallID == "" {
				continue
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     tr.ToolCallID,
				Response: map[string]any{"content": tr.Content, "is_error": tr.IsError},
			}})
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	return contents, systemInstruction, nil
}

func toGeminiDeclarations(defs []llm.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(defs))
	for i, d := range defs {
		properties := make(map[string]*genai.Schema, len(d.InputSchema.Properties))
		for name, p := range d.InputSchema.Properties {
			properties[name] = toGeminiSchema(p)
		}
		out[i] = &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: properties, Required: d.InputSchema.Required},
		}
	}
	return out
}

func toGeminiSchema(p llm.PropertySchema) *genai.Schema {
	schema := &genai.Schema{Description: p.Description}
	switch p.Type {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if p.Items != nil {
			schema.Items = toGeminiSchema(*p.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if p.Properties != nil {
			props := make(map[string]*genai.Schema, len(p.Properties))
			for name, child := range p.Properties {
				props[name] = toGeminiSchema(child)
			}
			schema.Properties = props
		}
	default:
		schema.Type = genai.TypeString
	}
	if len(p.Enum) > 0 {
		schema.Enum = p.Enum
	}
	return schema
}

func fromGeminiCalls(calls []*genai.FunctionCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = call.Name
		}
		out[i] = llm.ToolCall{ID: id, Name: call.Name, Parameters: call.Args}
	}
	return out
}
