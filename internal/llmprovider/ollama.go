package llmprovider

// ollama.go adapts github.com/ollama/ollama/api (a local LLM runtime) to
// llm.Client.

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/llmerrors"
)

// OllamaClient wraps a local Ollama server behind llm.Client.
type OllamaClient struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClient builds a client against an Ollama server, e.g.
// "http://localhost:11434".
func NewOllamaClient(hostURL, model string) *OllamaClient {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaClient{
		client:  api.NewClient(parsed, http.DefaultClient),
		model:   model,
		hostURL: hostURL,
	}
}

func (c *OllamaClient) GetModelName() string { return c.model }

func (c *OllamaClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages, err := toOllamaMessages(req.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.Generic, err.Error())
	}

	stream := false
	apiReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = toOllamaTools(req.Tools)
	}

	var resp api.ChatResponse
	err = c.client.Chat(ctx, apiReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyOllamaError(err)
	}

	out := llm.CompletionResponse{
		Content:    resp.Message.Content,
		StopReason: ollamaStopReason(&resp),
		Model:      c.model,
	}
	if len(resp.Message.ToolCalls) > 0 {
		out.ToolCalls = fromOllamaToolCalls(resp.Message.ToolCalls)
	}
	return out, nil
}

func toOllamaMessages(messages []llm.Message) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msg := api.Message{Role: string(m.Role), Content: m.Content}

		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]api.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				msg.ToolCalls[j] = api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: api.ToolCallFunctionArguments(tc.Parameters),
					},
				}
			}
		}

		if len(m.ToolResults) > 0 {
			for _, tr := range m.ToolResults {
				result = append(result, api.Message{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
			if m.Content != "" {
				result = append(result, msg)
			}
			continue
		}

		result = append(result, msg)
	}
	return result, nil
}

func toOllamaTools(defs []llm.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i, d := range defs {
		properties := make(map[string]api.ToolProperty, len(d.InputSchema.Properties))
		for name, p := range d.InputSchema.Properties {
			properties[name] = toOllamaProperty(p)
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       d.InputSchema.Type,
					Properties: properties,
					Required:   d.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func toOllamaProperty(p llm.PropertySchema) api.ToolProperty {
	prop := api.ToolProperty{
		Type:        api.PropertyType{p.Type},
		Description: p.Description,
	}
	if len(p.Enum) > 0 {
		vals := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			vals[i] = v
		}
		prop.Enum = vals
	}
	if p.Properties != nil {
		nested := make(map[string]api.ToolProperty, len(p.Properties))
		for name, np := range p.Properties {
			nested[name] = toOllamaProperty(np)
		}
		prop.Items = map[string]any{"type": "object", "properties": nested}
	}
	if p.Items != nil {
		prop.Items = toOllamaProperty(*p.Items)
	}
	return prop
}

func fromOllamaToolCalls(calls []api.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out[i] = llm.ToolCall{ID: id, Name: c.Function.Name, Parameters: map[string]any(c.Function.Arguments)}
	}
	return out
}

func ollamaStopReason(resp *api.ChatResponse) llm.StopReason {
	if !resp.Done {
		return llm.StopEndTurn
	}
	switch resp.DoneReason {
	case "length":
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}

func classifyOllamaError(err error) error {
	if err == nil {
		return nil
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.Wrap(llmerrors.Generic, err, "ollama server not reachable")
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.Wrap(llmerrors.ModelNotFound, err, "ollama model not found")
	default:
		return llmerrors.Classify(err, 0)
	}
}
