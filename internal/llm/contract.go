// Package llm defines the provider-agnostic LLM completion contract consumed
// by the ReAct engine (C3) and the Strategy Analyzer (C9). Concrete wire
// details of any given provider live in internal/llmprovider and never leak
// past this contract (spec.md §6).
package llm

import "context"

// Role is the role of a message in a completion transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID         string
	Name       string
	Parameters map[string]any
}

// ToolResult is the outcome of executing a ToolCall, fed back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one turn in the completion transcript.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// PropertySchema is a JSON-schema-shaped parameter description.
type PropertySchema struct {
	Type        string
	Description string
	Enum        []string
	Items       *PropertySchema
	Properties  map[string]PropertySchema
}

// InputSchema describes the parameters a tool accepts.
type InputSchema struct {
	Type       string
	Properties map[string]PropertySchema
	Required   []string
}

// ToolDefinition is the schema the model sees for a callable tool.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema InputSchema
}

// CompletionRequest is a request to generate a completion.
type CompletionRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	ToolChoice  string
	Temperature float32
	MaxTokens   int
}

// Usage reports token accounting for a completion, when the provider exposes it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionResponse is the provider-agnostic completion result.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      *Usage
	Model      string
}

// Client is the uniform LLM provider contract (spec.md §6): "consumed, not
// provided". Concrete adapters in internal/llmprovider implement it.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	GetModelName() string
}
