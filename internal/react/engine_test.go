package react_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/react"
	"github.com/Taoidle/plan-cascade/internal/toolregistry"
)

type mockClient struct {
	responses []llm.CompletionResponse
	calls     int
}

func (m *mockClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	if m.calls >= len(m.responses) {
		return llm.CompletionResponse{}, errors.New("no more mock responses")
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func (m *mockClient) GetModelName() string { return "mock-model" }

func newLogger() *logx.Logger {
	return logx.New("test", bytes.NewBuffer(nil))
}

// TestRun_CompletionMarker mirrors scenario S6: the LLM returns a completion
// marker on iteration 3 without tool calls.
func TestRun_CompletionMarker(t *testing.T) {
	client := &mockClient{responses: []llm.CompletionResponse{
		{Content: "working on it", StopReason: llm.StopEndTurn, ToolCalls: []llm.ToolCall{{ID: "1", Name: "noop"}}},
		{Content: "still working", StopReason: llm.StopEndTurn, ToolCalls: []llm.ToolCall{{ID: "2", Name: "noop"}}},
		{Content: "all done\nTASK_COMPLETE\n", StopReason: llm.StopEndTurn},
	}}

	registry := toolregistry.New()
	registry.Register(toolregistry.Tool{
		Definition: llm.ToolDefinition{Name: "noop"},
		Handler:    func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil },
	})

	engine := react.New(client, registry, newLogger())
	out := engine.Run(context.Background(), "system prompt", "do the task", react.DefaultConfig(), nil)

	require.NoError(t, out.Err)
	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Iterations)
	assert.Contains(t, out.Output, "TASK_COMPLETE")
}

func TestRun_FailureMarker(t *testing.T) {
	client := &mockClient{responses: []llm.CompletionResponse{
		{Content: "cannot proceed\nTASK_FAILED: missing dependency\n", StopReason: llm.StopEndTurn},
	}}
	registry := toolregistry.New()
	registry.Register(toolregistry.Tool{Definition: llm.ToolDefinition{Name: "noop"}, Handler: func(_ context.Context, _ map[string]any) (any, error) { return nil, nil }})

	engine := react.New(client, registry, newLogger())
	out := engine.Run(context.Background(), "system prompt", "do the task", react.DefaultConfig(), nil)

	require.NoError(t, out.Err)
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Iterations)
}

func TestRun_IterationCap(t *testing.T) {
	responses := make([]llm.CompletionResponse, 3)
	for i := range responses {
		responses[i] = llm.CompletionResponse{Content: "keep going", StopReason: llm.StopToolUse, ToolCalls: []llm.ToolCall{{ID: "x", Name: "noop"}}}
	}
	client := &mockClient{responses: responses}
	registry := toolregistry.New()
	registry.Register(toolregistry.Tool{Definition: llm.ToolDefinition{Name: "noop"}, Handler: func(_ context.Context, _ map[string]any) (any, error) { return "ok", nil }})

	engine := react.New(client, registry, newLogger())
	cfg := react.DefaultConfig()
	cfg.MaxIterations = 3
	out := engine.Run(context.Background(), "system prompt", "do the task", cfg, nil)

	assert.False(t, out.Success)
	require.Error(t, out.Err)
	assert.Equal(t, 3, out.Iterations)
}

func TestRun_ToolErrorContinuesLoop(t *testing.T) {
	client := &mockClient{responses: []llm.CompletionResponse{
		{Content: "try tool", StopReason: llm.StopToolUse, ToolCalls: []llm.ToolCall{{ID: "1", Name: "broken"}}},
		{Content: "done\nTASK_COMPLETE\n", StopReason: llm.StopEndTurn},
	}}
	registry := toolregistry.New()
	registry.Register(toolregistry.Tool{
		Definition: llm.ToolDefinition{Name: "broken"},
		Handler:    func(_ context.Context, _ map[string]any) (any, error) { return nil, errors.New("boom") },
	})

	engine := react.New(client, registry, newLogger())
	out := engine.Run(context.Background(), "system prompt", "do the task", react.DefaultConfig(), nil)

	require.NoError(t, out.Err)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Iterations)
}
