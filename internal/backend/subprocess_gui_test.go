package backend_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/backend"
	"github.com/Taoidle/plan-cascade/internal/config"
	"github.com/Taoidle/plan-cascade/internal/logx"
)

func TestSubprocessGUIBackend_DemultiplexesEvents(t *testing.T) {
	dir := t.TempDir()
	script := `
echo '{"type":"text","text":"hello"}'
echo '{"type":"tool_use","tool_name":"read_file","tool_call_id":"1"}'
echo '{"type":"session_id","session_id":"sess-123"}'
echo '{"type":"final_result","final_result":{"ok":true}}'
`
	cfg := config.AgentConfig{
		Type:       "gui-agent",
		Command:    "sh",
		Args:       []string{"-c", script},
		TimeoutSec: 5,
	}

	var texts []string
	var toolCalls []string
	callbacks := backend.Callbacks{
		OnText:     func(text string) { texts = append(texts, text) },
		OnToolCall: func(name, callID string) { toolCalls = append(toolCalls, name+":"+callID) },
	}

	b := backend.NewSubprocessGUIBackend(cfg, logx.New("test", bytes.NewBuffer(nil)), callbacks)
	execCtx := backend.ExecContext{ProjectRoot: dir, OutputLogPath: filepath.Join(dir, "story.log")}

	result, err := b.Execute(context.Background(), execCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ToolCalls)
	assert.Equal(t, []string{"hello"}, texts)
	assert.Equal(t, []string{"read_file:1"}, toolCalls)
	assert.Contains(t, result.Output, "hello")
	assert.NotNil(t, result.Metadata["final_result"])
}
