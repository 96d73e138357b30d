package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/config"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "claude-code", cfg.DefaultAgent)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Nil(t, cfg.Agents)
}

func TestLoad_ParsesAgentsAndFallbackChain(t *testing.T) {
	dir := t.TempDir()
	data := `
default_agent: codex
max_retry_attempts: 3
fallback_chain:
  - codex
  - aider
agents:
  codex:
    type: cli
    command: codex
    args: ["--yolo"]
  aider:
    type: cli
    command: aider
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cascade.yaml"), []byte(data), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "codex", cfg.DefaultAgent)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.Equal(t, []string{"codex", "aider"}, cfg.FallbackChain)
	require.Contains(t, cfg.Agents, "codex")
	require.Contains(t, cfg.Agents, "aider")
	assert.Equal(t, "codex", cfg.Agents["codex"].Command)
	assert.Equal(t, []string{"--yolo"}, cfg.Agents["codex"].Args)
}
