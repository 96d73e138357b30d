package gate_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/gate"
	"github.com/Taoidle/plan-cascade/internal/logx"
)

func newRunner() *gate.Runner {
	return gate.NewRunner(logx.New("test", bytes.NewBuffer(nil)))
}

func TestDetect_GoProject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))

	backend := newRunner().Detect(dir)
	assert.Equal(t, "go", backend.Name())
}

func TestDetect_FallsBackToNull(t *testing.T) {
	dir := t.TempDir()
	backend := newRunner().Detect(dir)
	assert.Equal(t, "null", backend.Name())
}

func TestRun_CustomGatePassAndFail(t *testing.T) {
	dir := t.TempDir()
	gates := []gate.GateConfig{
		{Name: "ok", Type: gate.GateCustom, Command: []string{"sh", "-c", "exit 0"}, Enabled: true, Required: true},
		{Name: "broken", Type: gate.GateCustom, Command: []string{"sh", "-c", "echo build error: widget missing >&2; exit 1"}, Enabled: true, Required: true},
		{Name: "disabled", Type: gate.GateCustom, Command: []string{"sh", "-c", "exit 1"}, Enabled: false, Required: true},
	}

	outputs := newRunner().Run(context.Background(), dir, gates)

	require.Contains(t, outputs, "ok")
	assert.True(t, outputs["ok"].Passed)

	require.Contains(t, outputs, "broken")
	assert.False(t, outputs["broken"].Passed)
	assert.Equal(t, 1, outputs["broken"].ExitCode)
	assert.Contains(t, outputs["broken"].ErrorSummary, "error")

	assert.NotContains(t, outputs, "disabled")
}

func TestRun_MissingCommandSkipsGracefully(t *testing.T) {
	dir := t.TempDir()
	gates := []gate.GateConfig{
		{Name: "missing", Type: gate.GateCustom, Command: []string{"definitely-not-a-real-binary-xyz"}, Enabled: true, Required: true},
	}

	outputs := newRunner().Run(context.Background(), dir, gates)
	assert.True(t, outputs["missing"].Passed)
	assert.True(t, outputs["missing"].Skipped)
}

func TestShouldAllowProgression(t *testing.T) {
	gates := []gate.GateConfig{
		{Name: "test", Enabled: true, Required: true},
		{Name: "lint", Enabled: true, Required: false},
	}
	outputs := map[string]gate.GateOutput{
		"test": {Name: "test", Passed: true},
		"lint": {Name: "lint", Passed: false},
	}
	assert.True(t, gate.ShouldAllowProgression(gates, outputs))

	outputs["test"] = gate.GateOutput{Name: "test", Passed: false}
	assert.False(t, gate.ShouldAllowProgression(gates, outputs))
}
