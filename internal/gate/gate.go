// Package gate runs quality-gate commands (typecheck/test/lint/custom)
// against a story's project directory and decides whether the result
// permits progression (spec.md §4.6, C6). Gate backends are modeled
// directly on the teacher's pkg/build.BuildBackend registry: a small
// Detect/Name capability interface over several concrete per-language
// implementations, chosen by auto-detection priority.
package gate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Taoidle/plan-cascade/internal/logx"
)

// GateType is one of the four gate kinds spec.md §4.6 defines.
type GateType string

const (
	GateTypecheck GateType = "typecheck"
	GateTest      GateType = "test"
	GateLint      GateType = "lint"
	GateCustom    GateType = "custom"
)

const defaultTimeout = 300 * time.Second

// GateConfig describes one configured gate for a story.
type GateConfig struct {
	Name           string
	Type           GateType
	Command        []string // only used when Type == GateCustom
	Enabled        bool
	Required       bool
	TimeoutSeconds int
}

// GateOutput is one gate's result.
type GateOutput struct {
	Name         string
	Passed       bool
	ExitCode     int
	Command      string
	Output       string
	ErrorSummary string
	Duration     time.Duration
	Skipped      bool
}

// Runner auto-detects a project's GateBackend and executes configured
// gates against it.
type Runner struct {
	backends []GateBackend
	logger   *logx.Logger
}

// NewRunner builds a Runner with the standard backend set, in auto-detect
// priority order (spec.md §4.6's table order, NullBackend last as the
// universal fallback).
func NewRunner(logger *logx.Logger) *Runner {
	return &Runner{
		backends: []GateBackend{
			&NodeBackend{},
			&PythonBackend{},
			&RustBackend{},
			&GoBackend{},
			&NullBackend{},
		},
		logger: logger,
	}
}

// Detect returns the first backend whose Detect(root) matches.
func (r *Runner) Detect(root string) GateBackend {
	for _, b := range r.backends {
		if b.Detect(root) {
			return b
		}
	}
	return &NullBackend{}
}

// Run executes every enabled gate in gates against root, returning each
// gate's output keyed by name (spec.md §4.6 contract).
func (r *Runner) Run(ctx context.Context, root string, gates []GateConfig) map[string]GateOutput {
	backend := r.Detect(root)
	outputs := make(map[string]GateOutput, len(gates))

	for _, g := range gates {
		if !g.Enabled {
			continue
		}
		outputs[g.Name] = r.runOne(ctx, backend, root, g)
	}
	return outputs
}

func (r *Runner) runOne(ctx context.Context, backend GateBackend, root string, g GateConfig) GateOutput {
	var candidates [][]string
	if g.Type == GateCustom {
		candidates = [][]string{g.Command}
	} else {
		candidates = backend.Commands(g.Type)
	}

	if len(candidates) == 0 {
		return GateOutput{Name: g.Name, Passed: true, Skipped: true, Output: "no command configured for this gate/project kind, skipping"}
	}

	timeout := time.Duration(g.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	env := os.Environ()
	if _, ok := backend.(*PythonBackend); ok {
		if augmented, activated := activateVenv(root, env); activated {
			env = augmented
		}
	}

	var lastErr error
	for _, argv := range candidates {
		argv = substituteInterpreter(argv, env)
		if _, err := exec.LookPath(argv[0]); err != nil {
			lastErr = err
			continue
		}
		return runCommand(ctx, g.Name, root, argv, env, timeout)
	}

	r.logger.Warn("gate %q: no candidate command found on PATH (%v), skipping", g.Name, lastErr)
	return GateOutput{Name: g.Name, Passed: true, Skipped: true, Output: "no candidate command available, skipping"}
}

func runCommand(ctx context.Context, name, root string, argv []string, env []string, timeout time.Duration) GateOutput {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = root
	cmd.Env = env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return GateOutput{
			Name: name, Passed: false, ExitCode: -1, Command: strings.Join(argv, " "),
			Output: buf.String(), Duration: duration,
			ErrorSummary: fmt.Sprintf("Command timed out after %d seconds", int(timeout.Seconds())),
		}
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	out := GateOutput{
		Name: name, Passed: exitCode == 0, ExitCode: exitCode,
		Command: strings.Join(argv, " "), Output: buf.String(), Duration: duration,
	}
	if exitCode != 0 {
		out.ErrorSummary = summarizeError(buf.String())
	}
	return out
}

// substituteInterpreter replaces a bare "python" argv[0] with the venv
// interpreter path VIRTUAL_ENV's env var implies, if one was activated
// (spec.md §4.6 venv activation: "substitute python with the venv's
// interpreter").
func substituteInterpreter(argv []string, env []string) []string {
	if len(argv) == 0 || argv[0] != "python" {
		return argv
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "VIRTUAL_ENV=") {
			venvDir := strings.TrimPrefix(kv, "VIRTUAL_ENV=")
			interp := venvPythonPath(venvDir)
			if interp != "" {
				out := append([]string(nil), argv...)
				out[0] = interp
				return out
			}
		}
	}
	return argv
}

var errorLinePattern = regexp.MustCompile(`(?i)error|fail`)
var failureCountPattern = regexp.MustCompile(`(\d+)\s+(failed|failing)`)

// summarizeError extracts the first <=5 lines mentioning "error" or "fail",
// plus a numeric failure count if present (spec.md §4.6 error-summary
// parsing, best-effort).
func summarizeError(output string) string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() && len(lines) < 5 {
		line := scanner.Text()
		if errorLinePattern.MatchString(line) {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	summary := strings.Join(lines, "\n")
	if m := failureCountPattern.FindString(output); m != "" && !strings.Contains(summary, m) {
		summary = strings.TrimSpace(summary + "\n" + m)
	}
	if summary == "" {
		return "command failed with no recognizable error output"
	}
	return summary
}

// ShouldAllowProgression implements spec.md §4.6's progression gate: every
// required, enabled gate must have passed.
func ShouldAllowProgression(gates []GateConfig, outputs map[string]GateOutput) bool {
	for _, g := range gates {
		if !g.Enabled || !g.Required {
			continue
		}
		out, ok := outputs[g.Name]
		if !ok || !out.Passed {
			return false
		}
	}
	return true
}
