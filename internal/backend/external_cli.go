package backend

// external_cli.go implements the External-CLI backend (spec.md §4.2): spawns
// a configured binary in the project directory with a templated argument
// list, streaming combined stdout+stderr to a log file.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Taoidle/plan-cascade/internal/config"
	"github.com/Taoidle/plan-cascade/internal/logx"
)

// ExternalCLIBackend spawns a configured coding-CLI binary per story.
type ExternalCLIBackend struct {
	cfg    config.AgentConfig
	logger *logx.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExternalCLIBackend builds a backend from an agent's configuration.
func NewExternalCLIBackend(cfg config.AgentConfig, logger *logx.Logger) *ExternalCLIBackend {
	return &ExternalCLIBackend{cfg: cfg, logger: logger}
}

func (b *ExternalCLIBackend) Name() string { return b.cfg.Type }

// PID returns the spawned process's pid, or 0 before the process has
// started. Lets the Supervisor record a liveness-probe target in the
// registry (spec.md §4.4 Launch step 3).
func (b *ExternalCLIBackend) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// Execute renders the argument template, spawns the binary detached from
// the invoking session, and streams combined output to execCtx.OutputLogPath.
func (b *ExternalCLIBackend) Execute(ctx context.Context, execCtx ExecContext) (ExecutionResult, error) {
	args := make([]string, len(b.cfg.Args))
	for i, a := range b.cfg.Args {
		args[i] = renderPlaceholders(a, execCtx)
	}

	timeout := time.Duration(b.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.cfg.Command, args...)
	cmd.Dir = execCtx.ProjectRoot
	if len(b.cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range b.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	detachProcessGroup(cmd)

	logFile, err := os.OpenFile(execCtx.OutputLogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return ExecutionResult{Success: false, Agent: b.cfg.Type, Error: fmt.Sprintf("opening output log: %v", err)}, nil
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	b.mu.Lock()
	b.cmd = cmd
	b.mu.Unlock()

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := ExecutionResult{
		Success:  exitCode == 0,
		Output:   execCtx.OutputLogPath,
		Agent:    b.cfg.Type,
		Metadata: map[string]any{"exit_code": exitCode},
	}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("exited with code %d", exitCode)
	}
	return result, nil
}

// Stop kills the in-flight process, if any.
func (b *ExternalCLIBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(b.cmd)
}

// renderPlaceholders substitutes {prompt} and {story_id} in an argument
// template.
func renderPlaceholders(arg string, execCtx ExecContext) string {
	r := strings.NewReplacer(
		"{prompt}", execCtx.Prompt,
		"{story_id}", execCtx.StoryID,
	)
	return r.Replace(arg)
}
