package backend

// subprocess_gui.go implements the Subprocess-GUI backend (spec.md §4.2):
// spawns a locally installed coding CLI in "print mode" and demultiplexes
// its line-delimited JSON event stream.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Taoidle/plan-cascade/internal/config"
	"github.com/Taoidle/plan-cascade/internal/logx"
)

// maxEventLineBytes is the generous scanner buffer spec.md §4.2 requires
// (>= 10 MiB) so a single JSON event line is never truncated.
const maxEventLineBytes = 10 * 1024 * 1024

// event is one line of the CLI's JSON event stream.
type event struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolCallID  string          `json:"tool_call_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	FinalResult json.RawMessage `json:"final_result,omitempty"`
}

// Callbacks are optional hooks republishing demultiplexed events to a
// caller (e.g. for live UI rendering). Any may be nil.
type Callbacks struct {
	OnText     func(text string)
	OnToolCall func(name, callID string)
	OnThinking func(text string)
}

// SubprocessGUIBackend spawns a line-delimited-JSON-emitting CLI per story.
type SubprocessGUIBackend struct {
	cfg       config.AgentConfig
	logger    *logx.Logger
	callbacks Callbacks

	mu        sync.Mutex
	cmd       *exec.Cmd
	sessionID string
}

// NewSubprocessGUIBackend builds a backend from an agent's configuration.
func NewSubprocessGUIBackend(cfg config.AgentConfig, logger *logx.Logger, callbacks Callbacks) *SubprocessGUIBackend {
	return &SubprocessGUIBackend{cfg: cfg, logger: logger, callbacks: callbacks}
}

func (b *SubprocessGUIBackend) Name() string { return b.cfg.Type }

// PID returns the spawned process's pid, or 0 before the process has
// started.
func (b *SubprocessGUIBackend) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

func (b *SubprocessGUIBackend) Execute(ctx context.Context, execCtx ExecContext) (ExecutionResult, error) {
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

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExecutionResult{Success: false, Agent: b.cfg.Type, Error: fmt.Sprintf("stdout pipe: %v", err)}, nil
	}

	logFile, err := os.OpenFile(execCtx.OutputLogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return ExecutionResult{Success: false, Agent: b.cfg.Type, Error: fmt.Sprintf("opening output log: %v", err)}, nil
	}
	defer logFile.Close()
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return ExecutionResult{Success: false, Agent: b.cfg.Type, Error: fmt.Sprintf("starting process: %v", err)}, nil
	}

	b.mu.Lock()
	b.cmd = cmd
	b.mu.Unlock()

	var transcript strings.Builder
	toolCalls := 0
	var finalResult json.RawMessage

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			b.logger.Warn("subprocess-gui: skipping malformed event line: %v", err)
			continue
		}
		fmt.Fprintln(logFile, string(line))

		switch ev.Type {
		case "text":
			transcript.WriteString(ev.Text)
			if b.callbacks.OnText != nil {
				b.callbacks.OnText(ev.Text)
			}
		case "tool_use":
			toolCalls++
			if b.callbacks.OnToolCall != nil {
				b.callbacks.OnToolCall(ev.ToolName, ev.ToolCallID)
			}
		case "tool_result":
			// Logged via the raw event line above; no separate callback in
			// spec.md §4.2.
		case "session_id":
			b.mu.Lock()
			b.sessionID = ev.SessionID
			b.mu.Unlock()
		case "final_result":
			finalResult = ev.FinalResult
		case "thinking":
			if b.callbacks.OnThinking != nil {
				b.callbacks.OnThinking(ev.Text)
			}
		}
	}

	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := ExecutionResult{
		Success:   exitCode == 0,
		Output:    transcript.String(),
		ToolCalls: toolCalls,
		Agent:     b.cfg.Type,
		Metadata:  map[string]any{"exit_code": exitCode},
	}
	if finalResult != nil {
		result.Metadata["final_result"] = finalResult
	}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("exited with code %d", exitCode)
	}
	return result, nil
}

func (b *SubprocessGUIBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(b.cmd)
}

// StartSession is a no-op placeholder: this backend's session id arrives
// via the event stream itself (the "session_id" event), not a separate
// call.
func (b *SubprocessGUIBackend) StartSession(_ context.Context) error { return nil }
