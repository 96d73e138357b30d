// Package backend defines the uniform Backend contract (spec.md §4.2, C2)
// consumed by the Agent Supervisor, and its three implementations:
// External-CLI, Subprocess-GUI, and the built-in ReAct backend. Modeled on
// the teacher's pkg/build.BuildBackend registry pattern — a small
// capability interface over several concrete executors, chosen by name.
package backend

import "context"

// ExecutionResult is the uniform outcome of a backend execution
// (spec.md §4.2).
type ExecutionResult struct {
	Success    bool           `json:"success"`
	Output     string         `json:"output"`
	Iterations int            `json:"iterations"`
	Error      string         `json:"error,omitempty"`
	ToolCalls  int            `json:"tool_calls"`
	Agent      string         `json:"agent"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecContext carries what a backend needs to run one story: the rendered
// prompt plus the file paths the Supervisor allocated for it.
type ExecContext struct {
	Prompt        string
	StoryID       string
	ProjectRoot   string
	OutputLogPath string
	ResultPath    string
	PromptPath    string
}

// Backend is the uniform capability set every agent executor implements
// (spec.md §4.2: execute/stop/get_name, optional start_session).
type Backend interface {
	Execute(ctx context.Context, execCtx ExecContext) (ExecutionResult, error)
	Stop() error
	Name() string
}

// SessionStarter is an optional capability: backends that support a
// long-lived session distinct from a single Execute call implement it.
type SessionStarter interface {
	StartSession(ctx context.Context) error
}
