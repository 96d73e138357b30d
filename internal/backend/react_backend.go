package backend

// react_backend.go implements the built-in ReAct backend (spec.md §4.2):
// owns a react.Engine configured with an LLM-provider adapter and a tool
// registry.

import (
	"context"
	"os"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/react"
	"github.com/Taoidle/plan-cascade/internal/toolregistry"
)

// ReactBackend drives the in-process ReAct loop instead of spawning a
// subprocess.
type ReactBackend struct {
	name         string
	engine       *react.Engine
	systemPrompt string
	cfg          react.Config
	logger       *logx.Logger
}

// NewReactBackend builds a backend around an already-constructed engine.
func NewReactBackend(name string, client llm.Client, tools *toolregistry.Registry, systemPrompt string, cfg react.Config, logger *logx.Logger) *ReactBackend {
	return &ReactBackend{
		name:         name,
		engine:       react.New(client, tools, logger),
		systemPrompt: systemPrompt,
		cfg:          cfg,
		logger:       logger,
	}
}

func (b *ReactBackend) Name() string { return b.name }

func (b *ReactBackend) Execute(ctx context.Context, execCtx ExecContext) (ExecutionResult, error) {
	var onText func(string)
	logFile, err := os.OpenFile(execCtx.OutputLogPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err == nil {
		defer logFile.Close()
		onText = func(text string) {
			if _, werr := logFile.WriteString(text + "\n"); werr != nil {
				b.logger.Warn("react backend: writing output log: %v", werr)
			}
		}
	} else {
		b.logger.Warn("react backend: opening output log: %v", err)
	}

	outcome := b.engine.Run(ctx, b.systemPrompt, execCtx.Prompt, b.cfg, onText)

	result := ExecutionResult{
		Success:    outcome.Success,
		Output:     outcome.Output,
		Iterations: outcome.Iterations,
		ToolCalls:  outcome.ToolCalls,
		Agent:      b.name,
		Metadata:   map[string]any{"final_response": outcome.FinalResponse},
	}
	if outcome.Err != nil {
		result.Error = outcome.Err.Error()
	}
	return result, nil
}

// Stop is a no-op: the ReAct loop has no subprocess to kill; it terminates
// only via ctx cancellation.
func (b *ReactBackend) Stop() error { return nil }
