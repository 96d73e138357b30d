// Package toolregistry implements a typed registry of {name, schema, handler}
// tools consumed by the ReAct engine (C3). The engine receives the registry
// and tool schemas, never the tool implementations directly (spec.md §9 —
// replacing a "dynamic tool registry" with a typed registry).
package toolregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/Taoidle/plan-cascade/internal/llm"
)

// Handler executes a tool call and returns a result value or an error.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Tool pairs a schema with its handler.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
}

// Registry is a mutable, concurrency-safe set of tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition.Name] = t
}

// Get returns the named tool, or an error if it is not registered.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("tool %q not registered", name)
	}
	return t, nil
}

// Definitions returns the schema for every registered tool, in an
// unspecified but stable-per-call order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition)
	}
	return defs
}

// Exec executes a named tool with the given parameters.
func (r *Registry) Exec(ctx context.Context, name string, params map[string]any) (any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Handler(ctx, params)
}
