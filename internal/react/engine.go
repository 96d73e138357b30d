package react

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/toolregistry"
)

const maxToolResultBytes = 2 * 1024 // 2 KiB, per spec.md §4.3 step 4

// contextWindowTokens is the companion context window the engine guards
// against when proactively trimming transcript history; it is independent
// of a single request's MaxTokens (output budget).
const contextWindowTokens = 128_000

// OnText is invoked with each iteration's raw assistant text, before marker
// scanning. Nil is a valid no-op callback.
type OnText func(content string)

// Engine drives the Think-Act-Observe loop against an llm.Client and a
// toolregistry.Registry.
type Engine struct {
	client llm.Client
	tools  *toolregistry.Registry
	logger *logx.Logger
	enc    tokenizer.Codec
}

// New builds an Engine. Token-budget trimming degrades gracefully (no
// trimming) if the tokenizer codec cannot be loaded.
func New(client llm.Client, tools *toolregistry.Registry, logger *logx.Logger) *Engine {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		logger.Warn("tokenizer unavailable, token-budget trimming disabled: %v", err)
	}
	return &Engine{client: client, tools: tools, logger: logger, enc: enc}
}

// Run executes the bounded loop described in spec.md §4.3. systemPrompt and
// initialPrompt seed the transcript; onText may be nil.
func (e *Engine) Run(ctx context.Context, systemPrompt, initialPrompt string, cfg Config, onText OnText) Outcome {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	if initialPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: initialPrompt})
	}

	toolDefs := e.tools.Definitions()

	var transcript strings.Builder
	totalToolCalls := 0

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		messages = e.trimToBudget(messages)

		req := llm.CompletionRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}

		start := time.Now()
		resp, err := e.client.Complete(ctx, req)
		e.logger.Debug("think: iteration=%d model=%s duration=%s tool_calls=%d", iteration, e.client.GetModelName(), time.Since(start), len(resp.ToolCalls))
		if err != nil {
			return Outcome{Success: false, Output: transcript.String(), Iterations: iteration, ToolCalls: totalToolCalls, Err: fmt.Errorf("llm completion failed: %w", err)}
		}

		if resp.Content != "" {
			transcript.WriteString(resp.Content)
			transcript.WriteByte('\n')
			if onText != nil {
				onText(resp.Content)
			}
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

		if success, matched, ok := scanMarkers(resp.Content, cfg.CompletionMarkers, cfg.FailureMarkers); ok {
			return Outcome{Success: success, Output: transcript.String(), Iterations: iteration, ToolCalls: totalToolCalls, FinalResponse: matched}
		}

		if cfg.StopOnEndTurn && resp.StopReason == llm.StopEndTurn && len(resp.ToolCalls) == 0 {
			return Outcome{Success: true, Output: transcript.String(), Iterations: iteration, ToolCalls: totalToolCalls, FinalResponse: resp.Content}
		}

		if len(resp.ToolCalls) == 0 {
			// Neither tool calls nor end-turn: unusual but not a failure per
			// the edge case in spec.md §4.3.
			return Outcome{Success: true, Output: transcript.String(), Iterations: iteration, ToolCalls: totalToolCalls, FinalResponse: resp.Content}
		}

		totalToolCalls += len(resp.ToolCalls)
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			result, err := e.tools.Exec(ctx, tc.Name, tc.Parameters)
			body, isError := formatToolResult(result, err)
			results = append(results, llm.ToolResult{ToolCallID: tc.ID, Content: body, IsError: isError})
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
	}

	return Outcome{Success: false, Output: transcript.String(), Iterations: cfg.MaxIterations, ToolCalls: totalToolCalls, Err: fmt.Errorf("iteration cap (%d) reached without termination", cfg.MaxIterations)}
}

// scanMarkers reports whether content contains a completion or failure
// marker, and which marker matched.
func scanMarkers(content string, completionMarkers, failureMarkers []string) (success bool, matched string, ok bool) {
	for _, m := range failureMarkers {
		if strings.Contains(content, m) {
			return false, m, true
		}
	}
	for _, m := range completionMarkers {
		if strings.Contains(content, m) {
			return true, m, true
		}
	}
	return false, "", false
}

// formatToolResult truncates a tool's string form to maxToolResultBytes, per
// spec.md §4.3 step 4 ("protect the context window").
func formatToolResult(result any, err error) (string, bool) {
	if err != nil {
		s := fmt.Sprintf("tool failed: %v", err)
		return truncate(s), true
	}
	return truncate(fmt.Sprintf("%v", result)), false
}

func truncate(s string) string {
	if len(s) <= maxToolResultBytes {
		return s
	}
	return s[:maxToolResultBytes] + "\n[... truncated]"
}

// trimToBudget drops the oldest non-system messages until the estimated
// token count fits the context window, logging a [TRIM] line per message
// dropped. System messages are never dropped.
func (e *Engine) trimToBudget(messages []llm.Message) []llm.Message {
	if e.enc == nil {
		return messages
	}

	for e.estimateTokens(messages) > contextWindowTokens {
		idx := -1
		for i, m := range messages {
			if m.Role != llm.RoleSystem {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		e.logger.Debug("[TRIM] dropping message at index %d (role=%s) to stay within token budget", idx, messages[idx].Role)
		messages = append(messages[:idx], messages[idx+1:]...)
	}
	return messages
}

func (e *Engine) estimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		ids, _, err := e.enc.Encode(m.Content)
		if err != nil {
			continue
		}
		total += len(ids)
		for _, tr := range m.ToolResults {
			trIDs, _, err := e.enc.Encode(tr.Content)
			if err == nil {
				total += len(trIDs)
			}
		}
	}
	return total
}
