package strategy_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/strategy"
)

type fakeLLM struct {
	resp llm.CompletionResponse
	err  error
}

func (f fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return f.resp, f.err
}

func (f fakeLLM) GetModelName() string { return "fake-model" }

func TestClassify_LLMPathParsesJSONResponse(t *testing.T) {
	client := fakeLLM{resp: llm.CompletionResponse{Content: `Sure, here you go:
{"kind": "hybrid_auto", "use_worktree": true, "confidence": 0.9, "reasoning": "multi-part task"}`}}
	a := strategy.NewAnalyzer(client, logx.New("test", bytes.NewBuffer(nil)))

	decision, err := a.Classify(context.Background(), "add auth and also wire up billing", strategy.ProjectContext{})
	require.NoError(t, err)
	assert.Equal(t, strategy.KindHybrid, decision.Kind)
	assert.True(t, decision.UseWorktree)
	assert.Equal(t, 0.9, decision.Confidence)
}

func TestClassify_FallsBackToHeuristicOnLLMFailure(t *testing.T) {
	client := fakeLLM{err: errors.New("provider unavailable")}
	a := strategy.NewAnalyzer(client, logx.New("test", bytes.NewBuffer(nil)))

	decision, err := a.Classify(context.Background(), "fix the typo in the login page", strategy.ProjectContext{})
	require.NoError(t, err)
	assert.Equal(t, strategy.KindDirect, decision.Kind)
}

func TestClassify_FallbackDisabledPropagatesError(t *testing.T) {
	client := fakeLLM{err: errors.New("provider unavailable")}
	a := strategy.NewAnalyzer(client, logx.New("test", bytes.NewBuffer(nil)))
	a.FallbackEnabled = false

	_, err := a.Classify(context.Background(), "fix the typo", strategy.ProjectContext{})
	assert.Error(t, err)
}

func TestClassify_NoLLMConfiguredUsesHeuristic(t *testing.T) {
	a := strategy.NewAnalyzer(nil, logx.New("test", bytes.NewBuffer(nil)))
	decision, err := a.Classify(context.Background(), "rewrite the entire billing platform from scratch", strategy.ProjectContext{})
	require.NoError(t, err)
	assert.Equal(t, strategy.KindMegaPlan, decision.Kind)
	assert.True(t, decision.UseWorktree)
}

func TestHeuristicClassify_AlwaysSucceeds(t *testing.T) {
	decision := strategy.HeuristicClassify("")
	assert.NotEmpty(t, decision.Kind)
}

func TestHeuristicClassify_ListItemsLeanHybrid(t *testing.T) {
	description := "Build the new reporting feature:\n- add export button\n- add CSV format\n- add PDF format\n- wire up scheduling"
	decision := strategy.HeuristicClassify(description)
	assert.Equal(t, strategy.KindHybrid, decision.Kind)
}

func TestOverride_SetsConfidenceOne(t *testing.T) {
	decision := strategy.Override(strategy.KindDirect, "operator forced direct mode")
	assert.Equal(t, 1.0, decision.Confidence)
	assert.Equal(t, strategy.KindDirect, decision.Kind)
	assert.Contains(t, decision.Reasoning, "operator forced direct mode")
}
