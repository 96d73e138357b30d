package retry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Taoidle/plan-cascade/internal/plan"
	"github.com/Taoidle/plan-cascade/internal/retry"
)

type fakeDetector struct{ available map[string]bool }

func (f fakeDetector) Available(name string) bool { return f.available[name] }

func TestRecordFailure_AbandonsAfterMaxAttempts(t *testing.T) {
	m := retry.NewManager(2, fakeDetector{}, "claude-code")

	assert.True(t, m.CanRetry("s1"))
	m.RecordFailure("s1", "agent-a", retry.ErrorTimeout, "timed out")
	assert.True(t, m.CanRetry("s1"))
	m.RecordFailure("s1", "agent-a", retry.ErrorExitCode, "exit 1")
	assert.True(t, m.CanRetry("s1"))
	m.RecordFailure("s1", "agent-a", retry.ErrorExitCode, "exit 1 again")
	assert.False(t, m.CanRetry("s1"))
	assert.Equal(t, "abandoned", m.State("s1").State)
}

func TestGetRetryAgent_GlobalOverrideWins(t *testing.T) {
	detector := fakeDetector{available: map[string]bool{"story-agent": true, "override-agent": true}}
	m := retry.NewManager(2, detector, "claude-code")
	m.SetGlobalOverride("override-agent")

	agent := m.GetRetryAgent(retry.PhaseImplementation, plan.Story{Agent: "story-agent"}, "")
	assert.Equal(t, "override-agent", agent)
}

func TestGetRetryAgent_FallsThroughToStoryAgentThenPhaseDefault(t *testing.T) {
	detector := fakeDetector{available: map[string]bool{"phase-default": true}}
	m := retry.NewManager(2, detector, "claude-code")
	m.ConfigurePhase(retry.PhaseImplementation, retry.PhaseAgents{Default: "phase-default"})

	// story.Agent set but unavailable -> falls through to phase default.
	agent := m.GetRetryAgent(retry.PhaseImplementation, plan.Story{Agent: "unavailable-agent"}, "")
	assert.Equal(t, "phase-default", agent)
}

func TestGetRetryAgent_FallbackChainThenUltimateDefault(t *testing.T) {
	detector := fakeDetector{available: map[string]bool{"chain-2": true}}
	m := retry.NewManager(2, detector, "claude-code")
	m.ConfigurePhase(retry.PhaseImplementation, retry.PhaseAgents{
		FallbackChain: []string{"chain-1", "chain-2"},
	})

	agent := m.GetRetryAgent(retry.PhaseImplementation, plan.Story{}, "")
	assert.Equal(t, "chain-2", agent)
}

func TestGetRetryAgent_UltimateDefaultWhenNothingAvailable(t *testing.T) {
	m := retry.NewManager(2, fakeDetector{}, "claude-code")
	agent := m.GetRetryAgent(retry.PhaseImplementation, plan.Story{}, "")
	assert.Equal(t, "claude-code", agent)
}

func TestGetRetryAgent_StoryTypeOverride(t *testing.T) {
	detector := fakeDetector{available: map[string]bool{"bugfix-specialist": true}}
	m := retry.NewManager(2, detector, "claude-code")
	m.ConfigurePhase(retry.PhaseImplementation, retry.PhaseAgents{
		StoryTypeMap: map[retry.StoryType]string{retry.StoryBugfix: "bugfix-specialist"},
	})

	story := plan.Story{Title: "Fix crash on startup"}
	agent := m.GetRetryAgent(retry.PhaseImplementation, story, "")
	assert.Equal(t, "bugfix-specialist", agent)
}

func TestGetRetryAgent_ExcludesCurrentAgentOnRetry(t *testing.T) {
	detector := fakeDetector{available: map[string]bool{"codex": true, "aider": true}}
	m := retry.NewManager(2, detector, "claude-code")
	m.ConfigurePhase(retry.PhaseImplementation, retry.PhaseAgents{
		Default:       "codex",
		FallbackChain: []string{"aider"},
	})
	story := plan.Story{Agent: "codex"}

	first := m.GetRetryAgent(retry.PhaseImplementation, story, "")
	assert.Equal(t, "codex", first, "first launch picks the story's assigned agent")

	retryAgent := m.GetRetryAgent(retry.PhaseImplementation, story, "codex")
	assert.Equal(t, "aider", retryAgent, "retry after codex fails escalates to the fallback chain, not codex again")
}

func TestInferStoryType(t *testing.T) {
	assert.Equal(t, retry.StoryBugfix, retry.InferStoryType("Fix login crash", "", nil))
	assert.Equal(t, retry.StoryDocumentation, retry.InferStoryType("Update README", "", nil))
	assert.Equal(t, retry.StoryInfrastructure, retry.InferStoryType("Add CI pipeline", "", nil))
	assert.Equal(t, retry.StoryUnknown, retry.InferStoryType("Xyzzy plugh", "", nil))
}
