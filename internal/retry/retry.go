// Package retry implements the per-story retry state machine and the
// phase-based agent fallback chain (spec.md §4.7, C7). No teacher
// analogue existed for either; both are built from spec.md's algorithms
// directly, in the teacher's small-pure-function idiom.
package retry

import (
	"strconv"
	"sync"
	"time"

	"github.com/Taoidle/plan-cascade/internal/plan"
)

// ErrorType classifies why a story attempt failed.
type ErrorType string

const (
	ErrorTimeout      ErrorType = "timeout"
	ErrorExitCode     ErrorType = "exit_code"
	ErrorQualityGate  ErrorType = "quality_gate"
	ErrorProcessCrash ErrorType = "process_crash"
	ErrorUnknown      ErrorType = "unknown"
)

// FailureRecord is one recorded attempt failure.
type FailureRecord struct {
	Agent     string
	ErrorType ErrorType
	Excerpt   string
	At        time.Time
}

// StoryState is a story's retry state-machine position.
type StoryState struct {
	Counter  int
	State    string // "ok" | "failed_N" | "abandoned"
	Failures []FailureRecord
}

// Phase is an execution phase in the agent-selection chain.
type Phase string

const (
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
	PhaseRetry          Phase = "retry"
	PhaseRefactor       Phase = "refactor"
	PhaseReview         Phase = "review"
)

// PhaseAgents is one phase's agent-selection configuration.
type PhaseAgents struct {
	Default       string
	FallbackChain []string
	CLIOverride   string            // phase-specific command-line override
	StoryTypeMap  map[StoryType]string
}

// AvailabilityChecker reports whether a named agent is installed and
// runnable (implemented by internal/agentdetect.Detector).
type AvailabilityChecker interface {
	Available(name string) bool
}

// Manager is the retry state machine plus agent-selection policy for every
// story in a plan.
type Manager struct {
	maxAttempts int
	detector    AvailabilityChecker
	defaultAgent string // the always-available default (step 7)

	globalOverride string // step 1
	phases         map[Phase]PhaseAgents

	mu     sync.Mutex
	states map[string]StoryState
}

// NewManager builds a Manager. maxAttempts<=0 uses spec.md's default of 2.
func NewManager(maxAttempts int, detector AvailabilityChecker, defaultAgent string) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &Manager{
		maxAttempts:  maxAttempts,
		detector:     detector,
		defaultAgent: defaultAgent,
		phases:       make(map[Phase]PhaseAgents),
		states:       make(map[string]StoryState),
	}
}

// SetGlobalOverride sets the top-priority command-line override (step 1).
func (m *Manager) SetGlobalOverride(agent string) { m.globalOverride = agent }

// ConfigurePhase registers a phase's defaults, fallback chain, CLI
// override, and story-type overrides.
func (m *Manager) ConfigurePhase(phase Phase, agents PhaseAgents) {
	m.phases[phase] = agents
}

// RecordFailure appends a failure to a story's history and advances its
// counter, moving it to "abandoned" once the counter exceeds maxAttempts.
func (m *Manager) RecordFailure(storyID, agent string, errType ErrorType, excerpt string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.states[storyID]
	st.Counter++
	st.Failures = append(st.Failures, FailureRecord{Agent: agent, ErrorType: errType, Excerpt: excerpt, At: time.Now().UTC()})
	if st.Counter > m.maxAttempts {
		st.State = "abandoned"
	} else {
		st.State = failedLabel(st.Counter)
	}
	m.states[storyID] = st
}

func failedLabel(counter int) string {
	if counter == 1 {
		return "failed_once"
	}
	return "failed_" + strconv.Itoa(counter)
}

// CanRetry reports whether a story may still be retried.
func (m *Manager) CanRetry(storyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[storyID]
	return st.Counter <= m.maxAttempts && st.State != "abandoned"
}

// State returns a story's current retry state (zero value "ok" if never
// failed).
func (m *Manager) State(storyID string) StoryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[storyID]
	if !ok {
		return StoryState{State: "ok"}
	}
	return st
}

// GetRetryAgent implements spec.md §4.7's seven-step phase fallback chain
// for story on phase. currentAgent is the agent that just produced the
// failure being retried ("" on a story's first launch, since nothing has
// failed yet); every step skips currentAgent so a retry never re-selects
// the agent that just failed, which is what turns this into an escalation
// rather than a relaunch of the same agent (spec.md §8 scenario S2).
func (m *Manager) GetRetryAgent(phase Phase, story plan.Story, currentAgent string) string {
	agents := m.phases[phase]

	// Step 1: global command-line override.
	if m.globalOverride != "" {
		return m.globalOverride
	}
	// Step 2: phase-specific command-line override.
	if agents.CLIOverride != "" {
		return agents.CLIOverride
	}
	// Step 3: story.agent if available.
	if story.Agent != "" && story.Agent != currentAgent && m.available(story.Agent) {
		return story.Agent
	}
	// Step 4: story-type override for this phase.
	storyType := InferStoryType(story.Title, story.Description, story.Tags)
	if override, ok := agents.StoryTypeMap[storyType]; ok && override != "" && override != currentAgent && m.available(override) {
		return override
	}
	// Step 5: phase default agent.
	if agents.Default != "" && agents.Default != currentAgent && m.available(agents.Default) {
		return agents.Default
	}
	// Step 6: phase fallback chain, skipping unavailable entries and the
	// agent that just failed.
	for _, candidate := range agents.FallbackChain {
		if candidate != currentAgent && m.available(candidate) {
			return candidate
		}
	}
	// Step 7: the always-available default.
	return m.defaultAgent
}

func (m *Manager) available(agent string) bool {
	if m.detector == nil {
		return true
	}
	return m.detector.Available(agent)
}
