// Package orchestrator implements the top-level iteration loop (spec.md
// §4.8, C8): compute batches, launch each batch's stories via the
// Supervisor, wait for them to go terminal, run quality gates, and retry
// or abandon as the Retry Manager decides. Where the teacher's own
// orchestrator/dispatcher/retry triangle holds cyclic back-references to
// notify each other of state changes, this loop instead drives every
// dependency directly and publishes what happened on a one-way event
// channel (spec.md §9 DESIGN NOTES: event-passing instead of cyclic
// references).
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Taoidle/plan-cascade/internal/gate"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/metrics"
	"github.com/Taoidle/plan-cascade/internal/pathstore"
	"github.com/Taoidle/plan-cascade/internal/plan"
	"github.com/Taoidle/plan-cascade/internal/retry"
	"github.com/Taoidle/plan-cascade/internal/scheduler"
	"github.com/Taoidle/plan-cascade/internal/supervisor"
)

// Mode selects how many batches Run drives before returning.
type Mode string

const (
	ModeUntilComplete Mode = "until_complete"
	ModeMaxIterations Mode = "max_iterations"
	ModeBatchComplete Mode = "batch_complete"
)

// EventKind discriminates the messages published on Orchestrator's event
// channel.
type EventKind string

const (
	EventStoryStarted  EventKind = "StoryStarted"
	EventStoryFinished EventKind = "StoryFinished"
	EventGateResult    EventKind = "GateResult"
	EventRetryDecided  EventKind = "RetryDecided"
)

// Event is one published occurrence. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind      EventKind
	StoryID   string
	Agent     string
	Success   bool
	GateName  string
	GateOut   gate.GateOutput
	RetryInfo string
	At        time.Time
}

// AgentPrompter renders a story into the prompt text a backend receives.
// Kept as an injectable seam rather than a concrete template so tests can
// supply a trivial stub.
type AgentPrompter interface {
	Prompt(story plan.Story) string
}

// PrompterFunc adapts a function to AgentPrompter.
type PrompterFunc func(story plan.Story) string

func (f PrompterFunc) Prompt(story plan.Story) string { return f(story) }

// GateConfigProvider supplies the configured gates for a story's project
// kind. Separate from gate.Runner so callers can vary gate config per
// story without the Runner itself knowing about stories.
type GateConfigProvider interface {
	GatesFor(story plan.Story) []gate.GateConfig
}

// GateConfigProviderFunc adapts a function to GateConfigProvider.
type GateConfigProviderFunc func(story plan.Story) []gate.GateConfig

func (f GateConfigProviderFunc) GatesFor(story plan.Story) []gate.GateConfig { return f(story) }

// Options configures an Orchestrator.
type Options struct {
	Store      *pathstore.Store
	Supervisor *supervisor.Supervisor
	Gates      *gate.Runner
	Retry      *retry.Manager
	Logger     *logx.Logger
	Metrics    *metrics.Recorder // optional; nil disables recording

	BackendName  string // which registered Supervisor backend launches stories
	Prompter     AgentPrompter
	GateProvider GateConfigProvider
	Phase        retry.Phase

	PollInterval   time.Duration
	AgentTimeout   time.Duration
	WaitTimeout    time.Duration
	EventQueueSize int // buffered channel capacity; 0 uses a sane default
}

// Orchestrator drives plan.Plan execution to completion (or to a pause/stop
// boundary), one batch at a time.
type Orchestrator struct {
	opts   Options
	events chan Event

	mu      chan struct{} // 1-buffered semaphore guarding pause/stop flags
	paused  bool
	stopped bool
}

const defaultEventQueue = 256

// New builds an Orchestrator. The returned Events channel must be drained
// by the caller (or deliberately ignored) or Run will block once it fills.
func New(opts Options) *Orchestrator {
	size := opts.EventQueueSize
	if size <= 0 {
		size = defaultEventQueue
	}
	o := &Orchestrator{
		opts:   opts,
		events: make(chan Event, size),
		mu:     make(chan struct{}, 1),
	}
	o.mu <- struct{}{}
	return o
}

// Events returns the channel Run publishes StoryStarted/StoryFinished/
// GateResult/RetryDecided occurrences on.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Pause requests the loop stop issuing new batches after the current one
// finishes. Cooperative: checked between batches, not preemptive.
func (o *Orchestrator) Pause() { o.setFlag(&o.paused) }

// Stop requests the loop return as soon as possible, persisting state
// first. Already-running subprocesses are not killed; they run to their
// own completion or are reaped by a later Reconcile.
func (o *Orchestrator) Stop() { o.setFlag(&o.stopped) }

func (o *Orchestrator) setFlag(flag *bool) {
	<-o.mu
	*flag = true
	o.mu <- struct{}{}
}

func (o *Orchestrator) shouldHalt() bool {
	<-o.mu
	halt := o.paused || o.stopped
	o.mu <- struct{}{}
	return halt
}

// Run executes mode's policy against the current plan, publishing events as
// it goes. limit is the max-iterations bound when mode==ModeMaxIterations,
// ignored otherwise. It returns once the plan drains, a pause/stop is
// observed, or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, mode Mode, limit int) error {
	iterations := 0
	for {
		p, err := o.opts.Store.ReadPlan()
		if err != nil {
			return fmt.Errorf("orchestrator: reading plan: %w", err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("orchestrator: invalid plan: %w", err)
		}

		ready := scheduler.NextReady(p)
		launchable := pendingOnly(ready)
		if len(launchable) == 0 {
			return nil // drained: nothing left to schedule, or every remaining story is already abandoned
		}

		if err := o.runBatch(ctx, p, launchable); err != nil {
			return err
		}

		iterations++
		if mode == ModeBatchComplete {
			return nil
		}
		if mode == ModeMaxIterations && iterations >= limit {
			return nil
		}
		if o.shouldHalt() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// runBatch launches every story in batch, waits for them all to go
// terminal, then gates/retries/completes each in turn.
func (o *Orchestrator) runBatch(ctx context.Context, p *plan.Plan, batch []plan.Story) error {
	if o.opts.Metrics != nil {
		o.opts.Metrics.ObserveBatchSize(len(batch))
	}

	ids := make([]string, 0, len(batch))
	for _, s := range batch {
		// No attempt has failed yet, so nothing is excluded from selection.
		agent := o.opts.Retry.GetRetryAgent(o.opts.Phase, s, "")
		if err := o.launch(ctx, p, s, agent); err != nil {
			return fmt.Errorf("orchestrator: launching %s: %w", s.ID, err)
		}
		ids = append(ids, s.ID)
	}

	if err := o.opts.Supervisor.Wait(ctx, ids, o.opts.WaitTimeout, o.opts.PollInterval); err != nil {
		o.opts.Logger.Warn("orchestrator: batch wait: %v", err)
	}

	reg := o.opts.Store.ReadAgentRegistry()
	for _, s := range batch {
		entry := reg[s.ID]
		o.publish(Event{Kind: EventStoryFinished, StoryID: s.ID, Success: entry.State == "completed", At: time.Now().UTC()})
		if o.opts.Metrics != nil {
			status := entry.State
			var duration time.Duration
			if entry.FinishedAt != nil {
				duration = entry.FinishedAt.Sub(entry.StartedAt)
			}
			o.opts.Metrics.ObserveStoryFinished(entry.AgentName, string(o.opts.Phase), status, duration)
		}
		// Gates run for every terminal story, success or failure: a backend
		// that reports success still must pass its required gates before the
		// story is allowed to progress (spec.md §4.8/§4.6).
		o.processGatesAndRetry(ctx, p, s, entry)
	}

	return o.opts.Store.WritePlan(p)
}

// pendingOnly drops stories the Retry Manager has already abandoned (or
// that already completed) from a scheduler-ready batch, so a story the
// Supervisor/Retry pipeline marked terminal is never relaunched.
func pendingOnly(stories []plan.Story) []plan.Story {
	out := make([]plan.Story, 0, len(stories))
	for _, s := range stories {
		if s.Status == plan.StatusFailed || s.Status == plan.StatusComplete {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (o *Orchestrator) launch(ctx context.Context, p *plan.Plan, s plan.Story, agentName string) error {
	prompt := ""
	if o.opts.Prompter != nil {
		prompt = o.opts.Prompter.Prompt(s)
	}
	o.publish(Event{Kind: EventStoryStarted, StoryID: s.ID, Agent: agentName, At: time.Now().UTC()})
	o.opts.Store.AppendProgress(s.ID, fmt.Sprintf("[STARTED] agent=%s", agentName))
	if o.opts.Metrics != nil {
		o.opts.Metrics.ObserveStoryLaunch(agentName, string(o.opts.Phase))
	}
	for i := range p.Stories {
		if p.Stories[i].ID == s.ID {
			p.Stories[i].Status = plan.StatusInProgress
			break
		}
	}

	return o.opts.Supervisor.Launch(ctx, supervisor.LaunchRequest{
		StoryID:        s.ID,
		Prompt:         prompt,
		ProjectRoot:    o.opts.Store.Root(),
		BackendName:    o.resolveBackendName(agentName),
		TimeoutSeconds: int(o.opts.AgentTimeout / time.Second),
	})
}

// resolveBackendName picks which registered Supervisor backend actually
// executes agentName: a backend registered under the agent's own name wins
// (this is what lets spec.md §4.7's phase fallback chain change which
// backend runs a retry, not just which name gets logged), falling back to
// Options.BackendName when no agent-specific backend was registered.
func (o *Orchestrator) resolveBackendName(agentName string) string {
	if agentName != "" && o.opts.Supervisor.HasBackend(agentName) {
		return agentName
	}
	return o.opts.BackendName
}

// processGatesAndRetry runs gates for a terminal (possibly failed) story and
// applies the retry policy. It returns true once it stops handling the
// story: the story reached a final (complete/abandoned) state, or a retry
// launch failed and the story was left in progress.
func (o *Orchestrator) processGatesAndRetry(ctx context.Context, p *plan.Plan, s plan.Story, entry pathstore.AgentEntry) bool {
	var gates []gate.GateConfig
	if o.opts.GateProvider != nil {
		gates = o.opts.GateProvider.GatesFor(s)
	}
	gateTypes := make(map[string]gate.GateType, len(gates))
	for _, g := range gates {
		gateTypes[g.Name] = g.Type
	}

	outputs := o.opts.Gates.Run(ctx, o.opts.Store.Root(), gates)
	for name, out := range outputs {
		o.publish(Event{Kind: EventGateResult, StoryID: s.ID, GateName: name, GateOut: out, Success: out.Passed, At: time.Now().UTC()})
		if o.opts.Metrics != nil {
			o.opts.Metrics.ObserveGateRun(string(gateTypes[name]), out.Passed, out.Duration)
		}
	}

	if gate.ShouldAllowProgression(gates, outputs) && entry.State == "completed" {
		o.finalize(p, s.ID, plan.StatusComplete, fmt.Sprintf("[COMPLETE] %s", s.ID))
		return true
	}

	errType := classifyFailure(entry)
	excerpt := entry.Error
	if excerpt == "" {
		excerpt = firstFailingGateSummary(outputs)
	}
	o.opts.Retry.RecordFailure(s.ID, entry.AgentName, errType, excerpt)
	if o.opts.Metrics != nil {
		storyType := retry.InferStoryType(s.Title, s.Description, s.Tags)
		o.opts.Metrics.ObserveRetryAttempt(string(storyType), string(errType))
	}

	if !o.opts.Retry.CanRetry(s.ID) {
		o.finalize(p, s.ID, plan.StatusFailed, fmt.Sprintf("[FAILED] %s: %s", s.ID, excerpt))
		o.publish(Event{Kind: EventRetryDecided, StoryID: s.ID, Success: false, RetryInfo: "abandoned", At: time.Now().UTC()})
		return true
	}

	nextAgent := o.opts.Retry.GetRetryAgent(o.opts.Phase, s, entry.AgentName)
	o.opts.Store.AppendProgress(s.ID, fmt.Sprintf("[RETRY] next_agent=%s reason=%s", nextAgent, excerpt))
	o.publish(Event{Kind: EventRetryDecided, StoryID: s.ID, Success: true, Agent: nextAgent, RetryInfo: excerpt, At: time.Now().UTC()})
	if err := o.launch(ctx, p, s, nextAgent); err != nil {
		o.opts.Logger.Warn("orchestrator: retry launch for %s failed: %v", s.ID, err)
		return true
	}
	if err := o.opts.Supervisor.Wait(ctx, []string{s.ID}, o.opts.WaitTimeout, o.opts.PollInterval); err != nil {
		o.opts.Logger.Warn("orchestrator: retry wait for %s: %v", s.ID, err)
	}
	reg := o.opts.Store.ReadAgentRegistry()
	return o.processGatesAndRetry(ctx, p, s, reg[s.ID])
}

func (o *Orchestrator) finalize(p *plan.Plan, storyID string, status plan.Status, message string) {
	for i := range p.Stories {
		if p.Stories[i].ID == storyID {
			p.Stories[i].Status = status
			break
		}
	}
	o.opts.Store.AppendProgress(storyID, message)
}

func (o *Orchestrator) publish(e Event) {
	select {
	case o.events <- e:
	default:
		o.opts.Logger.Warn("orchestrator: event channel full, dropping %s for %s", e.Kind, e.StoryID)
	}
}

func classifyFailure(entry pathstore.AgentEntry) retry.ErrorType {
	switch {
	case entry.Error == "":
		return retry.ErrorQualityGate
	case strings.Contains(strings.ToLower(entry.Error), "timeout"):
		return retry.ErrorTimeout
	case strings.Contains(strings.ToLower(entry.Error), "exited unexpectedly"):
		return retry.ErrorProcessCrash
	case strings.Contains(strings.ToLower(entry.Error), "exit"):
		return retry.ErrorExitCode
	default:
		return retry.ErrorUnknown
	}
}

func firstFailingGateSummary(outputs map[string]gate.GateOutput) string {
	for _, out := range outputs {
		if !out.Passed {
			return out.ErrorSummary
		}
	}
	return "quality gate did not pass"
}

// RecoveryMode names which plan source drove detection (spec.md §4.8
// Recovery on cold start).
type RecoveryMode string

const (
	RecoveryMega     RecoveryMode = "mega_plan"
	RecoveryWorktree RecoveryMode = "planning_config"
	RecoveryStandard RecoveryMode = "prd"
	RecoveryNone     RecoveryMode = "none"
)

// RecoveryStatus is what DetectRecovery reports.
type RecoveryStatus struct {
	Mode          RecoveryMode
	NeedsRecovery bool
	ResumeAction  string
}

// DetectRecovery inspects root for the presence of a mega-plan, worktree
// planning config, or a plain prd.json, in that priority order, and reports
// whether in-progress/pending stories remain that warrant resuming rather
// than starting fresh.
func DetectRecovery(root string, store *pathstore.Store) (RecoveryStatus, error) {
	for _, candidate := range []struct {
		file string
		mode RecoveryMode
	}{
		{"mega-plan.json", RecoveryMega},
		{".planning-config.json", RecoveryWorktree},
		{"prd.json", RecoveryStandard},
	} {
		if _, err := os.Stat(filepath.Join(root, candidate.file)); err == nil {
			status := RecoveryStatus{Mode: candidate.mode}
			if candidate.mode == RecoveryStandard || candidate.mode == RecoveryMega {
				p, err := store.ReadPlan()
				if err != nil {
					return RecoveryStatus{}, fmt.Errorf("detect recovery: %w", err)
				}
				for _, s := range p.Stories {
					if s.Status == plan.StatusInProgress || s.Status == plan.StatusPending {
						status.NeedsRecovery = true
						status.ResumeAction = "resume: call Run to continue draining the plan"
						break
					}
				}
			}
			return status, nil
		}
	}
	return RecoveryStatus{Mode: RecoveryNone}, nil
}
