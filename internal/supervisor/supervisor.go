// Package supervisor launches, tracks, reconciles, and harvests story
// executions (spec.md §4.4, C4) — the concurrency core of Plan Cascade.
// Registry state lives in internal/pathstore; this package owns the
// launch/reconcile/wait/stop state machine over it. Styled after the
// teacher's internal/supervisor (mutex-guarded maps, a Logger field, a
// sync.WaitGroup tracking in-flight goroutines), though the teacher's
// supervisor restarts long-lived in-process agents on state-change
// notification, a different concern from launching and reaping
// subprocess/ReAct executions via result files and PID liveness.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/Taoidle/plan-cascade/internal/backend"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/pathstore"
)

// exitCodeMarker matches the trailing "# Exit Code: N" line a backend (or a
// crashed-then-recovered subprocess) leaves in its output log.
var exitCodeMarker = regexp.MustCompile(`#\s*Exit Code:\s*(-?\d+)`)

const (
	defaultTimeout      = 600 * time.Second
	defaultPollInterval = 2 * time.Second
	logTailBytes        = 4096
)

// BackendFactory builds a fresh Backend instance for one execution. A new
// instance per launch, rather than a shared one, keeps concurrent
// executions of the same agent type from clobbering each other's
// in-flight *exec.Cmd.
type BackendFactory func() backend.Backend

// Supervisor is the single owner of the on-disk agent registry.
type Supervisor struct {
	store    *pathstore.Store
	logger   *logx.Logger
	registry string // lock name for the registry

	factories map[string]BackendFactory

	mu      sync.Mutex
	running map[string]backend.Backend // story_id -> in-flight backend instance, this process only
	wg      sync.WaitGroup
}

// New builds a Supervisor. Call RegisterBackend for each agent type before
// Launch.
func New(store *pathstore.Store, logger *logx.Logger) *Supervisor {
	return &Supervisor{
		store:     store,
		logger:    logger,
		registry:  "registry",
		factories: make(map[string]BackendFactory),
		running:   make(map[string]backend.Backend),
	}
}

// RegisterBackend makes a named backend available to Launch.
func (s *Supervisor) RegisterBackend(name string, factory BackendFactory) {
	s.factories[name] = factory
}

// HasBackend reports whether a backend is registered under name, so callers
// resolving an agent name to a backend can fall back when no such backend
// exists.
func (s *Supervisor) HasBackend(name string) bool {
	_, ok := s.factories[name]
	return ok
}

// LaunchRequest is what Launch needs to start one story.
type LaunchRequest struct {
	StoryID        string
	Prompt         string
	ProjectRoot    string
	BackendName    string
	TimeoutSeconds int
}

// Launch allocates a story's output paths, appends a running AgentEntry to
// the registry, and starts the backend asynchronously (spec.md §4.4
// Launch steps 1-4). It returns once the registry entry is durably
// recorded; execution itself continues in the background.
func (s *Supervisor) Launch(ctx context.Context, req LaunchRequest) error {
	factory, ok := s.factories[req.BackendName]
	if !ok {
		return fmt.Errorf("launch %s: unknown backend %q", req.StoryID, req.BackendName)
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	execCtx := backend.ExecContext{
		Prompt:        req.Prompt,
		StoryID:       req.StoryID,
		ProjectRoot:   req.ProjectRoot,
		OutputLogPath: s.store.OutputLogPath(req.StoryID),
		ResultPath:    s.store.ResultPath(req.StoryID),
		PromptPath:    s.store.PromptPath(req.StoryID),
	}
	if err := os.WriteFile(execCtx.PromptPath, []byte(req.Prompt), 0o644); err != nil {
		return fmt.Errorf("launch %s: writing prompt file: %w", req.StoryID, err)
	}

	// A retry reuses the story's result path; drop the previous attempt's
	// record so Reconcile cannot take it for this attempt's outcome.
	if err := os.Remove(execCtx.ResultPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("launch %s: removing previous result record: %w", req.StoryID, err)
	}

	b := factory()

	entry := pathstore.AgentEntry{
		StoryID:        req.StoryID,
		AgentName:      req.BackendName,
		StartedAt:      time.Now().UTC(),
		TimeoutSeconds: int(timeout / time.Second),
		OutputLogPath:  execCtx.OutputLogPath,
		ResultPath:     execCtx.ResultPath,
		State:          "running",
	}

	if err := s.mutateRegistry(func(reg pathstore.Registry) {
		reg[req.StoryID] = entry
	}); err != nil {
		return fmt.Errorf("launch %s: recording registry entry: %w", req.StoryID, err)
	}

	s.mu.Lock()
	s.running[req.StoryID] = b
	s.mu.Unlock()

	// Subprocess backends only know their pid once Execute has called
	// cmd.Start(), which happens inside the goroutine below. Watch for it
	// briefly and backfill the registry entry so an out-of-process
	// reconciler (spec.md §4.4 step 2) has a liveness-probe target.
	if pidBackend, ok := b.(interface{ PID() int }); ok {
		s.wg.Add(1)
		go s.watchPID(pidBackend, req.StoryID)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, req.StoryID)
			s.mu.Unlock()
		}()

		result, err := b.Execute(ctx, execCtx)
		if err != nil {
			result = backend.ExecutionResult{Success: false, Agent: b.Name(), Error: err.Error()}
		}
		if !s.store.WriteJSONSafe(execCtx.ResultPath, result) {
			s.logger.Warn("launch %s: writing result record failed; reconciliation will fall back to liveness/log probe", req.StoryID)
		}
	}()

	return nil
}

// watchPID polls a newly-launched subprocess backend for its pid and
// backfills the registry entry once available.
func (s *Supervisor) watchPID(b interface{ PID() int }, storyID string) {
	defer s.wg.Done()
	for i := 0; i < 50; i++ {
		if pid := b.PID(); pid != 0 {
			err := s.mutateRegistry(func(reg pathstore.Registry) {
				entry, ok := reg[storyID]
				if !ok || entry.State != "running" {
					return
				}
				entry.PID = pid
				reg[storyID] = entry
			})
			if err != nil {
				s.logger.Warn("launch %s: backfilling pid failed: %v", storyID, err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Reconcile promotes every running registry entry to a terminal state where
// warranted, following spec.md §4.4's exact three-step algorithm. It is
// idempotent and safe to call repeatedly from a polling loop or concurrently
// from multiple processes.
func (s *Supervisor) Reconcile() error {
	return s.mutateRegistry(func(reg pathstore.Registry) {
		now := time.Now().UTC()
		for id, entry := range reg {
			if entry.State != "running" {
				continue
			}
			reg[id] = s.reconcileEntry(entry, now)
		}
	})
}

func (s *Supervisor) reconcileEntry(entry pathstore.AgentEntry, now time.Time) pathstore.AgentEntry {
	// Step 1: result file present wins over everything else.
	var result backend.ExecutionResult
	if entry.ResultPath != "" && s.store.ReadJSONSafe(entry.ResultPath, &result) {
		return terminal(entry, result.Success, result.Error, now)
	}

	// Step 2: no result file — probe liveness, then the log tail.
	alive := entry.PID != 0 && backend.ProcessAlive(entry.PID)
	if !alive && entry.PID != 0 {
		if code, ok := tailExitCode(entry.OutputLogPath); ok {
			if code == 0 {
				return terminal(entry, true, "", now)
			}
			return terminal(entry, false, fmt.Sprintf("exited with code %d", code), now)
		}
		return terminal(entry, false, "Process exited unexpectedly", now)
	}

	// Step 3: still alive (or no PID to probe) — enforce the timeout.
	elapsed := now.Sub(entry.StartedAt)
	if entry.TimeoutSeconds > 0 && elapsed > time.Duration(entry.TimeoutSeconds)*time.Second {
		s.killEntry(entry)
		return terminal(entry, false, fmt.Sprintf("Timeout after %d s", entry.TimeoutSeconds), now)
	}

	return entry
}

func terminal(entry pathstore.AgentEntry, success bool, errMsg string, at time.Time) pathstore.AgentEntry {
	entry.State = "completed"
	if !success {
		entry.State = "failed"
	}
	entry.Error = errMsg
	finished := at
	entry.FinishedAt = &finished
	return entry
}

// killEntry best-effort kills a still-running entry's process, by PID if
// out-of-process or via the in-memory backend handle if this process
// launched it.
func (s *Supervisor) killEntry(entry pathstore.AgentEntry) {
	s.mu.Lock()
	b, ok := s.running[entry.StoryID]
	s.mu.Unlock()
	if ok {
		if err := b.Stop(); err != nil {
			s.logger.Warn("reconcile %s: best-effort kill failed: %v", entry.StoryID, err)
		}
		return
	}
	if entry.PID != 0 {
		if err := backend.KillPID(entry.PID); err != nil {
			s.logger.Warn("reconcile %s: best-effort kill of pid %d failed: %v", entry.StoryID, entry.PID, err)
		}
	}
}

// tailExitCode scans the last logTailBytes of path for a "# Exit Code: N"
// marker line, returning its value if found.
func tailExitCode(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, false
	}
	offset := int64(0)
	if info.Size() > logTailBytes {
		offset = info.Size() - logTailBytes
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return 0, false
	}

	var code int
	found := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := exitCodeMarker.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if _, err := fmt.Sscanf(m[1], "%d", &code); err == nil {
			found = true
		}
	}
	return code, found
}

// Wait repeatedly reconciles and sleeps until every named story (or every
// running entry, when storyIDs is empty) reaches a terminal state, or
// timeout elapses (spec.md §4.4 Wait).
func (s *Supervisor) Wait(ctx context.Context, storyIDs []string, timeout, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	want := make(map[string]bool, len(storyIDs))
	for _, id := range storyIDs {
		want[id] = true
	}

	for {
		if err := s.Reconcile(); err != nil {
			return fmt.Errorf("wait: reconcile: %w", err)
		}
		reg := s.store.ReadAgentRegistry()
		if allTerminal(reg, want) {
			return nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("wait: timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func allTerminal(reg pathstore.Registry, want map[string]bool) bool {
	checked := false
	for id, entry := range reg {
		if len(want) > 0 && !want[id] {
			continue
		}
		checked = true
		if entry.State == "running" {
			return false
		}
	}
	return checked || len(want) == 0
}

// Stop kills a story's process and records it as failed with
// error="Stopped by user" (spec.md §4.4 Stop). Backends with no PID (and no
// in-process handle in this supervisor) refuse with an error.
func (s *Supervisor) Stop(storyID string) error {
	s.mu.Lock()
	b, ok := s.running[storyID]
	s.mu.Unlock()
	if !ok {
		entry, found := s.store.ReadAgentRegistry()[storyID]
		if !found || entry.PID == 0 {
			return fmt.Errorf("stop %s: no pid and no in-process handle; task-tool-style backends cannot be stopped out of process", storyID)
		}
		if err := backend.KillPID(entry.PID); err != nil {
			return fmt.Errorf("stop %s: %w", storyID, err)
		}
	} else if err := b.Stop(); err != nil {
		return fmt.Errorf("stop %s: %w", storyID, err)
	}
	return s.mutateRegistry(func(reg pathstore.Registry) {
		entry, ok := reg[storyID]
		if !ok {
			return
		}
		reg[storyID] = terminal(entry, false, "Stopped by user", time.Now().UTC())
	})
}

// Close waits for every in-flight launch goroutine to finish writing its
// result record. Intended for orderly shutdown, not normal operation.
func (s *Supervisor) Close() { s.wg.Wait() }

// mutateRegistry performs fn as a single atomic read-modify-write under the
// registry's named lock (spec.md §4.4 Ordering guarantee).
func (s *Supervisor) mutateRegistry(fn func(reg pathstore.Registry)) error {
	guard, err := s.store.AcquireLock(s.registry, 0)
	if err != nil {
		return fmt.Errorf("acquiring registry lock: %w", err)
	}
	defer func() {
		if relErr := s.store.Release(guard); relErr != nil {
			s.logger.Warn("releasing registry lock: %v", relErr)
		}
	}()

	reg := s.store.ReadAgentRegistry()
	fn(reg)
	if err := s.store.WriteAgentRegistry(reg); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}
