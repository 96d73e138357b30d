package supervisor_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/backend"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/pathstore"
	"github.com/Taoidle/plan-cascade/internal/supervisor"
)

type fakeBackend struct {
	name    string
	execute func(ctx context.Context) (backend.ExecutionResult, error)
	stopped bool
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Execute(ctx context.Context, _ backend.ExecContext) (backend.ExecutionResult, error) {
	return f.execute(ctx)
}

func (f *fakeBackend) Stop() error {
	f.stopped = true
	return nil
}

func newSupervisor(t *testing.T) (*supervisor.Supervisor, *pathstore.Store) {
	t.Helper()
	dir := t.TempDir()
	logger := logx.New("test", bytes.NewBuffer(nil))
	store, err := pathstore.New(dir, logger)
	require.NoError(t, err)
	return supervisor.New(store, logger), store
}

func TestLaunch_WritesRunningEntryThenReconcilesToCompleted(t *testing.T) {
	s, store := newSupervisor(t)
	release := make(chan struct{})
	b := &fakeBackend{name: "stub", execute: func(ctx context.Context) (backend.ExecutionResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return backend.ExecutionResult{Success: true, Agent: "stub"}, nil
	}}
	s.RegisterBackend("stub", func() backend.Backend { return b })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Launch(ctx, supervisor.LaunchRequest{StoryID: "s1", BackendName: "stub", TimeoutSeconds: 60}))

	reg := store.ReadAgentRegistry()
	require.Contains(t, reg, "s1")
	assert.Equal(t, "running", reg["s1"].State)

	close(release)
	require.Eventually(t, func() bool {
		require.NoError(t, s.Reconcile())
		return store.ReadAgentRegistry()["s1"].State != "running"
	}, time.Second, 5*time.Millisecond)

	entry := store.ReadAgentRegistry()["s1"]
	assert.Equal(t, "completed", entry.State)
	assert.NotNil(t, entry.FinishedAt)
}

func TestLaunch_UnknownBackendErrors(t *testing.T) {
	s, _ := newSupervisor(t)
	err := s.Launch(context.Background(), supervisor.LaunchRequest{StoryID: "s1", BackendName: "missing"})
	assert.Error(t, err)
}

func TestReconcile_FailureResultPromotesToFailed(t *testing.T) {
	s, store := newSupervisor(t)
	release := make(chan struct{})
	b := &fakeBackend{name: "stub", execute: func(ctx context.Context) (backend.ExecutionResult, error) {
		<-release
		return backend.ExecutionResult{Success: false, Agent: "stub", Error: "boom"}, nil
	}}
	s.RegisterBackend("stub", func() backend.Backend { return b })

	require.NoError(t, s.Launch(context.Background(), supervisor.LaunchRequest{StoryID: "s1", BackendName: "stub", TimeoutSeconds: 60}))
	close(release)

	require.Eventually(t, func() bool {
		require.NoError(t, s.Reconcile())
		return store.ReadAgentRegistry()["s1"].State != "running"
	}, time.Second, 5*time.Millisecond)

	entry := store.ReadAgentRegistry()["s1"]
	assert.Equal(t, "failed", entry.State)
	assert.Equal(t, "boom", entry.Error)
}

func TestStop_MarksFailedAndInvokesBackendStop(t *testing.T) {
	s, store := newSupervisor(t)
	release := make(chan struct{})
	b := &fakeBackend{name: "stub", execute: func(ctx context.Context) (backend.ExecutionResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return backend.ExecutionResult{Success: false}, nil
	}}
	s.RegisterBackend("stub", func() backend.Backend { return b })

	require.NoError(t, s.Launch(context.Background(), supervisor.LaunchRequest{StoryID: "s1", BackendName: "stub", TimeoutSeconds: 60}))
	require.NoError(t, s.Stop("s1"))

	assert.True(t, b.stopped)
	entry := store.ReadAgentRegistry()["s1"]
	assert.Equal(t, "failed", entry.State)
	assert.Equal(t, "Stopped by user", entry.Error)
	close(release)
}

func TestStop_UnknownStoryRefuses(t *testing.T) {
	s, _ := newSupervisor(t)
	err := s.Stop("ghost")
	assert.Error(t, err)
}

// TestReconcile_CrashedProcessPromotesToFailed simulates a fresh Supervisor
// (no in-process backend handle, no running goroutine) reconciling a
// registry entry left "running" by a process that no longer exists: no
// result file, no live pid. Reconcile must still converge it to "failed"
// from the pid-liveness branch alone, without ever touching s.running.
func TestReconcile_CrashedProcessPromotesToFailed(t *testing.T) {
	dir := t.TempDir()
	logger := logx.New("test", bytes.NewBuffer(nil))
	store, err := pathstore.New(dir, logger)
	require.NoError(t, err)

	reg := store.ReadAgentRegistry()
	reg["s1"] = pathstore.AgentEntry{
		StoryID:        "s1",
		AgentName:      "stub",
		StartedAt:      time.Now().UTC().Add(-time.Minute),
		TimeoutSeconds: 600,
		State:          "running",
		PID:            999999999, // never a real pid on any host running this test
	}
	require.NoError(t, store.WriteAgentRegistry(reg))

	// A brand-new Supervisor instance, standing in for a freshly-started
	// orchestrator process that never launched s1 itself.
	fresh := supervisor.New(store, logger)
	require.NoError(t, fresh.Reconcile())

	entry := store.ReadAgentRegistry()["s1"]
	assert.Equal(t, "failed", entry.State)
	assert.NotNil(t, entry.FinishedAt)
}

// TestReconcile_CrashedProcessWithResultFileWins verifies step 1 of
// reconciliation (a written result file) takes priority over the
// pid-liveness probe, even when the pid is already gone — the common
// crash-recovery case where the backend finished writing its result just
// before the process (or the supervising orchestrator) died.
func TestReconcile_CrashedProcessWithResultFileWins(t *testing.T) {
	dir := t.TempDir()
	logger := logx.New("test", bytes.NewBuffer(nil))
	store, err := pathstore.New(dir, logger)
	require.NoError(t, err)

	resultPath := store.ResultPath("s1")
	require.True(t, store.WriteJSONSafe(resultPath, backend.ExecutionResult{Success: true, Agent: "stub"}))

	reg := store.ReadAgentRegistry()
	reg["s1"] = pathstore.AgentEntry{
		StoryID:        "s1",
		AgentName:      "stub",
		StartedAt:      time.Now().UTC().Add(-time.Minute),
		TimeoutSeconds: 600,
		ResultPath:     resultPath,
		State:          "running",
		PID:            999999999,
	}
	require.NoError(t, store.WriteAgentRegistry(reg))

	fresh := supervisor.New(store, logger)
	require.NoError(t, fresh.Reconcile())

	entry := store.ReadAgentRegistry()["s1"]
	assert.Equal(t, "completed", entry.State)
}

func TestWait_ReturnsOnceTerminal(t *testing.T) {
	s, _ := newSupervisor(t)
	release := make(chan struct{})
	b := &fakeBackend{name: "stub", execute: func(ctx context.Context) (backend.ExecutionResult, error) {
		<-release
		return backend.ExecutionResult{Success: true}, nil
	}}
	s.RegisterBackend("stub", func() backend.Backend { return b })

	require.NoError(t, s.Launch(context.Background(), supervisor.LaunchRequest{StoryID: "s1", BackendName: "stub", TimeoutSeconds: 60}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	err := s.Wait(context.Background(), []string{"s1"}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, err)
}
