package pathstore_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/pathstore"
	"github.com/Taoidle/plan-cascade/internal/plan"
)

func newStore(t *testing.T) *pathstore.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := pathstore.New(dir, logx.New("test", bytes.NewBuffer(nil)))
	require.NoError(t, err)
	return s
}

func TestWriteReadPlan_RoundTrip(t *testing.T) {
	s := newStore(t)
	p := &plan.Plan{Goal: "ship", Stories: []plan.Story{{ID: "a", Status: plan.StatusPending}}}

	require.NoError(t, s.WritePlan(p))
	got, err := s.ReadPlan()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ship", got.Goal)
	assert.Len(t, got.Stories, 1)
}

func TestReadPlan_AbsentReturnsNil(t *testing.T) {
	s := newStore(t)
	got, err := s.ReadPlan()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadJSONSafe_CorruptTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := pathstore.New(dir, logx.New("test", bytes.NewBuffer(nil)))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "prd.json"), []byte("{not json"), 0o644))

	var p plan.Plan
	ok := s.ReadJSONSafe("prd.json", &p)
	assert.False(t, ok)
}

func TestAgentRegistry_RoundTrip(t *testing.T) {
	s := newStore(t)
	reg := s.ReadAgentRegistry()
	assert.Empty(t, reg)

	reg["story-1"] = pathstore.AgentEntry{StoryID: "story-1", AgentName: "claude-code", State: "running", StartedAt: time.Now().UTC()}
	require.NoError(t, s.WriteAgentRegistry(reg))

	reloaded := s.ReadAgentRegistry()
	require.Contains(t, reloaded, "story-1")
	assert.Equal(t, "claude-code", reloaded["story-1"].AgentName)
}

func TestAcquireLock_SerializesAccess(t *testing.T) {
	s := newStore(t)
	guard, err := s.AcquireLock("registry", time.Hour)
	require.NoError(t, err)

	_, err = s.AcquireLock("registry", time.Hour)
	assert.Error(t, err)

	require.NoError(t, s.Release(guard))

	guard2, err := s.AcquireLock("registry", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Release(guard2))
}

func TestAcquireLock_BreaksStaleLock(t *testing.T) {
	s := newStore(t)
	guard, err := s.AcquireLock("registry", time.Hour)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(lockFilePath(t, s, "registry"), old, old))

	guard2, err := s.AcquireLock("registry", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Release(guard2))

	// The original guard's release should now be a no-op, not an error,
	// since the file is already gone.
	require.NoError(t, s.Release(guard))
}

func TestAppendProgress_BestEffort(t *testing.T) {
	s := newStore(t)
	s.AppendProgress("story-1", "started")
	s.AppendProgress("story-1", "finished")
	// Best-effort: no panic, no error surface. Nothing further to assert
	// without exposing the log path, which is intentionally internal.
}

// lockFilePath reaches into the store's root to find the lock file for
// staleness manipulation in tests; pathstore does not expose this path
// directly since callers should only interact via AcquireLock/Release.
func lockFilePath(t *testing.T, s *pathstore.Store, name string) string {
	t.Helper()
	// The store's root isn't exported; rediscover it via TempDir semantics
	// by locating the known result/prompt path family instead.
	dir := filepath.Dir(filepath.Dir(s.ResultPath("probe")))
	return filepath.Join(dir, ".locks", name+".lock")
}
