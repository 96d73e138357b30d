// Package pathstore owns the locations and atomicity guarantees of all
// on-disk state (spec.md §4.1, C1): plan, agent registry, progress log,
// result/log files, and named locks. Modeled on the teacher's
// pkg/state.Store file-per-entity layout, generalized to atomic
// temp-file-then-rename writes and file-based locking the teacher did not
// need.
package pathstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/plan"
)

const (
	planFilename     = "prd.json"
	registryFilename = "agents.json"
	progressFilename = "progress.log"
	locksDirName     = ".locks"
	outputsDirName   = ".agent-outputs"

	// staleLockAge is the default TTL after which a lock file is considered
	// abandoned and may be broken (spec.md §4.1).
	staleLockAge = time.Hour
)

// AgentEntry is the runtime registry row owned exclusively by the
// Supervisor (C4). Defined here, not in internal/supervisor, so both
// pathstore and supervisor can depend on it without a cycle.
type AgentEntry struct {
	StoryID        string     `json:"story_id"`
	AgentName      string     `json:"agent_name"`
	StartedAt      time.Time  `json:"started_at"`
	PID            int        `json:"pid,omitempty"`
	OutputLogPath  string     `json:"output_log_path,omitempty"`
	ResultPath     string     `json:"result_path,omitempty"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	State          string     `json:"state"` // running | completed | failed
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Registry is the full agent-status table, keyed by story id.
type Registry map[string]AgentEntry

// Store is the root of all durable state for a single project.
type Store struct {
	root   string
	logger *logx.Logger
}

// New creates the store rooted at root, creating its directories if absent.
func New(root string, logger *logx.Logger) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, locksDirName), filepath.Join(root, outputsDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

// path resolves name against the store root. Absolute paths (e.g. those
// returned by ResultPath/OutputLogPath) are passed through unchanged, so
// ReadJSONSafe/WriteJSONSafe work uniformly over both root-relative state
// files and the per-story paths under .agent-outputs.
func (s *Store) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.root, name)
}

// Root returns the project root this store is rooted at.
func (s *Store) Root() string { return s.root }

// OutputLogPath returns the path a backend should stream a story's
// stdout/stderr to.
func (s *Store) OutputLogPath(storyID string) string {
	return filepath.Join(s.root, outputsDirName, storyID+".log")
}

// ResultPath returns the path a backend should write its ResultRecord to.
func (s *Store) ResultPath(storyID string) string {
	return filepath.Join(s.root, outputsDirName, storyID+".result.json")
}

// PromptPath returns the path a subprocess backend should write a story's
// rendered prompt to.
func (s *Store) PromptPath(storyID string) string {
	return filepath.Join(s.root, outputsDirName, storyID+".prompt.txt")
}

// ReadPlan loads the plan, or (nil, nil) if absent or corrupt.
func (s *Store) ReadPlan() (*plan.Plan, error) {
	var p plan.Plan
	ok := s.ReadJSONSafe(planFilename, &p)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// WritePlan atomically persists the plan.
func (s *Store) WritePlan(p *plan.Plan) error {
	return s.atomicWriteJSON(planFilename, p)
}

// ReadAgentRegistry loads the registry, or an empty one if absent/corrupt.
func (s *Store) ReadAgentRegistry() Registry {
	reg := make(Registry)
	s.ReadJSONSafe(registryFilename, &reg)
	if reg == nil {
		reg = make(Registry)
	}
	return reg
}

// WriteAgentRegistry atomically persists the registry.
func (s *Store) WriteAgentRegistry(reg Registry) error {
	return s.atomicWriteJSON(registryFilename, reg)
}

// AppendProgress appends a single line to the progress log. Per spec.md
// §4.1 this is best-effort: failures are logged, never raised.
func (s *Store) AppendProgress(storyID, message string) {
	line := fmt.Sprintf("[%s] %s: %s\n", time.Now().UTC().Format(time.RFC3339), storyID, message)
	f, err := os.OpenFile(s.path(progressFilename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("append_progress: opening log failed: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		s.logger.Warn("append_progress: write failed: %v", err)
	}
}

// ReadJSONSafe unmarshals the named state file into v. It never raises:
// a missing file or corrupt JSON is simply reported as absent (false).
func (s *Store) ReadJSONSafe(name string, v any) bool {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("read_json_safe: %s is corrupt, treating as absent: %v", name, err)
		return false
	}
	return true
}

// WriteJSONSafe writes v to the named state file atomically, reporting
// success rather than raising.
func (s *Store) WriteJSONSafe(name string, v any) bool {
	if err := s.atomicWriteJSON(name, v); err != nil {
		s.logger.Warn("write_json_safe: %s: %v", name, err)
		return false
	}
	return true
}

// atomicWriteJSON writes v as indented JSON to a temp file in the same
// directory, fsyncs it, then renames over the target — making partial
// writes impossible (spec.md §4.1).
func (s *Store) atomicWriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}

	target := s.path(name)
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("renaming into place for %s: %w", name, err)
	}
	return nil
}

// LockGuard is a held lock; release it with (*Store).Release.
type LockGuard struct {
	name  string
	token string
	path  string
}

type lockFile struct {
	Token      string    `json:"token"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireLock acquires the named mutex, breaking it first if it is older
// than ttl (stale-lock recovery per spec.md §4.1). ttl<=0 uses the default
// one-hour staleness window.
func (s *Store) AcquireLock(name string, ttl time.Duration) (*LockGuard, error) {
	if ttl <= 0 {
		ttl = staleLockAge
	}
	lockPath := filepath.Join(s.root, locksDirName, name+".lock")

	if s.breakIfStale(lockPath, ttl) {
		s.logger.Warn("lock %q was stale, broke it", name)
	}

	token := uuid.NewString()
	data, err := json.Marshal(lockFile{Token: token, PID: os.Getpid(), AcquiredAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshaling lock %q: %w", name, err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("lock %q is held", name)
		}
		return nil, fmt.Errorf("acquiring lock %q: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("writing lock %q: %w", name, err)
	}

	return &LockGuard{name: name, token: token, path: lockPath}, nil
}

// Release releases a held lock, verifying the caller still owns it (the
// token matches what is on disk) before removing the file.
func (s *Store) Release(guard *LockGuard) error {
	if guard == nil {
		return nil
	}
	data, err := os.ReadFile(guard.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // already gone
		}
		return fmt.Errorf("reading lock %q on release: %w", guard.name, err)
	}
	var lf lockFile
	if err := json.Unmarshal(data, &lf); err == nil && lf.Token != guard.token {
		return fmt.Errorf("lock %q was broken by another holder", guard.name)
	}
	return os.Remove(guard.path)
}

// breakIfStale removes the lock file at path if its age exceeds ttl,
// reporting whether it did so.
func (s *Store) breakIfStale(path string, ttl time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) <= ttl {
		return false
	}
	_ = os.Remove(path)
	return true
}

// CleanupStaleLocks removes every lock in the locks directory older than
// one hour.
func (s *Store) CleanupStaleLocks() error {
	dir := filepath.Join(s.root, locksDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading locks directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		s.breakIfStale(filepath.Join(dir, e.Name()), staleLockAge)
	}
	return nil
}
