// Package agentdetect checks whether a named coding-agent CLI is installed
// and runnable on this machine, caching results with a TTL (spec.md §4.7).
// Modeled on the teacher's pkg/limiter "cached value, refreshed on a
// schedule" pattern, substituting a JSON file for limiter's in-memory
// token bucket since this cache must survive process restarts.
package agentdetect

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/Taoidle/plan-cascade/internal/logx"
)

const cacheFilename = ".agent-detection.json"

type cacheEntry struct {
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
}

// Detector answers "is agent X available" with a TTL-cached, platform-aware
// probe: PATH lookup, then common install directories, then (Windows only)
// the uninstall registry.
type Detector struct {
	projectRoot string
	ttl         time.Duration
	logger      *logx.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Detector rooted at projectRoot, loading any existing cache
// file. ttl<=0 uses the spec's one-hour default.
func New(projectRoot string, ttl time.Duration, logger *logx.Logger) *Detector {
	if ttl <= 0 {
		ttl = time.Hour
	}
	d := &Detector{projectRoot: projectRoot, ttl: ttl, logger: logger, cache: make(map[string]cacheEntry)}
	d.load()
	return d
}

func (d *Detector) cachePath() string { return filepath.Join(d.projectRoot, cacheFilename) }

func (d *Detector) load() {
	data, err := os.ReadFile(d.cachePath())
	if err != nil {
		return
	}
	var cache map[string]cacheEntry
	if err := json.Unmarshal(data, &cache); err != nil {
		d.logger.Warn("agentdetect: cache file corrupt, ignoring: %v", err)
		return
	}
	d.cache = cache
}

func (d *Detector) save() {
	data, err := json.MarshalIndent(d.cache, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(d.cachePath(), data, 0o644); err != nil {
		d.logger.Warn("agentdetect: writing cache failed: %v", err)
	}
}

// Available reports whether name is installed and runnable, using a cached
// result if it is younger than the configured TTL.
func (d *Detector) Available(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.cache[name]; ok && time.Since(entry.CheckedAt) < d.ttl {
		return entry.Available
	}

	available := detect(name)
	d.cache[name] = cacheEntry{Available: available, CheckedAt: time.Now().UTC()}
	d.save()
	return available
}

// Invalidate forces the next Available(name) call to re-probe.
func (d *Detector) Invalidate(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, name)
}

func detect(name string) bool {
	if _, err := exec.LookPath(name); err == nil {
		return true
	}
	for _, dir := range commonInstallDirs() {
		if fileExists(filepath.Join(dir, name)) {
			return true
		}
	}
	return checkRegistry(name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
