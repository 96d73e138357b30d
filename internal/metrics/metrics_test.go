package metrics_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/metrics"
)

func TestRecorder_ExposesObservedMetrics(t *testing.T) {
	r := metrics.New()
	r.ObserveStoryLaunch("claude-code", "implementation")
	r.ObserveStoryFinished("claude-code", "implementation", "completed", 2*time.Second)
	r.ObserveGateRun("test", true, 500*time.Millisecond)
	r.ObserveGateRun("lint", false, 100*time.Millisecond)
	r.ObserveRetryAttempt("bugfix", "exit_code")
	r.ObserveBatchSize(4)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cascade_stories_launched_total")
	assert.Contains(t, body, "cascade_stories_finished_total")
	assert.Contains(t, body, "cascade_gate_runs_total")
	assert.Contains(t, body, "cascade_retry_attempts_total")
	assert.Contains(t, body, "cascade_batch_size")
}

func TestNew_IndependentRegistriesDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		r1 := metrics.New()
		r2 := metrics.New()
		r1.ObserveBatchSize(1)
		r2.ObserveBatchSize(1)
	})
}
