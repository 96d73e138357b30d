package scheduler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/plan"
	"github.com/Taoidle/plan-cascade/internal/scheduler"
)

func ids(stories []plan.Story) []string {
	out := make([]string, len(stories))
	for i, s := range stories {
		out[i] = s.ID
	}
	return out
}

// TestBatches_Diamond mirrors scenario S1: a→{b,c}→d.
func TestBatches_Diamond(t *testing.T) {
	p := &plan.Plan{Stories: []plan.Story{
		{ID: "a", Priority: plan.PriorityHigh},
		{ID: "b", Priority: plan.PriorityMedium, Dependencies: []string{"a"}},
		{ID: "c", Priority: plan.PriorityMedium, Dependencies: []string{"a"}},
		{ID: "d", Priority: plan.PriorityLow, Dependencies: []string{"b", "c"}},
	}}

	res := scheduler.Batches(p)
	require.False(t, res.CycleDetected)
	require.Len(t, res.Batches, 3)
	assert.Equal(t, []string{"a"}, ids(res.Batches[0]))
	assert.ElementsMatch(t, []string{"b", "c"}, ids(res.Batches[1]))
	assert.Equal(t, []string{"d"}, ids(res.Batches[2]))
}

func TestBatches_PriorityTieBreak(t *testing.T) {
	p := &plan.Plan{Stories: []plan.Story{
		{ID: "low", Priority: plan.PriorityLow},
		{ID: "high", Priority: plan.PriorityHigh},
		{ID: "medium", Priority: plan.PriorityMedium},
	}}
	res := scheduler.Batches(p)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, []string{"high", "medium", "low"}, ids(res.Batches[0]))
}

// TestBatches_Cycle mirrors scenario S5.
func TestBatches_Cycle(t *testing.T) {
	p := &plan.Plan{Stories: []plan.Story{
		{ID: "x", Dependencies: []string{"y"}},
		{ID: "y", Dependencies: []string{"x"}},
	}}
	res := scheduler.Batches(p)
	assert.True(t, res.CycleDetected)
	assert.ElementsMatch(t, []string{"x", "y"}, ids(res.CycleRemainder))
	assert.Empty(t, res.Batches)
}

func TestBatches_SkipsCompleteStories(t *testing.T) {
	p := &plan.Plan{Stories: []plan.Story{
		{ID: "a", Status: plan.StatusComplete},
		{ID: "b", Dependencies: []string{"a"}},
	}}
	res := scheduler.Batches(p)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, []string{"b"}, ids(res.Batches[0]))
}

func TestDependentsOf_Transitive(t *testing.T) {
	p := &plan.Plan{Stories: []plan.Story{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
		{ID: "d"},
	}}
	deps := scheduler.DependentsOf(p, "a")
	assert.True(t, deps["b"])
	assert.True(t, deps["c"])
	assert.False(t, deps["d"])
}

func TestNextReady_ReturnsFirstBatch(t *testing.T) {
	p := &plan.Plan{Stories: []plan.Story{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}}
	ready := scheduler.NextReady(p)
	assert.Equal(t, []string{"a"}, ids(ready))
}
