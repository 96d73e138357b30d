package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taoidle/plan-cascade/internal/plan"
)

func diamondPlan() plan.Plan {
	return plan.Plan{
		Goal: "ship feature",
		Stories: []plan.Story{
			{ID: "a", Priority: plan.PriorityHigh, Status: plan.StatusPending},
			{ID: "b", Priority: plan.PriorityMedium, Status: plan.StatusPending, Dependencies: []string{"a"}},
			{ID: "c", Priority: plan.PriorityMedium, Status: plan.StatusPending, Dependencies: []string{"a"}},
			{ID: "d", Priority: plan.PriorityLow, Status: plan.StatusPending, Dependencies: []string{"b", "c"}},
		},
	}
}

func TestValidate_DiamondOK(t *testing.T) {
	p := diamondPlan()
	require.NoError(t, p.Validate())
}

func TestValidate_DuplicateID(t *testing.T) {
	p := diamondPlan()
	p.Stories = append(p.Stories, plan.Story{ID: "a"})
	assert.Error(t, p.Validate())
}

func TestValidate_UnknownDependency(t *testing.T) {
	p := diamondPlan()
	p.Stories[0].Dependencies = []string{"ghost"}
	assert.Error(t, p.Validate())
}

func TestValidate_Cycle(t *testing.T) {
	p := plan.Plan{Stories: []plan.Story{
		{ID: "x", Dependencies: []string{"y"}},
		{ID: "y", Dependencies: []string{"x"}},
	}}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCanTransition_CompleteNeverRegresses(t *testing.T) {
	assert.True(t, plan.CanTransition(plan.StatusComplete, plan.StatusComplete))
	assert.False(t, plan.CanTransition(plan.StatusComplete, plan.StatusFailed))
	assert.True(t, plan.CanTransition(plan.StatusPending, plan.StatusInProgress))
}
