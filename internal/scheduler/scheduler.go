// Package scheduler computes dependency-ordered batches from a plan.Plan
// (spec.md §4.5, C5): a level-by-level Kahn-style batch computation with a
// priority tie-break and a surfaced, non-raising cycle-break batch. Each
// level rescans every still-waiting story and its dependencies, so one
// computation costs O(B·(V+E)) for B batches, not O(V+E).
package scheduler

import (
	"sort"

	"github.com/Taoidle/plan-cascade/internal/plan"
)

var priorityRank = map[plan.Priority]int{
	plan.PriorityHigh:   0,
	plan.PriorityMedium: 1,
	plan.PriorityLow:    2,
}

// Result is the outcome of a Batches computation.
type Result struct {
	Batches        [][]plan.Story
	CycleDetected  bool
	CycleRemainder []plan.Story
}

// Batches computes batch[k] = { s not complete : every dependency is
// complete or already placed in batch[0..k-1] }, tie-broken by priority
// then stable input order. If stories remain that can never become ready,
// they are surfaced as a single cycle-break batch with CycleDetected=true,
// never as an error.
func Batches(p *plan.Plan) Result {
	byID := make(map[string]plan.Story, len(p.Stories))
	for _, s := range p.Stories {
		byID[s.ID] = s
	}

	placed := make(map[string]bool, len(p.Stories))
	remaining := make([]plan.Story, 0, len(p.Stories))
	for _, s := range p.Stories {
		if s.Status == plan.StatusComplete {
			placed[s.ID] = true
			continue
		}
		remaining = append(remaining, s)
	}

	var result Result
	for len(remaining) > 0 {
		var ready []plan.Story
		var stillWaiting []plan.Story

		for _, s := range remaining {
			if isReady(s, byID, placed) {
				ready = append(ready, s)
			} else {
				stillWaiting = append(stillWaiting, s)
			}
		}

		if len(ready) == 0 {
			result.CycleDetected = true
			result.CycleRemainder = remaining
			break
		}

		sortByPriority(ready)
		for _, s := range ready {
			placed[s.ID] = true
		}
		result.Batches = append(result.Batches, ready)
		remaining = stillWaiting
	}

	return result
}

func isReady(s plan.Story, byID map[string]plan.Story, placed map[string]bool) bool {
	for _, dep := range s.Dependencies {
		if depStory, ok := byID[dep]; ok && depStory.Status == plan.StatusComplete {
			continue
		}
		if placed[dep] {
			continue
		}
		return false
	}
	return true
}

// sortByPriority stable-sorts by high > medium > low, preserving input
// order for equal priority.
func sortByPriority(stories []plan.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		return priorityRank[stories[i].Priority] < priorityRank[stories[j].Priority]
	})
}

// NextReady recomputes batches against the given plan (whose Stories
// reflect the latest progress snapshot) and returns only the first ready
// batch — the set of stories eligible to launch right now.
func NextReady(p *plan.Plan) []plan.Story {
	res := Batches(p)
	if len(res.Batches) == 0 {
		return nil
	}
	return res.Batches[0]
}

// DependentsOf returns the set of story ids that (directly or
// transitively) depend on storyID.
func DependentsOf(p *plan.Plan, storyID string) map[string]bool {
	direct := make(map[string][]string, len(p.Stories))
	for _, s := range p.Stories {
		for _, dep := range s.Dependencies {
			direct[dep] = append(direct[dep], s.ID)
		}
	}

	visited := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		for _, child := range direct[id] {
			if visited[child] {
				continue
			}
			visited[child] = true
			visit(child)
		}
	}
	visit(storyID)
	return visited
}
