package retry

// storytype.go infers a story's type from keyword lexicons over its
// title/tags/description, the same keyword-scoring approach as the
// Strategy Analyzer's heuristic fallback (SPEC_FULL.md §4.9) — both are
// "no ML, just lexicon scoring over free text" classifiers, grounded on
// the same idiom rather than shared code, since the input shapes differ.

import "strings"

// StoryType is one of spec.md §4.7's closed set of story categories.
type StoryType string

const (
	StoryFeature        StoryType = "feature"
	StoryBugfix         StoryType = "bugfix"
	StoryRefactor       StoryType = "refactor"
	StoryTest           StoryType = "test"
	StoryDocumentation  StoryType = "documentation"
	StoryInfrastructure StoryType = "infrastructure"
	StoryUnknown        StoryType = "unknown"
)

var storyTypeLexicon = map[StoryType][]string{
	StoryBugfix:         {"bug", "fix", "crash", "broken", "regression", "defect", "hotfix"},
	StoryRefactor:       {"refactor", "cleanup", "restructure", "simplify", "rewrite", "tech debt", "technical debt"},
	StoryTest:           {"test", "coverage", "unit test", "integration test", "e2e", "regression test"},
	StoryDocumentation:  {"docs", "documentation", "readme", "changelog", "comment"},
	StoryInfrastructure: {"ci", "cd", "pipeline", "deploy", "infra", "infrastructure", "docker", "terraform", "provision"},
	StoryFeature:        {"add", "implement", "feature", "support", "introduce", "new"},
}

// storyTypeScanOrder fixes the tie-break when a story's text matches more
// than one lexicon: more specific categories are checked before the
// catch-all "feature" bucket.
var storyTypeScanOrder = []StoryType{
	StoryBugfix, StoryTest, StoryDocumentation, StoryInfrastructure, StoryRefactor, StoryFeature,
}

// InferStoryType scores title+tags+description against each lexicon and
// returns the first (in scan-order) category with at least one keyword
// hit, or StoryUnknown if none match.
func InferStoryType(title, description string, tags []string) StoryType {
	haystack := strings.ToLower(strings.Join(append([]string{title, description}, tags...), " "))

	for _, t := range storyTypeScanOrder {
		for _, kw := range storyTypeLexicon[t] {
			if strings.Contains(haystack, kw) {
				return t
			}
		}
	}
	return StoryUnknown
}
