package strategy

// heuristic.go implements the no-LLM classification fallback: score three
// keyword lexicons against the normalized description, adjust for length
// and list-item density, and pick the highest scorer. Grounded on the same
// keyword-lexicon idiom internal/retry/storytype.go uses for story-type
// inference — both are "no ML, just lexicon scoring over free text"
// classifiers, not shared code, since the two score different text shapes
// and output different closed sets.

import "strings"

var megaPlanLexicon = []string{
	"entire", "whole system", "rewrite", "migrate", "migration", "platform",
	"multi-service", "microservice", "architecture", "overhaul", "ground up",
	"from scratch", "full application",
}

var hybridLexicon = []string{
	"and also", "as well as", "in addition", "then", "after that", "multiple",
	"several", "refactor and", "add support for", "integrate",
}

var directLexicon = []string{
	"fix", "bug", "typo", "small", "quick", "tweak", "update", "rename",
	"adjust", "one", "single",
}

const (
	listItemWeight = 2
	wordCountLarge = 120 // descriptions this long lean mega-plan
	wordCountSmall = 20  // descriptions this short lean direct
)

// HeuristicClassify always succeeds (spec.md §4.9): it never returns an
// error, only a best-effort Decision.
func HeuristicClassify(description string) Decision {
	normalized := strings.ToLower(description)

	scores := map[Kind]int{
		KindMegaPlan: scoreLexicon(normalized, megaPlanLexicon),
		KindHybrid:   scoreLexicon(normalized, hybridLexicon),
		KindDirect:   scoreLexicon(normalized, directLexicon),
	}

	words := len(strings.Fields(description))
	listItems := countListItems(description)

	switch {
	case words >= wordCountLarge:
		scores[KindMegaPlan] += 2
	case words <= wordCountSmall:
		scores[KindDirect] += 2
	}
	if listItems >= 3 {
		scores[KindHybrid] += listItems / 3 * listItemWeight
	}

	kind, indicators := pickMax(scores)
	return Decision{
		Kind:             kind,
		UseWorktree:      kind == KindMegaPlan,
		EstimatedStories: estimateStories(kind, words, listItems),
		Confidence:       heuristicConfidence(scores, kind),
		Reasoning:        "Heuristic keyword-lexicon classification (no LLM available)",
		Indicators:       indicators,
	}
}

func scoreLexicon(normalized string, lexicon []string) int {
	score := 0
	for _, kw := range lexicon {
		if strings.Contains(normalized, kw) {
			score++
		}
	}
	return score
}

func countListItems(description string) int {
	count := 0
	for _, line := range strings.Split(description, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			count++
		}
	}
	return count
}

func pickMax(scores map[Kind]int) (Kind, []string) {
	best := KindDirect
	bestScore := -1
	for _, kind := range []Kind{KindDirect, KindHybrid, KindMegaPlan} {
		if scores[kind] > bestScore {
			best = kind
			bestScore = scores[kind]
		}
	}
	var indicators []string
	for kind, score := range scores {
		if score > 0 {
			indicators = append(indicators, string(kind))
		}
	}
	return best, indicators
}

func heuristicConfidence(scores map[Kind]int, winner Kind) float64 {
	total := 0
	for _, s := range scores {
		total += s
	}
	if total == 0 {
		return 0.4 // no keyword signal at all; weak default guess
	}
	return 0.5 + 0.5*float64(scores[winner])/float64(total)
}

func estimateStories(kind Kind, words, listItems int) int {
	switch kind {
	case KindMegaPlan:
		if listItems > 0 {
			return listItems
		}
		return 8
	case KindHybrid:
		if listItems > 0 {
			return listItems
		}
		return 3
	default:
		return 1
	}
}
