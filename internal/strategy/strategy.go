// Package strategy classifies a free-text task description into an
// execution strategy — direct, hybrid-auto, or mega-plan (spec.md §4.9,
// C9). Grounded on the teacher's llm.Client completion contract: send a
// digest to the model and parse a JSON object back, the same
// request/response/parse shape the ReAct engine (internal/react) uses for
// its own completions, narrowed here to a single non-streaming call.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Taoidle/plan-cascade/internal/llm"
	"github.com/Taoidle/plan-cascade/internal/logx"
)

// Kind is the closed set of execution strategies spec.md §4.9 defines.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindHybrid    Kind = "hybrid_auto"
	KindMegaPlan  Kind = "mega_plan"
)

// Decision is the full output of classifying a task description.
type Decision struct {
	Kind               Kind     `json:"kind"`
	UseWorktree        bool     `json:"use_worktree"`
	EstimatedStories   int      `json:"estimated_stories"`
	EstimatedFeatures  int      `json:"estimated_features"`
	EstimatedDuration  string   `json:"estimated_duration"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	Indicators         []string `json:"indicators"`
	Recommendations    []string `json:"recommendations"`
}

// ProjectContext is the short project digest sent to the LLM alongside the
// raw description (spec.md §4.9 "project-context digest").
type ProjectContext struct {
	DetectedKinds    []string // e.g. "node", "python", "go"
	HasExistingPlan  bool
	ReadmeExcerpt    string
	SourceFileCounts map[string]int
}

// Analyzer classifies task descriptions. LLM is optional: when nil (or
// when the LLM call fails), Classify falls back to the heuristic scorer,
// which always succeeds (spec.md §4.9 "This path always succeeds").
type Analyzer struct {
	LLM             llm.Client
	Logger          *logx.Logger
	FallbackEnabled bool
}

// NewAnalyzer builds an Analyzer. llmClient may be nil to always use the
// heuristic path.
func NewAnalyzer(llmClient llm.Client, logger *logx.Logger) *Analyzer {
	return &Analyzer{LLM: llmClient, Logger: logger, FallbackEnabled: true}
}

// Classify decides a strategy for description given ctx's project digest.
// Tries the LLM path first (if configured); falls back to the heuristic
// scorer on any failure, unless FallbackEnabled is false.
func (a *Analyzer) Classify(ctx context.Context, description string, pctx ProjectContext) (Decision, error) {
	if a.LLM != nil {
		decision, err := a.classifyWithLLM(ctx, description, pctx)
		if err == nil {
			return decision, nil
		}
		if !a.FallbackEnabled {
			return Decision{}, fmt.Errorf("strategy: llm classification failed and fallback disabled: %w", err)
		}
		a.Logger.Warn("strategy: llm classification failed, falling back to heuristic: %v", err)
	}
	return HeuristicClassify(description), nil
}

// Override replaces any decision with a fixed strategy and confidence=1.0
// (spec.md §4.9 user override).
func Override(kind Kind, reason string) Decision {
	return Decision{
		Kind:       kind,
		Confidence: 1.0,
		Reasoning:  "User override: " + reason,
	}
}

func (a *Analyzer) classifyWithLLM(ctx context.Context, description string, pctx ProjectContext) (Decision, error) {
	prompt := buildPrompt(description, pctx)
	resp, err := a.LLM.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You classify software task descriptions into an execution strategy. Reply with a single JSON object only."},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("completing classification: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &decision); err != nil {
		return Decision{}, fmt.Errorf("parsing classification response: %w", err)
	}
	if decision.Kind == "" {
		return Decision{}, fmt.Errorf("classification response had no kind")
	}
	return decision, nil
}

func buildPrompt(description string, pctx ProjectContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task description:\n%s\n\n", description)
	fmt.Fprintf(&b, "Project context:\n")
	fmt.Fprintf(&b, "- detected project kinds: %s\n", strings.Join(pctx.DetectedKinds, ", "))
	fmt.Fprintf(&b, "- existing plan present: %v\n", pctx.HasExistingPlan)
	if pctx.ReadmeExcerpt != "" {
		fmt.Fprintf(&b, "- README excerpt: %s\n", pctx.ReadmeExcerpt)
	}
	for kind, count := range pctx.SourceFileCounts {
		fmt.Fprintf(&b, "- %s source files: %d\n", kind, count)
	}
	b.WriteString("\nRespond with a JSON object: {\"kind\": \"direct\"|\"hybrid_auto\"|\"mega_plan\", \"use_worktree\": bool, \"estimated_stories\": int, \"estimated_features\": int, \"estimated_duration\": string, \"confidence\": float, \"reasoning\": string, \"indicators\": [string], \"recommendations\": [string]}")
	return b.String()
}

// extractJSONObject finds the first top-level {...} span in s, tolerating
// a model that wraps its JSON in prose or a code fence.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
