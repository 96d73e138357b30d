package react

// Config enumerates the bounded-loop knobs for a single Run call.
type Config struct {
	MaxIterations     int
	Temperature       float32
	MaxTokens         int
	CompletionMarkers []string
	FailureMarkers    []string
	StopOnEndTurn     bool
}

// DefaultConfig mirrors the default enumeration in spec.md §4.3.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     50,
		Temperature:       0.7,
		MaxTokens:         8192,
		CompletionMarkers: []string{"TASK_COMPLETE"},
		FailureMarkers:    []string{"TASK_FAILED:"},
		StopOnEndTurn:     true,
	}
}
