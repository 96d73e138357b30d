package llmprovider

// factory.go selects a concrete llm.Client adapter from configuration.

import (
	"fmt"

	"github.com/Taoidle/plan-cascade/internal/config"
	"github.com/Taoidle/plan-cascade/internal/llm"
)

// New builds the llm.Client matching mc.Provider.
func New(mc config.ModelConfig) (llm.Client, error) {
	switch mc.Provider {
	case "anthropic":
		return NewAnthropicClient(mc.APIKey, mc.Name), nil
	case "openai":
		return NewOpenAIClient(mc.APIKey, mc.Name), nil
	case "ollama":
		host := mc.BaseURL
		if host == "" {
			host = "http://localhost:11434"
		}
		return NewOllamaClient(host, mc.Name), nil
	case "google", "gemini":
		return NewGoogleClient(mc.APIKey, mc.Name), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", mc.Provider)
	}
}
