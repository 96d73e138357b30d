// Package config defines the engine's closed configuration surface.
//
// There is no package-level singleton here: every component that needs
// configuration receives a *Config explicitly, per the redesign note that
// replaces Plan Cascade's ancestor's global mutable config with explicit
// threading (see SPEC_FULL.md §9).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelConfig describes one configured LLM model / provider routing entry.
//
// APIKey is a plaintext escape hatch (e.g. an already-injected environment
// value); EncryptedAPIKey is the scrypt/AES-GCM sealed form a "secrets set"
// run produces, for keys checked into cascade.yaml rather than exported
// into the environment. ResolveAPIKey prefers APIKey and falls back to
// decrypting EncryptedAPIKey.
type ModelConfig struct {
	Name            string `yaml:"name"`
	Provider        string `yaml:"provider"` // anthropic | openai | ollama | google
	APIKey          string `yaml:"api_key,omitempty"`
	EncryptedAPIKey string `yaml:"encrypted_api_key,omitempty"`
	BaseURL         string `yaml:"base_url,omitempty"`
}

// AgentConfig is the closed enumeration of fields a configured agent backend
// may have (spec.md §9 "anything-goes dictionary" replacement).
type AgentConfig struct {
	Type        string            `yaml:"type" json:"type"` // cli | subprocess | react
	Command     string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutSec  int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	SubAgentType string           `yaml:"subagent_type,omitempty" json:"subagent_type,omitempty"`
}

// Config is the ambient engine configuration (cascade.yaml), distinct from
// the durable Plan/Story data that lives in prd.json.
type Config struct {
	ProjectRoot string

	PollInterval     time.Duration
	LockTTL          time.Duration
	DefaultGateTimeout time.Duration
	MaxRetryAttempts int
	AgentCacheTTL    time.Duration

	DefaultAgent string
	Models       []ModelConfig

	// Agents is the implementation phase's agent roster (spec.md §6
	// agents.json "agents" map), keyed by the agent name the Retry
	// Manager's phase fallback chain and the Supervisor's backend registry
	// both address by. FallbackChain orders the implementation phase's
	// escalation chain (spec.md §4.7 step 6) over those same names.
	Agents        map[string]AgentConfig
	FallbackChain []string

	raw rawConfig
}

type rawConfig struct {
	PollIntervalSeconds     int           `yaml:"poll_interval_seconds"`
	LockTTLSeconds          int           `yaml:"lock_ttl_seconds"`
	DefaultGateTimeoutSeconds int         `yaml:"default_gate_timeout_seconds"`
	MaxRetryAttempts        int           `yaml:"max_retry_attempts"`
	AgentCacheTTLSeconds    int           `yaml:"agent_cache_ttl_seconds"`
	DefaultAgent            string        `yaml:"default_agent"`
	Models                  []ModelConfig `yaml:"models"`
	Agents                  map[string]AgentConfig `yaml:"agents,omitempty"`
	FallbackChain           []string               `yaml:"fallback_chain,omitempty"`
}

// Default returns the built-in defaults for projectRoot, with no cascade.yaml applied.
func Default(projectRoot string) *Config {
	return &Config{
		ProjectRoot:        projectRoot,
		PollInterval:       2 * time.Second,
		LockTTL:            time.Hour,
		DefaultGateTimeout: 300 * time.Second,
		MaxRetryAttempts:   2,
		AgentCacheTTL:      time.Hour,
		DefaultAgent:       "claude-code",
	}
}

// Load reads cascade.yaml under projectRoot, falling back to defaults for any
// field left unset. Missing file is not an error.
func Load(projectRoot string) (*Config, error) {
	cfg := Default(projectRoot)

	path := projectRoot + "/cascade.yaml"
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.raw = raw

	if raw.PollIntervalSeconds > 0 {
		cfg.PollInterval = time.Duration(raw.PollIntervalSeconds) * time.Second
	}
	if raw.LockTTLSeconds > 0 {
		cfg.LockTTL = time.Duration(raw.LockTTLSeconds) * time.Second
	}
	if raw.DefaultGateTimeoutSeconds > 0 {
		cfg.DefaultGateTimeout = time.Duration(raw.DefaultGateTimeoutSeconds) * time.Second
	}
	if raw.MaxRetryAttempts > 0 {
		cfg.MaxRetryAttempts = raw.MaxRetryAttempts
	}
	if raw.AgentCacheTTLSeconds > 0 {
		cfg.AgentCacheTTL = time.Duration(raw.AgentCacheTTLSeconds) * time.Second
	}
	if raw.DefaultAgent != "" {
		cfg.DefaultAgent = raw.DefaultAgent
	}
	if len(raw.Models) > 0 {
		cfg.Models = raw.Models
	}
	if len(raw.Agents) > 0 {
		cfg.Agents = raw.Agents
	}
	if len(raw.FallbackChain) > 0 {
		cfg.FallbackChain = raw.FallbackChain
	}

	return cfg, nil
}

// ResolveAPIKey returns modelName's API key: its plaintext APIKey if set,
// otherwise its EncryptedAPIKey decrypted with password (see
// internal/config/secrets.go). Returns an error if the model is unknown or
// has neither set.
func (c *Config) ResolveAPIKey(modelName, password string) (string, error) {
	for _, m := range c.Models {
		if m.Name != modelName {
			continue
		}
		if m.APIKey != "" {
			return m.APIKey, nil
		}
		if m.EncryptedAPIKey != "" {
			return DecryptAPIKey(m.EncryptedAPIKey, password)
		}
		return "", fmt.Errorf("model %q has no api_key or encrypted_api_key configured", modelName)
	}
	return "", fmt.Errorf("model %q not found in cascade.yaml", modelName)
}

// SetModelSecret encrypts apiKey under password and writes it as modelName's
// encrypted_api_key in cascade.yaml under projectRoot, creating the model
// entry (and the file) if it doesn't already exist. Any existing plaintext
// api_key for that model is cleared, since the encrypted form now wins.
func SetModelSecret(projectRoot, modelName, provider, apiKey, password string) error {
	path := projectRoot + "/cascade.yaml"

	var raw rawConfig
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	sealed, err := EncryptAPIKey(apiKey, password)
	if err != nil {
		return fmt.Errorf("encrypting api key: %w", err)
	}

	found := false
	for i := range raw.Models {
		if raw.Models[i].Name == modelName {
			raw.Models[i].APIKey = ""
			raw.Models[i].EncryptedAPIKey = sealed
			if provider != "" {
				raw.Models[i].Provider = provider
			}
			found = true
			break
		}
	}
	if !found {
		raw.Models = append(raw.Models, ModelConfig{Name: modelName, Provider: provider, EncryptedAPIKey: sealed})
	}

	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
