// Package config holds process configuration: provider and model choice,
// session storage, and the tunable conversation thresholds. Access is
// value-based through Get so callers never share mutable state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Provider names a supported model backend.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
)

// Thresholds are the tunable knobs of the transition guard.
type Thresholds struct {
	// StallRepeats is how many identical consecutive coach turns count as
	// a stall.
	StallRepeats int `json:"stall_repeats"`
	// MinSufficientTurns and MinCombinedChars gate forced advances.
	MinSufficientTurns int `json:"min_sufficient_turns"`
	MinCombinedChars   int `json:"min_combined_chars"`
	// HistoryBudget caps prompt history tokens.
	HistoryBudget int `json:"history_budget"`
}

// Config is the full process configuration.
type Config struct {
	Language      string     `json:"language"`
	Provider      string     `json:"provider"`
	Model         string     `json:"model"`
	OllamaHost    string     `json:"ollama_host,omitempty"`
	DBPath        string     `json:"db_path"`
	MetricsAddr   string     `json:"metrics_addr"`
	PrometheusURL string     `json:"prometheus_url,omitempty"`
	Thresholds    Thresholds `json:"thresholds"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Language:    "en",
		Provider:    ProviderAnthropic,
		Model:       "claude-sonnet-4-20250514",
		DBPath:      "coach.db",
		MetricsAddr: ":9090",
		Thresholds: Thresholds{
			StallRepeats:       2,
			MinSufficientTurns: 2,
			MinCombinedChars:   40,
			HistoryBudget:      2048,
		},
	}
}

//nolint:gochecknoglobals // Intentional singleton for process configuration
var (
	current   Config
	currentMu sync.RWMutex
	loaded    bool
)

// Load reads a JSON config file over the defaults and installs the result
// as the process configuration. An empty path installs the defaults.
func Load(path string) error {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	currentMu.Lock()
	current = cfg
	loaded = true
	currentMu.Unlock()
	return nil
}

// Set installs a configuration directly. Used by tests and by the CLI
// after applying flag overrides.
func Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	currentMu.Lock()
	current = cfg
	loaded = true
	currentMu.Unlock()
	return nil
}

// Get returns a copy of the process configuration. Falls back to defaults
// when Load was never called.
func Get() Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	if !loaded {
		return Default()
	}
	return current
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGoogle:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.Language == "" {
		return fmt.Errorf("language must not be empty")
	}
	if c.Thresholds.StallRepeats < 1 {
		return fmt.Errorf("stall_repeats must be at least 1")
	}
	if c.Thresholds.MinSufficientTurns < 1 {
		return fmt.Errorf("min_sufficient_turns must be at least 1")
	}
	return nil
}

// APIKeyEnvVar returns the environment variable holding the provider's
// API key. Ollama needs none.
func (c Config) APIKeyEnvVar() string {
	switch c.Provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGoogle:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}
