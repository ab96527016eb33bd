package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	ProviderOpenAI           = "openai"
	ProviderAnthropic        = "anthropic"
	ProviderOpenAICompatible = "openai_compatible"

	RoleFast   = "fast"
	RoleRefine = "refine"

	EmbeddingOpenAI = "openai"
	EmbeddingGenAI  = "genai"
)

const (
	defaultRecallWindow        = 200
	defaultRecallMinSimilarity = 0.7
	defaultRecallLimit         = 3
	defaultRecallDBName        = "recall.db"

	defaultMinPassRate = 0.8

	defaultRetryMaxAttempts = 3
	defaultRetryBackoff     = 2 * time.Second
	maxRetryAttempts        = 10
)

type ProviderConfig struct {
	// ID is a stable name used in logs and errors.
	ID string `json:"id" yaml:"id"`

	// Type is one of: "openai" | "anthropic" | "openai_compatible".
	Type string `json:"type" yaml:"type"`

	// BaseURL overrides the provider endpoint (example: "https://api.openai.com/v1").
	// When empty, provider defaults apply (except openai_compatible where base_url is required).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	Model string `json:"model" yaml:"model"`

	// Role is "fast" or "refine". See Config.FastProvider and Config.RefineProvider.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	// APIKeyEnv names the environment variable holding the key. Defaults to
	// OPENAI_API_KEY or ANTHROPIC_API_KEY by type.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	MaxOutputTokens int `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
}

func (p ProviderConfig) EffectiveAPIKeyEnv() string {
	if v := strings.TrimSpace(p.APIKeyEnv); v != "" {
		return v
	}
	if strings.TrimSpace(p.Type) == ProviderAnthropic {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// APIKey reads the provider key from the environment.
func (p ProviderConfig) APIKey() (string, error) {
	name := p.EffectiveAPIKeyEnv()
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("provider %q: environment variable %s is not set", p.ID, name)
	}
	return v, nil
}

// FastProvider is the provider with role fast, or the first provider.
// It assumes Validate() has passed.
func (c *Config) FastProvider() (ProviderConfig, bool) {
	if c == nil || len(c.Providers) == 0 {
		return ProviderConfig{}, false
	}
	for _, p := range c.Providers {
		if strings.EqualFold(strings.TrimSpace(p.Role), RoleFast) {
			return p, true
		}
	}
	return c.Providers[0], true
}

// RefineProvider is the provider with role refine, falling back to the fast one.
func (c *Config) RefineProvider() (ProviderConfig, bool) {
	if c == nil {
		return ProviderConfig{}, false
	}
	for _, p := range c.Providers {
		if strings.EqualFold(strings.TrimSpace(p.Role), RoleRefine) {
			return p, true
		}
	}
	return c.FastProvider()
}

type EmbeddingConfig struct {
	// Provider is "openai" or "genai".
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// APIKeyEnv defaults to OPENAI_API_KEY or GEMINI_API_KEY.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	// TaskType is passed to Gemini embeddings (e.g. SEMANTIC_SIMILARITY).
	TaskType string `json:"task_type,omitempty" yaml:"task_type,omitempty"`
}

func (e *EmbeddingConfig) Validate() error {
	switch strings.TrimSpace(e.Provider) {
	case EmbeddingOpenAI, EmbeddingGenAI:
	default:
		return fmt.Errorf("invalid provider %q", e.Provider)
	}
	return validateBaseURL(strings.TrimSpace(e.BaseURL))
}

func (e *EmbeddingConfig) EffectiveAPIKeyEnv() string {
	if e != nil {
		if v := strings.TrimSpace(e.APIKeyEnv); v != "" {
			return v
		}
		if strings.TrimSpace(e.Provider) == EmbeddingGenAI {
			return "GEMINI_API_KEY"
		}
	}
	return "OPENAI_API_KEY"
}

type RecallConfig struct {
	// Enabled defaults to true when an embedding section is present.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// DBPath defaults to <state_dir>/recall.db.
	DBPath        string  `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Window        int     `json:"window,omitempty" yaml:"window,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty" yaml:"min_similarity,omitempty"`
	Limit         int     `json:"limit,omitempty" yaml:"limit,omitempty"`
}

func (r *RecallConfig) Validate() error {
	if r.Window < 0 {
		return fmt.Errorf("invalid window %d", r.Window)
	}
	if r.MinSimilarity < 0 || r.MinSimilarity > 1 {
		return fmt.Errorf("invalid min_similarity %v (must be in [0,1])", r.MinSimilarity)
	}
	if r.Limit < 0 {
		return fmt.Errorf("invalid limit %d", r.Limit)
	}
	return nil
}

// RecallEnabled reports whether semantic recall should be wired.
func (c *Config) RecallEnabled() bool {
	if c == nil || c.Embedding == nil {
		return false
	}
	if c.Recall == nil || c.Recall.Enabled == nil {
		return true
	}
	return *c.Recall.Enabled
}

func (c *Config) EffectiveRecallDBPath(stateDir string) string {
	if c != nil && c.Recall != nil {
		if p := strings.TrimSpace(c.Recall.DBPath); p != "" {
			return filepath.Clean(p)
		}
	}
	return filepath.Join(stateDir, defaultRecallDBName)
}

func (c *Config) EffectiveRecallWindow() int {
	if c == nil || c.Recall == nil || c.Recall.Window <= 0 {
		return defaultRecallWindow
	}
	return c.Recall.Window
}

func (c *Config) EffectiveRecallMinSimilarity() float64 {
	if c == nil || c.Recall == nil || c.Recall.MinSimilarity <= 0 {
		return defaultRecallMinSimilarity
	}
	return c.Recall.MinSimilarity
}

func (c *Config) EffectiveRecallLimit() int {
	if c == nil || c.Recall == nil || c.Recall.Limit <= 0 {
		return defaultRecallLimit
	}
	return c.Recall.Limit
}

type StagingConfig struct {
	// MinPassRate is the share of passing tests required before apply.
	MinPassRate float64 `json:"min_pass_rate,omitempty" yaml:"min_pass_rate,omitempty"`
	// TestCommand is run in the project root, e.g. "npx jest" or "go test -json ./...".
	TestCommand string `json:"test_command,omitempty" yaml:"test_command,omitempty"`
}

func (s *StagingConfig) Validate() error {
	if s.MinPassRate < 0 || s.MinPassRate > 1 {
		return fmt.Errorf("invalid min_pass_rate %v (must be in [0,1])", s.MinPassRate)
	}
	return nil
}

func (c *Config) EffectiveMinPassRate() float64 {
	if c == nil || c.Staging == nil || c.Staging.MinPassRate <= 0 {
		return defaultMinPassRate
	}
	return c.Staging.MinPassRate
}

func (c *Config) EffectiveTestCommand() string {
	if c == nil || c.Staging == nil {
		return ""
	}
	return strings.TrimSpace(c.Staging.TestCommand)
}

type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	DefaultBackoffMS int `json:"default_backoff_ms,omitempty" yaml:"default_backoff_ms,omitempty"`
}

func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 0 || r.MaxAttempts > maxRetryAttempts {
		return fmt.Errorf("invalid max_attempts %d (must be in [0,%d])", r.MaxAttempts, maxRetryAttempts)
	}
	if r.DefaultBackoffMS < 0 {
		return errors.New("invalid default_backoff_ms (must be >= 0)")
	}
	return nil
}

func (c *Config) EffectiveRetryMaxAttempts() int {
	if c == nil || c.Retry == nil || c.Retry.MaxAttempts <= 0 {
		return defaultRetryMaxAttempts
	}
	return c.Retry.MaxAttempts
}

func (c *Config) EffectiveRetryBackoff() time.Duration {
	if c == nil || c.Retry == nil || c.Retry.DefaultBackoffMS <= 0 {
		return defaultRetryBackoff
	}
	return time.Duration(c.Retry.DefaultBackoffMS) * time.Millisecond
}

type BudgetConfig struct {
	// MaxCalls caps model calls per process. Zero means unlimited.
	MaxCalls int `json:"max_calls,omitempty" yaml:"max_calls,omitempty"`
}

// EffectiveMaxCalls returns 0 for unlimited.
func (c *Config) EffectiveMaxCalls() int {
	if c == nil || c.Budget == nil {
		return 0
	}
	return c.Budget.MaxCalls
}
