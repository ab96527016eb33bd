package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for forge.
//
// Secrets never live here: each provider names the environment variable that
// holds its API key.
type Config struct {
	Providers []ProviderConfig `json:"providers" yaml:"providers"`

	Embedding *EmbeddingConfig `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Recall    *RecallConfig    `json:"recall,omitempty" yaml:"recall,omitempty"`
	Staging   *StagingConfig   `json:"staging,omitempty" yaml:"staging,omitempty"`
	Retry     *RetryConfig     `json:"retry,omitempty" yaml:"retry,omitempty"`
	Budget    *BudgetConfig    `json:"budget,omitempty" yaml:"budget,omitempty"`

	// StateDir holds the recall database and the process lock.
	// If empty, the directory of the config file is used.
	StateDir string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if err := validateProviders(c.Providers); err != nil {
		return err
	}
	if c.Embedding != nil {
		if err := c.Embedding.Validate(); err != nil {
			return fmt.Errorf("invalid embedding: %w", err)
		}
	}
	if c.Recall != nil {
		if err := c.Recall.Validate(); err != nil {
			return fmt.Errorf("invalid recall: %w", err)
		}
	}
	if c.Staging != nil {
		if err := c.Staging.Validate(); err != nil {
			return fmt.Errorf("invalid staging: %w", err)
		}
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return fmt.Errorf("invalid retry: %w", err)
		}
	}
	if c.Budget != nil && c.Budget.MaxCalls < 0 {
		return fmt.Errorf("invalid budget: max_calls %d (must be >= 0)", c.Budget.MaxCalls)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	return nil
}

func validateProviders(providers []ProviderConfig) error {
	if len(providers) == 0 {
		return errors.New("missing providers")
	}
	seen := make(map[string]struct{}, len(providers))
	roles := make(map[string]string, 2)
	for i := range providers {
		p := providers[i]
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("providers[%d]: missing id", i)
		}
		if strings.Contains(id, "/") {
			return fmt.Errorf("providers[%d]: invalid id %q (must not contain /)", i, id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		t := strings.TrimSpace(p.Type)
		switch t {
		case ProviderOpenAI, ProviderAnthropic, ProviderOpenAICompatible:
		default:
			return fmt.Errorf("providers[%d]: invalid type %q", i, t)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("providers[%d]: missing model", i)
		}

		baseURL := strings.TrimSpace(p.BaseURL)
		if t == ProviderOpenAICompatible && baseURL == "" {
			return fmt.Errorf("providers[%d]: base_url is required for openai_compatible", i)
		}
		if err := validateBaseURL(baseURL); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}

		role := strings.TrimSpace(strings.ToLower(p.Role))
		switch role {
		case "":
		case RoleFast, RoleRefine:
			if prev, ok := roles[role]; ok {
				return fmt.Errorf("providers[%d]: role %q already taken by %q", i, role, prev)
			}
			roles[role] = id
		default:
			return fmt.Errorf("providers[%d]: invalid role %q", i, p.Role)
		}
		if p.MaxOutputTokens < 0 {
			return fmt.Errorf("providers[%d]: invalid max_output_tokens %d", i, p.MaxOutputTokens)
		}
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid base_url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("invalid base_url host")
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.redeven-forge/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "redeven-forge.config.json"
	}
	return filepath.Join(home, ".redeven-forge", "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads a JSON config, or YAML when the file ends in .yaml or .yml.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(b, &cfg)
	} else {
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	var (
		b   []byte
		err error
	)
	if isYAML(path) {
		b, err = yaml.Marshal(cfg)
	} else {
		b, err = json.MarshalIndent(cfg, "", "  ")
		b = append(b, '\n')
	}
	if err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Default is a starter config using OpenAI for drafts and Anthropic for
// hardening.
func Default() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{ID: "openai", Type: ProviderOpenAI, Model: "gpt-5-mini", Role: RoleFast},
			{ID: "anthropic", Type: ProviderAnthropic, Model: "claude-sonnet-4-5", Role: RoleRefine},
		},
		Embedding: &EmbeddingConfig{Provider: EmbeddingOpenAI},
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// EffectiveStateDir resolves StateDir against the config file location.
func (c *Config) EffectiveStateDir(configPath string) string {
	if c != nil {
		if d := strings.TrimSpace(c.StateDir); d != "" {
			return filepath.Clean(d)
		}
	}
	return filepath.Dir(filepath.Clean(configPath))
}
