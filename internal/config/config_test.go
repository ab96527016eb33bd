package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func validConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{ID: "openai", Type: ProviderOpenAI, Model: "gpt-5-mini", Role: RoleFast},
			{ID: "claude", Type: ProviderAnthropic, Model: "claude-sonnet-4-5", Role: RoleRefine},
		},
	}
}

func TestConfigValidate_OK(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"no providers", func(c *Config) { c.Providers = nil }, "missing providers"},
		{"missing id", func(c *Config) { c.Providers[0].ID = " " }, "providers[0]: missing id"},
		{"duplicate id", func(c *Config) { c.Providers[1].ID = "openai" }, "providers[1]: duplicate id"},
		{"bad type", func(c *Config) { c.Providers[0].Type = "ollama" }, "providers[0]: invalid type"},
		{"missing model", func(c *Config) { c.Providers[1].Model = "" }, "providers[1]: missing model"},
		{"compatible needs url", func(c *Config) { c.Providers[0].Type = ProviderOpenAICompatible }, "base_url is required"},
		{"bad scheme", func(c *Config) { c.Providers[0].BaseURL = "ftp://x" }, "invalid base_url scheme"},
		{"duplicate role", func(c *Config) { c.Providers[1].Role = RoleFast }, "role \"fast\" already taken"},
		{"unknown role", func(c *Config) { c.Providers[1].Role = "judge" }, "invalid role"},
		{"embedding provider", func(c *Config) { c.Embedding = &EmbeddingConfig{Provider: "cohere"} }, "invalid embedding"},
		{"similarity range", func(c *Config) { c.Recall = &RecallConfig{MinSimilarity: 1.5} }, "invalid recall"},
		{"pass rate range", func(c *Config) { c.Staging = &StagingConfig{MinPassRate: 2} }, "invalid staging"},
		{"retry range", func(c *Config) { c.Retry = &RetryConfig{MaxAttempts: 50} }, "invalid retry"},
		{"negative budget", func(c *Config) { c.Budget = &BudgetConfig{MaxCalls: -1} }, "invalid budget"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "invalid log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_ProviderRoles(t *testing.T) {
	t.Parallel()

	c := validConfig()
	fast, _ := c.FastProvider()
	refine, _ := c.RefineProvider()
	if fast.ID != "openai" || refine.ID != "claude" {
		t.Fatalf("fast=%q refine=%q", fast.ID, refine.ID)
	}

	c = &Config{Providers: []ProviderConfig{{ID: "only", Type: ProviderOpenAI, Model: "m"}}}
	fast, _ = c.FastProvider()
	refine, _ = c.RefineProvider()
	if fast.ID != "only" || refine.ID != "only" {
		t.Fatalf("fast=%q refine=%q, want only/only", fast.ID, refine.ID)
	}
}

func TestConfig_EffectiveDefaults(t *testing.T) {
	t.Parallel()

	var c *Config
	if c.EffectiveRecallWindow() != 200 || c.EffectiveRecallLimit() != 3 || c.EffectiveRecallMinSimilarity() != 0.7 {
		t.Fatalf("recall defaults wrong")
	}
	if c.EffectiveMinPassRate() != 0.8 {
		t.Fatalf("min pass rate=%v, want 0.8", c.EffectiveMinPassRate())
	}
	if c.EffectiveRetryMaxAttempts() != 3 || c.EffectiveRetryBackoff() != 2*time.Second {
		t.Fatalf("retry defaults wrong")
	}
	if c.EffectiveMaxCalls() != 0 || c.RecallEnabled() {
		t.Fatalf("budget/recall defaults wrong")
	}

	off := false
	c = &Config{
		Embedding: &EmbeddingConfig{Provider: EmbeddingGenAI},
		Recall:    &RecallConfig{Window: 50, Limit: 5, MinSimilarity: 0.9, Enabled: &off},
		Retry:     &RetryConfig{MaxAttempts: 5, DefaultBackoffMS: 250},
		Staging:   &StagingConfig{MinPassRate: 0.95, TestCommand: "  go test -json ./...  "},
	}
	if c.EffectiveRecallWindow() != 50 || c.EffectiveRecallLimit() != 5 || c.EffectiveRecallMinSimilarity() != 0.9 {
		t.Fatalf("recall overrides ignored")
	}
	if c.RecallEnabled() {
		t.Fatalf("recall enabled despite enabled=false")
	}
	if c.EffectiveRetryBackoff() != 250*time.Millisecond || c.EffectiveRetryMaxAttempts() != 5 {
		t.Fatalf("retry overrides ignored")
	}
	if c.EffectiveTestCommand() != "go test -json ./..." || c.EffectiveMinPassRate() != 0.95 {
		t.Fatalf("staging overrides ignored")
	}
	if got := c.Embedding.EffectiveAPIKeyEnv(); got != "GEMINI_API_KEY" {
		t.Fatalf("embedding key env=%q, want GEMINI_API_KEY", got)
	}
}

func TestConfig_StateDirAndDBPath(t *testing.T) {
	t.Parallel()

	c := validConfig()
	dir := c.EffectiveStateDir(filepath.Join("home", "u", ".redeven-forge", "config.json"))
	if dir != filepath.Join("home", "u", ".redeven-forge") {
		t.Fatalf("state dir=%q", dir)
	}
	if got := c.EffectiveRecallDBPath(dir); got != filepath.Join(dir, "recall.db") {
		t.Fatalf("db path=%q", got)
	}
	c.StateDir = "/var/lib/forge/"
	if got := c.EffectiveStateDir("ignored.json"); got != "/var/lib/forge" {
		t.Fatalf("state dir=%q, want /var/lib/forge", got)
	}
}

func TestProviderConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("FORGE_TEST_KEY", " sk-test ")

	p := ProviderConfig{ID: "x", Type: ProviderOpenAI, APIKeyEnv: "FORGE_TEST_KEY"}
	key, err := p.APIKey()
	if err != nil || key != "sk-test" {
		t.Fatalf("key=%q err=%v", key, err)
	}

	p.APIKeyEnv = "FORGE_TEST_KEY_UNSET"
	if _, err := p.APIKey(); err == nil {
		t.Fatalf("expected error for unset key")
	}
	if got := (ProviderConfig{Type: ProviderAnthropic}).EffectiveAPIKeyEnv(); got != "ANTHROPIC_API_KEY" {
		t.Fatalf("anthropic env=%q", got)
	}
}

func TestSaveLoad_JSONAndYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := validConfig()
	want.Recall = &RecallConfig{Window: 64}
	want.LogFormat = "text"

	for _, name := range []string{"config.json", "config.yaml"} {
		path := filepath.Join(dir, name)
		if err := Save(path, want); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s round trip mismatch (-want +got):\n%s", name, diff)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("%s perm=%v, want 0600", name, info.Mode().Perm())
		}
	}
}

func TestLoad_YAMLKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "forge.yml")
	raw := `providers:
  - id: local
    type: openai_compatible
    base_url: http://127.0.0.1:8080/v1
    model: qwen
    role: fast
staging:
  test_command: npx jest
  min_pass_rate: 0.9
retry:
  max_attempts: 4
  default_backoff_ms: 500
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Providers[0].BaseURL != "http://127.0.0.1:8080/v1" || c.EffectiveTestCommand() != "npx jest" {
		t.Fatalf("config=%+v", c)
	}
	if c.EffectiveRetryMaxAttempts() != 4 || c.EffectiveRetryBackoff() != 500*time.Millisecond {
		t.Fatalf("retry=%+v", c.Retry)
	}
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"providers":[]}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("err=%v, want invalid config", err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := NewLogger(&buf, "json", "warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "path", "a.txt")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"path":"a.txt"`) {
		t.Fatalf("log output=%q", out)
	}
	if _, err := NewLogger(&buf, "xml", ""); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
