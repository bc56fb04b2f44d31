package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte("model: m\n"), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	if _, err := FindConfig(""); err == nil {
		t.Fatal("FindConfig should fail when no config exists")
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("model: m\n"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := FindConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig = %q, want config.yaml", got)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Provider != ProviderOllama || cfg.Endpoint != "http://localhost:11434" {
		t.Errorf("provider = %s at %s", cfg.Provider, cfg.Endpoint)
	}
	if cfg.Timeout != 120*time.Second || cfg.MaxIterations != 10 {
		t.Errorf("timeout = %s, max_iterations = %d", cfg.Timeout, cfg.MaxIterations)
	}
	if cfg.Tools.Timeout != 30*time.Second || cfg.Tools.Parallelism != 4 {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Compaction.TriggerRatio != 0.8 || cfg.Compaction.Summarizer != SummarizerSimple {
		t.Errorf("compaction = %+v", cfg.Compaction)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestParse(t *testing.T) {
	t.Setenv("TATAKE_TEST_KEY", "sk-secret")

	data := []byte(`
provider: Anthropic
api_key: ${TATAKE_TEST_KEY}
model: claude-sonnet-4-5
temperature: 0.3
timeout: 45s
tools:
  timeout: 5s
  parallelism: 2
compaction:
  max_tokens: 32000
  summarizer: llm
routes:
  - provider: ollama
    models: [qwen3:8b]
timezone: Asia/Tokyo
owner_id: user-1
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != ProviderAnthropic || cfg.APIKey != "sk-secret" {
		t.Errorf("provider = %s, key = %q", cfg.Provider, cfg.APIKey)
	}
	if cfg.Endpoint != "" {
		t.Errorf("endpoint = %q", cfg.Endpoint)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.3 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	if cfg.Timeout != 45*time.Second || cfg.Tools.Timeout != 5*time.Second || cfg.Tools.Parallelism != 2 {
		t.Errorf("timeouts = %s, %s, parallelism %d", cfg.Timeout, cfg.Tools.Timeout, cfg.Tools.Parallelism)
	}
	if cfg.Compaction.MaxTokens != 32000 || cfg.Compaction.KeepRecentTurns != 1 {
		t.Errorf("compaction = %+v", cfg.Compaction)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Endpoint != "http://localhost:11434" {
		t.Errorf("routes = %+v", cfg.Routes)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Tokyo" {
		t.Errorf("location = %v, %v", loc, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("model: [unterminated")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Provider = "bard" }, "provider: unknown"},
		{"hosted without key", func(c *Config) { c.Provider = ProviderOpenAI; c.Model = "gpt-4o" }, "requires an api_key"},
		{"missing model", func(c *Config) { c.Model = " " }, "model: required"},
		{"temperature too high", func(c *Config) { v := 2.5; c.Temperature = &v }, "temperature"},
		{"negative temperature", func(c *Config) { v := -0.1; c.Temperature = &v }, "temperature"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"zero tool timeout", func(c *Config) { c.Tools.Timeout = -time.Second }, "tools.timeout"},
		{"zero parallelism", func(c *Config) { c.Tools.Parallelism = -1 }, "tools.parallelism"},
		{"trigger ratio", func(c *Config) { c.Compaction.TriggerRatio = 1.5 }, "trigger_ratio"},
		{"summarizer", func(c *Config) { c.Compaction.Summarizer = "magic" }, "compaction.summarizer"},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"route without models", func(c *Config) {
			c.Routes = []RouteConfig{{Provider: ProviderOllama}}
		}, "routes[0].models"},
		{"route without key", func(c *Config) {
			c.Routes = []RouteConfig{{Provider: ProviderGemini, Models: []string{"gemini-2.5-pro"}}}
		}, "routes[0].provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Model = ""
	cfg.Timeout = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"model", "timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	tests := []struct{ in, want string }{
		{"~", "/home/tester"},
		{"~/data", "/home/tester/data"},
		{"/var/lib/tatake", "/var/lib/tatake"},
		{"relative/~", "relative/~"},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	cfg := Default()
	cfg.DataDir = "~/state"
	if got := cfg.DatabasePath(); got != "/home/tester/state/tatake.db" {
		t.Errorf("DatabasePath = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{" TRACE ", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, LevelTrace, "json").Log(t.Context(), LevelTrace, "wire", "bytes", 12)
	if !strings.Contains(buf.String(), `"level":"TRACE"`) {
		t.Errorf("json output = %s", buf.String())
	}

	buf.Reset()
	logger := NewLogger(&buf, slog.LevelInfo, "text")
	logger.Debug("hidden")
	logger.Info("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("text output = %q", out)
	}
}

func TestProviderFor(t *testing.T) {
	cfg := Default()
	cfg.Routes = []RouteConfig{
		{Provider: ProviderAnthropic, Models: []string{"claude-sonnet-4-5"}},
		{Provider: ProviderGemini, Models: []string{"gemini-2.5-flash", "claude-sonnet-4-5"}},
	}
	tests := map[string]string{
		"claude-sonnet-4-5": ProviderAnthropic,
		"gemini-2.5-flash":  ProviderGemini,
		"qwen3:8b":          ProviderOllama,
	}
	for model, want := range tests {
		if got := cfg.ProviderFor(model); got != want {
			t.Errorf("ProviderFor(%s) = %s, want %s", model, got, want)
		}
	}
}
