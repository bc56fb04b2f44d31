// Package config handles Tatake configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Providers the engine can talk to.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Summarizer strategies for compaction.
const (
	SummarizerSimple = "simple"
	SummarizerLLM    = "llm"
)

// DefaultSearchPaths returns the config file search order: the working
// directory, the user config directory, then the system directory.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tatake", "config.yaml"))
	}
	return append(paths, "/etc/tatake/config.yaml")
}

// FindConfig returns the explicit path if given, otherwise the first
// existing file from DefaultSearchPaths.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	searched := DefaultSearchPaths()
	for _, p := range searched {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %s)", strings.Join(searched, ", "))
}

// Config is the complete Tatake configuration.
type Config struct {
	// Provider selects the primary model provider.
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`

	// Temperature is nil for the provider default.
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	MaxIterations int `yaml:"max_iterations"`

	// Routes send specific models to other providers. Models not listed
	// go to the primary provider.
	Routes []RouteConfig `yaml:"routes"`

	Tools      ToolsConfig      `yaml:"tools"`
	Compaction CompactionConfig `yaml:"compaction"`

	// DataDir holds the SQLite database. A leading ~ is expanded.
	DataDir string `yaml:"data_dir"`

	// OwnerID is the owner tools act for when a turn names none.
	OwnerID string `yaml:"owner_id"`

	// Timezone is an IANA zone name for the system prompt and time tool.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Pricing maps model names to token prices for usage reports. Models
	// not listed cost nothing.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the USD price per million tokens.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// RouteConfig maps models to a secondary provider.
type RouteConfig struct {
	Provider string   `yaml:"provider"`
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Models   []string `yaml:"models"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Parallelism int           `yaml:"parallelism"`
}

// CompactionConfig controls history compaction. MaxTokens of zero means
// the model's known context window.
type CompactionConfig struct {
	MaxTokens       int     `yaml:"max_tokens"`
	TriggerRatio    float64 `yaml:"trigger_ratio"`
	ReserveTokens   int     `yaml:"reserve_tokens"`
	KeepRecentTurns int     `yaml:"keep_recent_turns"`

	// Summarizer is "simple" (local, no model call) or "llm".
	Summarizer string `yaml:"summarizer"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, expanding environment variables, and
// applies defaults. It does not validate; call Validate once flag
// overrides are in place.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	c.Provider = strings.ToLower(c.Provider)
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint(c.Provider)
	}
	if c.Model == "" && c.Provider == ProviderOllama {
		c.Model = "qwen3:8b"
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		r.Provider = strings.ToLower(r.Provider)
		if r.Endpoint == "" {
			r.Endpoint = defaultEndpoint(r.Provider)
		}
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = 30 * time.Second
	}
	if c.Tools.Parallelism == 0 {
		c.Tools.Parallelism = 4
	}
	if c.Compaction.TriggerRatio == 0 {
		c.Compaction.TriggerRatio = 0.8
	}
	if c.Compaction.ReserveTokens == 0 {
		c.Compaction.ReserveTokens = 4096
	}
	if c.Compaction.KeepRecentTurns == 0 {
		c.Compaction.KeepRecentTurns = 1
	}
	if c.Compaction.Summarizer == "" {
		c.Compaction.Summarizer = SummarizerSimple
	}
	if c.DataDir == "" {
		c.DataDir = "~/.local/share/tatake"
	}
	if c.OwnerID == "" {
		c.OwnerID = "default"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// ProviderFor returns the provider serving model: the first route that
// lists it, otherwise the primary provider.
func (c *Config) ProviderFor(model string) string {
	for _, r := range c.Routes {
		for _, m := range r.Models {
			if m == model {
				return r.Provider
			}
		}
	}
	return c.Provider
}

func defaultEndpoint(provider string) string {
	switch provider {
	case ProviderOllama:
		return "http://localhost:11434"
	default:
		// Hosted clients pick their own URL.
		return ""
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, validateProvider("provider", c.Provider, c.APIKey)...)
	for i, r := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		errs = append(errs, validateProvider(field+".provider", r.Provider, r.APIKey)...)
		if len(r.Models) == 0 {
			errs = append(errs, fmt.Errorf("%s.models: at least one model is required", field))
		}
	}

	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model: required"))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature: %g is outside [0, 2]", *c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens: %d must not be negative", c.MaxTokens))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout: %s must be positive", c.Timeout))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations: %d must be positive", c.MaxIterations))
	}
	if c.Tools.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("tools.timeout: %s must be positive", c.Tools.Timeout))
	}
	if c.Tools.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("tools.parallelism: %d must be positive", c.Tools.Parallelism))
	}

	cc := c.Compaction
	if cc.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("compaction.max_tokens: %d must not be negative", cc.MaxTokens))
	}
	if cc.TriggerRatio <= 0 || cc.TriggerRatio > 1 {
		errs = append(errs, fmt.Errorf("compaction.trigger_ratio: %g is outside (0, 1]", cc.TriggerRatio))
	}
	if cc.ReserveTokens < 0 {
		errs = append(errs, fmt.Errorf("compaction.reserve_tokens: %d must not be negative", cc.ReserveTokens))
	}
	if cc.KeepRecentTurns < 1 {
		errs = append(errs, fmt.Errorf("compaction.keep_recent_turns: %d must be at least 1", cc.KeepRecentTurns))
	}
	switch cc.Summarizer {
	case SummarizerSimple, SummarizerLLM:
	default:
		errs = append(errs, fmt.Errorf("compaction.summarizer: unknown %q (valid: simple, llm)", cc.Summarizer))
	}

	if strings.TrimSpace(c.OwnerID) == "" {
		errs = append(errs, errors.New("owner_id: required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for model, p := range c.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			errs = append(errs, fmt.Errorf("pricing.%s: prices must not be negative", model))
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unknown %q (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

func validateProvider(field, provider, apiKey string) []error {
	switch provider {
	case ProviderOllama:
		return nil
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		if strings.TrimSpace(apiKey) == "" {
			return []error{fmt.Errorf("%s: %s requires an api_key", field, provider)}
		}
		return nil
	default:
		return []error{fmt.Errorf("%s: unknown %q (valid: anthropic, openai, ollama, gemini)", field, provider)}
	}
}

// Location resolves Timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DatabasePath returns the SQLite file under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(ExpandHome(c.DataDir), "tatake.db")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
