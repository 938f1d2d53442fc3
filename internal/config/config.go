// Package config provides configuration for the negotiation engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names an optional YAML file overlaid on the defaults.
const EnvConfigFile = "KINTSUGI_CONFIG"

// ProviderOrder is the preference order used when no provider is pinned.
var ProviderOrder = []string{"kimi", "deepseek", "gemini", "openai", "anthropic"}

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Completion settings
	Mode              string                    `yaml:"mode"`
	Provider          string                    `yaml:"provider"`
	Providers         map[string]ProviderConfig `yaml:"providers"`
	DefaultMode       string                    `yaml:"default_mode"`
	CompletionTimeout time.Duration             `yaml:"completion_timeout"`

	// Orchestration
	MaxToolIterations int    `yaml:"max_tool_iterations"`
	SystemPrompt      string `yaml:"system_prompt"`
	PolicyFile        string `yaml:"policy_file"`

	// Rate limiting for chat endpoints
	RateLimitPerHour int `yaml:"rate_limit_per_hour"`
}

// ProviderConfig describes one OpenAI-compatible or Anthropic endpoint.
type ProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	InputPrice  float64 `yaml:"input_price"`
	OutputPrice float64 `yaml:"output_price"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:          8080,
		DatabaseURL:       "file:kintsugi.db?cache=shared&mode=rwc",
		LogLevel:          "info",
		LogFormat:         "text",
		DefaultMode:       "instant",
		CompletionTimeout: 120 * time.Second,
		MaxToolIterations: 10,
		RateLimitPerHour:  50,
		Providers: map[string]ProviderConfig{
			"kimi": {
				BaseURL:     "https://api.moonshot.ai/v1",
				Model:       "kimi-k2.5",
				InputPrice:  0.50,
				OutputPrice: 2.00,
			},
			"deepseek": {
				BaseURL:     "https://api.deepseek.com",
				Model:       "deepseek-chat",
				InputPrice:  0.27,
				OutputPrice: 1.10,
			},
			"gemini": {
				BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai/",
				Model:       "gemini-2.0-flash",
				InputPrice:  0.10,
				OutputPrice: 0.40,
			},
			"openai": {
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				InputPrice:  0.15,
				OutputPrice: 0.60,
			},
			"anthropic": {
				Model:       "claude-sonnet-4-5",
				InputPrice:  3.00,
				OutputPrice: 15.00,
			},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by KINTSUGI_CONFIG, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	base := c.Providers
	c.Providers = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	overlay := c.Providers
	c.Providers = base

	// Merge providers field by field so a file can set only an api key.
	for name, p := range overlay {
		merged := c.Providers[name]
		if p.APIKey != "" {
			merged.APIKey = p.APIKey
		}
		if p.BaseURL != "" {
			merged.BaseURL = p.BaseURL
		}
		if p.Model != "" {
			merged.Model = p.Model
		}
		if p.InputPrice != 0 {
			merged.InputPrice = p.InputPrice
		}
		if p.OutputPrice != 0 {
			merged.OutputPrice = p.OutputPrice
		}
		c.Providers[name] = merged
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.Mode = getEnv("KINTSUGI_MODE", c.Mode)
	c.Provider = getEnv("KINTSUGI_PROVIDER", c.Provider)
	c.DefaultMode = getEnv("KINTSUGI_DEFAULT_MODE", c.DefaultMode)
	c.CompletionTimeout = time.Duration(getEnvInt("COMPLETION_TIMEOUT_MS", int(c.CompletionTimeout/time.Millisecond))) * time.Millisecond
	c.MaxToolIterations = getEnvInt("MAX_TOOL_ITERATIONS", c.MaxToolIterations)
	c.SystemPrompt = getEnv("KINTSUGI_SYSTEM_PROMPT", c.SystemPrompt)
	c.PolicyFile = getEnv("KINTSUGI_POLICY_FILE", c.PolicyFile)
	c.RateLimitPerHour = getEnvInt("RATE_LIMIT_PER_HOUR", c.RateLimitPerHour)

	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, p := range c.Providers {
		prefix := strings.ToUpper(name)
		p.APIKey = getEnv(prefix+"_API_KEY", p.APIKey)
		p.BaseURL = getEnv(prefix+"_BASE_URL", p.BaseURL)
		p.Model = getEnv(prefix+"_MODEL", p.Model)
		c.Providers[name] = p
	}
	// Moonshot issues the keys Kimi uses.
	if kimi, ok := c.Providers["kimi"]; ok && kimi.APIKey == "" {
		kimi.APIKey = os.Getenv("MOONSHOT_API_KEY")
		c.Providers["kimi"] = kimi
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxToolIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_tool_iterations must be positive, got %d", c.MaxToolIterations))
	}
	if c.HTTPPort <= 0 {
		errs = append(errs, fmt.Errorf("http_port must be positive, got %d", c.HTTPPort))
	}
	for name, p := range c.Providers {
		if p.InputPrice < 0 || p.OutputPrice < 0 {
			errs = append(errs, fmt.Errorf("provider %s: prices must not be negative", name))
		}
	}
	if c.Provider != "" {
		if _, ok := c.Providers[c.Provider]; !ok {
			errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
		}
	}
	return errors.Join(errs...)
}

// ActiveProvider returns the pinned provider, or the first provider in
// ProviderOrder that has an API key. ok is false when none is usable.
func (c *Config) ActiveProvider() (name string, p ProviderConfig, ok bool) {
	if c.Provider != "" {
		p, ok = c.Providers[c.Provider]
		return c.Provider, p, ok && p.APIKey != ""
	}
	for _, name := range ProviderOrder {
		if p, exists := c.Providers[name]; exists && p.APIKey != "" {
			return name, p, true
		}
	}
	return "", ProviderConfig{}, false
}

// MockMode reports whether the offline mock provider was requested.
func (c *Config) MockMode() bool {
	return strings.EqualFold(c.Mode, "MOCK")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
