package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider adapter types.
const (
	TypeOllama    = "ollama"
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

// Provider chain positions.
const (
	KindLocal         = "local"
	KindCloudPrimary  = "cloud-primary"
	KindCloudFallback = "cloud-fallback"
)

// Duration wraps time.Duration so values like "30s" parse from YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  []ProviderConfig `yaml:"providers"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Personas   []PersonaConfig  `yaml:"personas"`
	Health     HealthConfig     `yaml:"health"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProviderConfig captures endpoint, credential and routing info for one
// completion backend.
type ProviderConfig struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Kind        string            `yaml:"kind"`
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"`
	Model       string            `yaml:"model"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float64           `yaml:"temperature"`
	Timeout     Duration          `yaml:"timeout"`
	Headers     map[string]string `yaml:"headers"`
}

// BreakerConfig holds per-provider circuit breaker tuning. Every provider
// gets its own breaker constructed from these shared thresholds.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
	MaxCooldown      Duration `yaml:"max_cooldown"`
	CooldownGrowth   float64  `yaml:"cooldown_growth"`
}

// RetryConfig holds the retry policy parameters applied per provider.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

// ClassifierConfig tunes intent classification.
type ClassifierConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// PersonaConfig overrides or extends the built-in persona set.
type PersonaConfig struct {
	Name             string `yaml:"name"`
	SystemPrompt     string `yaml:"system_prompt"`
	ProviderAffinity string `yaml:"provider_affinity"`
}

// HealthConfig controls the background provider health monitor.
type HealthConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Interval    Duration `yaml:"interval"`
	HistorySize int      `yaml:"history_size"`
}

// Defaults applied for unset values.
const (
	DefaultFailureThreshold = 5
	DefaultMaxAttempts      = 3
	DefaultConfidence       = 0.6
	DefaultHistorySize      = 10
)

var (
	DefaultCooldown        = 30 * time.Second
	DefaultMaxCooldown     = 5 * time.Minute
	DefaultBaseDelay       = 500 * time.Millisecond
	DefaultMaxDelay        = 10 * time.Second
	DefaultProviderTimeout = 60 * time.Second
	DefaultHealthInterval  = 30 * time.Second
)

// Load reads YAML configuration from disk, applies defaults and validates
// the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	// Secrets stay out of the file via ${VAR} references.
	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tuning knobs with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = Duration(DefaultCooldown)
	}
	if c.Breaker.MaxCooldown == 0 {
		c.Breaker.MaxCooldown = Duration(DefaultMaxCooldown)
	}
	if c.Breaker.CooldownGrowth == 0 {
		c.Breaker.CooldownGrowth = 2.0
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = Duration(DefaultBaseDelay)
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = Duration(DefaultMaxDelay)
	}
	if c.Classifier.ConfidenceThreshold == 0 {
		c.Classifier.ConfidenceThreshold = DefaultConfidence
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = Duration(DefaultHealthInterval)
	}
	if c.Health.HistorySize == 0 {
		c.Health.HistorySize = DefaultHistorySize
	}
	for i := range c.Providers {
		if c.Providers[i].Timeout == 0 {
			c.Providers[i].Timeout = Duration(DefaultProviderTimeout)
		}
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if err := validateProvider(p); err != nil {
			return err
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be positive")
	}
	if c.Breaker.CooldownGrowth < 1 {
		return fmt.Errorf("breaker.cooldown_growth must be >= 1, got %g", c.Breaker.CooldownGrowth)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		return fmt.Errorf("classifier.confidence_threshold must be in [0,1], got %g", c.Classifier.ConfidenceThreshold)
	}

	for _, p := range c.Personas {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("persona name must not be empty")
		}
		if strings.TrimSpace(p.SystemPrompt) == "" {
			return fmt.Errorf("persona %s: system_prompt must not be empty", p.Name)
		}
	}

	return nil
}

func validateProvider(p ProviderConfig) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("provider name must not be empty")
	}

	switch p.Type {
	case TypeOllama, TypeOpenAI, TypeAnthropic:
	default:
		return fmt.Errorf("provider %s: type %q must be one of %q, %q or %q",
			p.Name, p.Type, TypeOllama, TypeOpenAI, TypeAnthropic)
	}

	switch p.Kind {
	case KindLocal, KindCloudPrimary, KindCloudFallback:
	default:
		return fmt.Errorf("provider %s: kind %q must be one of %q, %q or %q",
			p.Name, p.Kind, KindLocal, KindCloudPrimary, KindCloudFallback)
	}

	if strings.TrimSpace(p.BaseURL) == "" && p.Type != TypeOpenAI {
		return fmt.Errorf("provider %s: base_url must be provided", p.Name)
	}
	if p.Type != TypeOllama && strings.TrimSpace(p.APIKey) == "" {
		return fmt.Errorf("provider %s: api_key must be provided", p.Name)
	}
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("provider %s: model must be provided", p.Name)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("provider %s: timeout must be positive", p.Name)
	}

	for headerKey := range p.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", p.Name, headerKey)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
