package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models skillswap.yml.
type Config struct {
	Limits struct {
		MessageMax int `yaml:"message_max" json:"message_max"`
		ReasonMax  int `yaml:"reason_max" json:"reason_max"`
		CommentMax int `yaml:"comment_max" json:"comment_max"`
	} `yaml:"limits" json:"limits"`
	Listing struct {
		DefaultLimit int `yaml:"default_limit" json:"default_limit"`
		MaxLimit     int `yaml:"max_limit" json:"max_limit"`
	} `yaml:"listing" json:"listing"`
	Retry    RetryConfig     `yaml:"retry" json:"retry"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
	Log      struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"log" json:"log"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
		DevLogin bool   `yaml:"dev_login" json:"dev_login"`
	} `yaml:"server" json:"server"`
}

// RetryConfig bounds retries of transient store errors.
type RetryConfig struct {
	MaxAttempts       int `yaml:"max_attempts" json:"max_attempts"`
	InitialIntervalMS int `yaml:"initial_interval_ms" json:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms" json:"max_interval_ms"`
}

func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMS) * time.Millisecond
}

func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMS) * time.Millisecond
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with swap config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Limits.MessageMax <= 0 {
		return fmt.Errorf("config.limits.message_max must be positive")
	}
	if c.Limits.ReasonMax <= 0 {
		return fmt.Errorf("config.limits.reason_max must be positive")
	}
	if c.Limits.CommentMax <= 0 {
		return fmt.Errorf("config.limits.comment_max must be positive")
	}
	if c.Listing.DefaultLimit <= 0 || c.Listing.MaxLimit <= 0 {
		return fmt.Errorf("config.listing limits must be positive")
	}
	if c.Listing.DefaultLimit > c.Listing.MaxLimit {
		return fmt.Errorf("config.listing.default_limit exceeds max_limit")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialIntervalMS <= 0 || c.Retry.MaxIntervalMS < c.Retry.InitialIntervalMS {
		return fmt.Errorf("config.retry intervals invalid")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("webhook %d has empty event type", i)
			}
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q unknown", c.Log.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "skillswap.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `limits:
  message_max: 500
  reason_max: 500
  comment_max: 1000

listing:
  default_limit: 20
  max_limit: 100

retry:
  max_attempts: 5
  initial_interval_ms: 20
  max_interval_ms: 500

log:
  level: info

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  dev_login: false

# webhooks:
#   - url: https://example.invalid/hooks/skillswap
#     events: [swap.completed, feedback.recorded]
#     timeout_seconds: 5
`
