package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models pactline.yml.
type Config struct {
	Defaults struct {
		Timezone   string `yaml:"timezone"`
		Visibility string `yaml:"visibility"`
		AutoBreach struct {
			Enabled      bool `yaml:"enabled"`
			GraceMinutes int  `yaml:"grace_minutes"`
		} `yaml:"auto_breach"`
	} `yaml:"defaults"`
	Limits struct {
		MaxParticipants int `yaml:"max_participants"`
	} `yaml:"limits"`
	Sweep struct {
		Interval string `yaml:"interval"`
	} `yaml:"sweep"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		DevLogin               bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one receipt-delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Actions        []string `yaml:"actions"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	defaultTimezone     = "Europe/Istanbul"
	defaultGraceMinutes = 60
	defaultVisibility   = "link"
	defaultMaxParts     = 10
	defaultSweepEvery   = "1m"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Defaults.Visibility {
	case "private", "friends", "link":
	default:
		return fmt.Errorf("defaults.visibility must be one of private, friends, link")
	}
	if c.Defaults.Timezone == "" {
		return fmt.Errorf("defaults.timezone is required")
	}
	if c.Defaults.AutoBreach.GraceMinutes < 0 {
		return fmt.Errorf("defaults.auto_breach.grace_minutes must be >= 0")
	}
	if c.Limits.MaxParticipants < 1 {
		return fmt.Errorf("limits.max_participants must be >= 1")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pactline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with pact config init", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
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

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	cfg.Defaults.Timezone = defaultTimezone
	cfg.Defaults.Visibility = defaultVisibility
	cfg.Defaults.AutoBreach.Enabled = true
	cfg.Defaults.AutoBreach.GraceMinutes = defaultGraceMinutes
	cfg.Limits.MaxParticipants = defaultMaxParts
	cfg.Sweep.Interval = defaultSweepEvery
	cfg.Auth.AllowLegacyActorHeader = true
	cfg.Auth.DevLogin = true
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted sections
// fall back to the built-in defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Sweep.Interval == "" {
		cfg.Sweep.Interval = defaultSweepEvery
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns the default config YAML template.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `defaults:
  timezone: Europe/Istanbul
  visibility: link
  auto_breach:
    enabled: true
    grace_minutes: 60

limits:
  max_participants: 10

sweep:
  interval: 1m

auth:
  jwt_secret: ""
  allow_legacy_actor_header: true
  dev_login: true

webhooks: []
`
