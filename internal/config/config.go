package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gigledger.yml.
type Config struct {
	Ledger struct {
		Currency     string `yaml:"currency"`
		MaxRevisions int    `yaml:"max_revisions"`
	} `yaml:"ledger"`
	Dispatch struct {
		DefaultLimit int `yaml:"default_limit"`
	} `yaml:"dispatch"`
	RateLimits struct {
		Platforms map[string]map[string]WindowLimits `yaml:"platforms"`
		Default   WindowLimits                       `yaml:"default"`
	} `yaml:"rate_limits"`
	Experiments map[string]ExperimentSpec `yaml:"experiments"`
}

// WindowLimits holds the fixed-window caps enforced simultaneously for one
// action. A zero cap disables that window.
type WindowLimits struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

type ExperimentSpec struct {
	Variants map[string]int `yaml:"variants"` // variant id -> traffic weight
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Ledger.Currency == "" {
		return fmt.Errorf("config.ledger.currency is required")
	}
	if len(c.Ledger.Currency) != 3 {
		return fmt.Errorf("config.ledger.currency must be a 3-letter code")
	}
	if c.Ledger.MaxRevisions < 0 {
		return fmt.Errorf("config.ledger.max_revisions must be >= 0")
	}
	if c.Dispatch.DefaultLimit < 0 {
		return fmt.Errorf("config.dispatch.default_limit must be >= 0")
	}
	for platform, actions := range c.RateLimits.Platforms {
		if platform == "" {
			return fmt.Errorf("config.rate_limits.platforms contains empty platform id")
		}
		for action, limits := range actions {
			if action == "" {
				return fmt.Errorf("platform %s has empty action id", platform)
			}
			if err := limits.validate(); err != nil {
				return fmt.Errorf("platform %s action %s: %w", platform, action, err)
			}
		}
	}
	if err := c.RateLimits.Default.validate(); err != nil {
		return fmt.Errorf("config.rate_limits.default: %w", err)
	}
	for name, exp := range c.Experiments {
		if name == "" {
			return fmt.Errorf("config.experiments contains empty experiment name")
		}
		if len(exp.Variants) == 0 {
			return fmt.Errorf("experiment %s has no variants", name)
		}
		total := 0
		for id, weight := range exp.Variants {
			if id == "" {
				return fmt.Errorf("experiment %s has empty variant id", name)
			}
			if weight < 0 {
				return fmt.Errorf("experiment %s variant %s has negative weight", name, id)
			}
			total += weight
		}
		if total == 0 {
			return fmt.Errorf("experiment %s has zero total traffic weight", name)
		}
	}
	return nil
}

func (w WindowLimits) validate() error {
	if w.PerMinute < 0 || w.PerHour < 0 || w.PerDay < 0 {
		return fmt.Errorf("window limits must be >= 0")
	}
	return nil
}

// LimitsFor resolves the window caps for a platform/action pair, falling
// back to the default block.
func (c *Config) LimitsFor(platform, action string) WindowLimits {
	if actions, ok := c.RateLimits.Platforms[platform]; ok {
		if limits, ok := actions[action]; ok {
			return limits
		}
	}
	return c.RateLimits.Default
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigledger.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `ledger:
  currency: USD
  max_revisions: 3

dispatch:
  default_limit: 50

rate_limits:
  platforms:
    upwork:
      proposals:
        per_minute: 1
        per_hour: 10
        per_day: 30
      messages:
        per_minute: 3
        per_hour: 30
        per_day: 100
      api_calls:
        per_minute: 2
        per_hour: 20
        per_day: 100
    fiverr:
      proposals:
        per_minute: 1
        per_hour: 8
        per_day: 25
      messages:
        per_minute: 2
        per_hour: 20
        per_day: 80
  default:
    per_minute: 5
    per_hour: 50
    per_day: 200

experiments:
  proposal-tone:
    variants:
      direct: 50
      consultative: 30
      portfolio-led: 20
`
