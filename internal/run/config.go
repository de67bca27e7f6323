package run

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calyptra/planrun/internal/engine"
)

// Config carries the tunable run parameters loaded from a YAML file:
// collaborator retry policy, checkpoint granularity, and initial
// breakpoints.
type Config struct {
	Retry struct {
		Attempts int    `yaml:"attempts"`
		Backoff  string `yaml:"backoff"` // Go duration string, e.g. "250ms"
	} `yaml:"retry"`

	// CheckpointEvery persists a checkpoint after every N finalized nodes.
	// Suspension points (mid-loop yields, breakpoints, pause, stop) always
	// checkpoint regardless. Zero means 1.
	CheckpointEvery int `yaml:"checkpoint_every"`

	Breakpoints []string `yaml:"breakpoints"`
}

// DefaultConfig is a single attempt, no backoff, checkpoint on every node.
func DefaultConfig() Config {
	var c Config
	c.Retry.Attempts = 1
	c.CheckpointEvery = 1
	return c
}

// LoadConfig reads a YAML run configuration.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if _, err := cfg.RetryPolicy(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// RetryPolicy converts the config's retry section to the engine's policy.
func (c Config) RetryPolicy() (engine.RetryPolicy, error) {
	p := engine.RetryPolicy{Attempts: c.Retry.Attempts}
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if c.Retry.Backoff != "" {
		d, err := time.ParseDuration(c.Retry.Backoff)
		if err != nil {
			return p, fmt.Errorf("retry backoff %q: %w", c.Retry.Backoff, err)
		}
		p.Backoff = d
	}
	return p, nil
}
