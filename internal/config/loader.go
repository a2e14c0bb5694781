package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if STINT_CONFIG is set
//  3. env (prefix STINT_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("STINT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: STINT_ADDR, STINT_SCHEDULER_CAPACITY, ...
	// Map env keys like STINT_SCHEDULER_CAPACITY -> scheduler_capacity.
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("STINT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "stint_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.SchedulerCapacity <= 0 {
		return fmt.Errorf("%w: scheduler_capacity must be positive", ErrInvalidConfig)
	}
	switch c.DropPolicy {
	case "none", "low-tier-only":
	default:
		return fmt.Errorf("%w: unknown drop_policy %q", ErrInvalidConfig, c.DropPolicy)
	}
	if c.EnrichTimeoutMS <= 0 {
		return fmt.Errorf("%w: enrich_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("%w: shard_count must be positive", ErrInvalidConfig)
	}
	for name := range c.TierBudgetsMS {
		if !validTier(name) {
			return fmt.Errorf("%w: unknown tier %q in tier_budgets_ms", ErrInvalidConfig, name)
		}
	}
	for name := range c.TierWindowsMS {
		if !validTier(name) {
			return fmt.Errorf("%w: unknown tier %q in tier_windows_ms", ErrInvalidConfig, name)
		}
	}
	return nil
}

func validTier(name string) bool {
	switch name {
	case "CRITICAL", "HIGH", "MEDIUM", "LOW":
		return true
	}
	return false
}
