// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New(...Option) initializer to build a Config with defaults.
// - All future functions must accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// SchedulerCapacity bounds the in-memory priority scheduler.
	SchedulerCapacity int `koanf:"scheduler_capacity"`

	// DropPolicy selects overflow handling: "none" or "low-tier-only".
	DropPolicy string `koanf:"drop_policy"`

	// EnrichTimeoutMS bounds historical context lookups per event.
	EnrichTimeoutMS int `koanf:"enrich_timeout_ms"`

	// GapThresholdS is the minimum gap delta (seconds) that produces a
	// gap-change event.
	GapThresholdS float64 `koanf:"gap_threshold_s"`

	// TempThresholdC is the minimum track temperature delta (celsius) that
	// produces a weather-change event.
	TempThresholdC float64 `koanf:"temp_threshold_c"`

	// ShardCount configures the number of shards in the snapshot store.
	ShardCount int `koanf:"shard_count"`

	// BroadcastBuffer sets the per-client send buffer for the stream hub.
	BroadcastBuffer int `koanf:"broadcast_buffer"`

	// CommentaryRate and CommentaryBurst configure the rate-limited
	// commentary sink (events per second, burst size). Zero rate disables it.
	CommentaryRate  float64 `koanf:"commentary_rate"`
	CommentaryBurst int     `koanf:"commentary_burst"`

	// TierBudgetsMS overrides per-tier latency budgets in milliseconds,
	// keyed by tier name (CRITICAL, HIGH, MEDIUM, LOW).
	TierBudgetsMS map[string]int `koanf:"tier_budgets_ms"`

	// TierWindowsMS overrides per-tier batching windows in milliseconds.
	// The CRITICAL window is always zero regardless of overrides.
	TierWindowsMS map[string]int `koanf:"tier_windows_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		SchedulerCapacity: 10_000,
		DropPolicy:        "none",
		EnrichTimeoutMS:   200,
		GapThresholdS:     0.3,
		TempThresholdC:    2.0,
		ShardCount:        8,
		BroadcastBuffer:   64,
		CommentaryRate:    0,
		CommentaryBurst:   1,
	}
}
