// Package repository defines the snapshot store interface and errors.
package repository

import "time"

// Option applies a configuration option to the SnapshotStore.
type Option func(*SnapshotStore)

// WithShardCount sets the number of shards used to spread sessions.
func WithShardCount(n int) Option {
	return func(s *SnapshotStore) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *SnapshotStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}
