// Package history provides historical racing facts for event enrichment.
package history

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"
)

// Default provider configuration constants.
const (
	defaultMinLatency = 20 * time.Millisecond
	defaultMaxLatency = 120 * time.Millisecond
	defaultRandomSeed = 42
	maxCareerWins     = 60
	maxCircuitWins    = 6
	maxSeasonPoints   = 400
)

// Option applies a configuration option to the InMemoryProvider.
type Option func(*InMemoryProvider)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(p *InMemoryProvider) {
		if minLatency > 0 && maxLatency > minLatency {
			p.minLatency = minLatency
			p.maxLatency = maxLatency
		}
	}
}

// WithSeed sets the seed used to derive driver career records.
func WithSeed(seed int64) Option {
	return func(p *InMemoryProvider) {
		p.seed = seed
	}
}

// Record is the career summary held for one driver.
type Record struct {
	CareerWins     int     `json:"career_wins"`
	WinsAtCircuit  int     `json:"wins_at_circuit"`
	SeasonPoints   int     `json:"season_points"`
	AvgFinish      float64 `json:"avg_finish"`
	LastYearResult int     `json:"last_year_result"`
}

// InMemoryProvider simulates an external historical stats service. It
// derives stable per-driver career records from a seed and models the
// service's response latency, so enrichment timeout behavior can be
// exercised without a network dependency.
type InMemoryProvider struct {
	mu      sync.Mutex
	records map[string]Record
	seed    int64

	// Simulated latency range
	minLatency time.Duration
	maxLatency time.Duration
	rng        *rand.Rand
}

// NewInMemoryProvider creates an in-memory provider with configuration options.
func NewInMemoryProvider(opts ...Option) *InMemoryProvider {
	p := &InMemoryProvider{
		records:    make(map[string]Record),
		seed:       defaultRandomSeed,
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible testing
	}

	// Apply all options
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// GetContext returns historical facts keyed by driver id. Latency is
// simulated; ctx cancellation wins over the answer.
func (p *InMemoryProvider) GetContext(ctx context.Context, session string, driverIDs []string) (map[string]any, error) {
	p.mu.Lock()
	latency := p.minLatency + time.Duration(p.rng.Int63n(int64(p.maxLatency-p.minLatency)))
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("history lookup cancelled: %w", ctx.Err())
	case <-time.After(latency):
	}

	facts := make(map[string]any, len(driverIDs))
	for _, id := range driverIDs {
		facts[id] = p.record(session, id)
	}
	return facts, nil
}

// record returns the stable career record for a driver, deriving it on
// first sight from the seed and driver id.
func (p *InMemoryProvider) record(session, id string) Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.records[id]; ok {
		return r
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(session))
	_, _ = h.Write([]byte(id))
	rng := rand.New(rand.NewSource(p.seed ^ int64(h.Sum64()))) //nolint:gosec // derived, reproducible

	r := Record{
		CareerWins:     rng.Intn(maxCareerWins),
		WinsAtCircuit:  rng.Intn(maxCircuitWins),
		SeasonPoints:   rng.Intn(maxSeasonPoints),
		AvgFinish:      1 + rng.Float64()*14,
		LastYearResult: 1 + rng.Intn(20),
	}
	p.records[id] = r
	return r
}

// SetLatencyRange allows customization of simulated latency.
func (p *InMemoryProvider) SetLatencyRange(minLatency, maxLatency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minLatency = minLatency
	p.maxLatency = maxLatency
}
