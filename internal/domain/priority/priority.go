// Package priority maps race events to priority tiers and their
// latency/batching budgets.
package priority

import (
	"time"

	"github.com/okian/stint/internal/domain/model"
)

// Default per-tier budgets. A tier's budget bounds the time an event may
// spend between scheduler arrival and dispatch; its window bounds how long
// the batching stage may hold it for coalescing.
const (
	defaultCriticalBudget = 1 * time.Second
	defaultHighBudget     = 2 * time.Second
	defaultMediumBudget   = 3 * time.Second
	defaultLowBudget      = 5 * time.Second

	defaultHighWindow   = 500 * time.Millisecond
	defaultMediumWindow = 1500 * time.Millisecond
	defaultLowWindow    = 3 * time.Second
)

// Budgets holds the per-tier latency budget and batch window.
type Budgets struct {
	budget map[model.Tier]time.Duration
	window map[model.Tier]time.Duration
}

// Option applies a configuration option to Budgets.
type Option func(*Budgets)

// WithBudget overrides the maximum dispatch latency for a tier.
func WithBudget(t model.Tier, d time.Duration) Option {
	return func(b *Budgets) {
		if d > 0 {
			b.budget[t] = d
		}
	}
}

// WithWindow overrides the batch window for a tier. The CRITICAL window is
// pinned at zero; critical events never wait.
func WithWindow(t model.Tier, d time.Duration) Option {
	return func(b *Budgets) {
		if t != model.TierCritical && d >= 0 {
			b.window[t] = d
		}
	}
}

// NewBudgets creates tier budgets with defaults and applies options.
func NewBudgets(opts ...Option) *Budgets {
	b := &Budgets{
		budget: map[model.Tier]time.Duration{
			model.TierCritical: defaultCriticalBudget,
			model.TierHigh:     defaultHighBudget,
			model.TierMedium:   defaultMediumBudget,
			model.TierLow:      defaultLowBudget,
		},
		window: map[model.Tier]time.Duration{
			model.TierCritical: 0,
			model.TierHigh:     defaultHighWindow,
			model.TierMedium:   defaultMediumWindow,
			model.TierLow:      defaultLowWindow,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Budget returns the maximum dispatch latency for a tier.
func (b *Budgets) Budget(t model.Tier) time.Duration { return b.budget[t] }

// Window returns the batch window for a tier.
func (b *Budgets) Window(t model.Tier) time.Duration { return b.window[t] }

// Classify assigns a priority tier to an event. The mapping is total and
// deterministic: every event kind maps to exactly one tier.
func Classify(e *model.RaceEvent) model.Tier {
	switch e.Kind {
	case model.EventIncident:
		return model.TierCritical
	case model.EventSessionStatusChange:
		if p, ok := e.Payload.(model.SessionStatusPayload); ok {
			switch p.To {
			case model.FlagRed, model.FlagSC, model.FlagVSC:
				return model.TierCritical
			}
		}
		return model.TierHigh
	case model.EventOvertake, model.EventPitStop, model.EventFastestLap:
		return model.TierHigh
	case model.EventDRSActivation, model.EventGapChange:
		return model.TierMedium
	default: // WeatherChange and anything minor
		return model.TierLow
	}
}
