// Package sink declares the boundary contract handed to external
// consumers: commentary generators, strategy engines, broadcasters.
package sink

import (
	"context"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/metrics"
)

// Sink receives fully processed events. Everything handed to Publish has
// already passed classification, deduplication, scheduling, and
// enrichment; what happens after is the consumer's business.
type Sink interface {
	Publish(ctx context.Context, ev model.EnrichedRaceEvent) error
}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, ev model.EnrichedRaceEvent) error

// Publish calls f.
func (f Func) Publish(ctx context.Context, ev model.EnrichedRaceEvent) error {
	return f(ctx, ev)
}

// Multi fans one event out to several sinks. A failing sink never blocks
// the others; the first error is returned after all have been tried.
type Multi []Sink

// Publish delivers ev to every sink in order.
func (m Multi) Publish(ctx context.Context, ev model.EnrichedRaceEvent) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			metrics.RecordPublishError()
			if first == nil {
				first = err
			}
		}
	}
	return first
}
