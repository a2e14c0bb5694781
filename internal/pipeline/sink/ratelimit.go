package sink

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/metrics"
)

// RateLimited wraps a sink with a per-session token bucket, for consumers
// that must not be flooded (a commentary generator has a minimum gap
// between lines). CRITICAL events always pass; lower tiers that exceed
// the budget are shed and counted, never queued.
type RateLimited struct {
	next  Sink
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimited wraps next with eventsPerSecond per session.
func NewRateLimited(next Sink, eventsPerSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:     next,
		limit:    rate.Limit(eventsPerSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Publish forwards ev unless the session's budget is spent.
func (r *RateLimited) Publish(ctx context.Context, ev model.EnrichedRaceEvent) error {
	if ev.Priority != model.TierCritical && !r.limiter(ev.SessionKey).Allow() {
		metrics.RecordSinkRateLimited(string(ev.Priority))
		return nil
	}
	return r.next.Publish(ctx, ev)
}

// Forget releases the limiter state for a finished session.
func (r *RateLimited) Forget(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, session)
}

func (r *RateLimited) limiter(session string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[session]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[session] = l
	}
	return l
}
