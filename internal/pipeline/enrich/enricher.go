// Package enrich attaches race-state and historical context to an event
// immediately before it leaves the core.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/okian/stint/internal/adapters/repository"
	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/logger"
	"github.com/okian/stint/pkg/metrics"
)

// Default enrichment configuration constants.
const (
	defaultHistoryTimeout = 200 * time.Millisecond
)

// HistoryProvider is the external read-only source of historical facts
// (past wins at this circuit, head-to-head records). Calls are bounded by
// the enricher's timeout; a slow provider is abandoned, never waited on.
type HistoryProvider interface {
	GetContext(ctx context.Context, session string, driverIDs []string) (map[string]any, error)
}

// Enricher builds the enriched envelope handed to sinks.
type Enricher struct {
	store   repository.Store
	history HistoryProvider // nil means no historical context
	timeout time.Duration
	log     logger.Logger
}

// Option applies a configuration option to the Enricher.
type Option func(*Enricher)

// WithHistoryProvider sets the external historical context source.
func WithHistoryProvider(p HistoryProvider) Option {
	return func(e *Enricher) { e.history = p }
}

// WithTimeout bounds the historical context call.
func WithTimeout(d time.Duration) Option {
	return func(e *Enricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Enricher) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an enricher reading from the snapshot store.
func New(store repository.Store, opts ...Option) *Enricher {
	e := &Enricher{
		store:   store,
		timeout: defaultHistoryTimeout,
		log:     logger.Get().Named("enrich"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich assembles the outgoing envelope: session snapshot, driver
// snapshots for all subjects, and historical context when the provider
// answers in time. Enrichment failure never blocks or drops the event;
// the historical context field is simply left nil.
func (e *Enricher) Enrich(ctx context.Context, ev model.RaceEvent, tier model.Tier, late bool) model.EnrichedRaceEvent {
	out := model.EnrichedRaceEvent{
		Sequence:   ev.Sequence,
		SessionKey: ev.SessionKey,
		Kind:       ev.Kind,
		Priority:   tier,
		Subjects:   ev.Subjects,
		Payload:    ev.Payload,
		Late:       late,
		DetectedAt: ev.DetectedAt,
		EmittedAt:  time.Now(),
	}

	if sess, err := e.store.GetSession(ctx, ev.SessionKey); err == nil {
		out.SessionContext = sess
	}

	if len(ev.Subjects) > 0 {
		out.DriverContext = make(map[string]model.DriverState, len(ev.Subjects))
		for _, id := range ev.Subjects {
			if st, err := e.store.Get(ctx, ev.SessionKey, id); err == nil {
				out.DriverContext[id] = st
			}
		}
	}

	out.HistoricalContext = e.historical(ctx, &ev)
	return out
}

func (e *Enricher) historical(ctx context.Context, ev *model.RaceEvent) map[string]any {
	if e.history == nil {
		return nil
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	facts, err := e.history.GetContext(callCtx, ev.SessionKey, ev.Subjects)
	metrics.RecordEnrichmentLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordEnrichmentTimeout()
		} else {
			metrics.RecordErrorByComponent("enrich", "history")
		}
		e.log.Debug(ctx, "historical context unavailable",
			logger.String("session", ev.SessionKey),
			logger.Uint64("sequence", ev.Sequence),
			logger.Error(err),
		)
		return nil
	}
	return facts
}
