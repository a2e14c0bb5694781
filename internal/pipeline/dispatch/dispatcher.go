// Package dispatch runs the tail of the pipeline: it consumes scheduled
// items, enriches them, and publishes to the sink.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/stint/internal/pipeline/enrich"
	"github.com/okian/stint/internal/pipeline/sched"
	"github.com/okian/stint/internal/pipeline/sink"
	"github.com/okian/stint/pkg/logger"
	"github.com/okian/stint/pkg/metrics"
)

// Default dispatcher configuration constants.
const (
	defaultShutdownTimeout = 5 * time.Second
)

// Scheduler is how the dispatcher receives items.
type Scheduler interface {
	Dispatch(ctx context.Context) <-chan sched.Item
}

// Dispatcher drains one session's scheduler until the channel closes.
type Dispatcher struct {
	session   string
	scheduler Scheduler
	enricher  *enrich.Enricher
	out       sink.Sink

	// emitted guards the at-most-once invariant; only the Run goroutine
	// touches it.
	emitted map[uint64]struct{}

	shutdown chan struct{}
	done     chan struct{}
	log      logger.Logger
}

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New creates a dispatcher for one session.
func New(session string, scheduler Scheduler, enricher *enrich.Enricher, out sink.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:   session,
		scheduler: scheduler,
		enricher:  enricher,
		out:       out,
		emitted:   make(map[uint64]struct{}),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		log:       logger.Get().Named("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drains the scheduler until ctx is canceled, Shutdown is called, or
// the dispatch channel closes.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	items := d.scheduler.Dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			if err := d.process(ctx, &item); err != nil {
				metrics.RecordErrorByComponent("dispatch", "process")
				d.log.Error(ctx, "dispatch failed",
					logger.String("session", d.session),
					logger.Uint64("sequence", item.Event.Sequence),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the loop, waiting for the in-flight item.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	close(d.shutdown)

	waitCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	select {
	case <-d.done:
		return nil
	case <-waitCtx.Done():
		return fmt.Errorf("dispatcher shutdown timed out: %w", waitCtx.Err())
	}
}

// Done reports completion of the Run loop.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// process enriches and publishes a single scheduled item.
func (d *Dispatcher) process(ctx context.Context, item *sched.Item) error {
	start := time.Now()
	defer func() {
		metrics.RecordDispatchLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	// Re-emitting a sequence number is a logic bug, not a runtime
	// condition: log loudly and withhold the duplicate.
	if _, dup := d.emitted[item.Event.Sequence]; dup {
		metrics.RecordSequenceViolation()
		d.log.Error(ctx, "sequence collision, event withheld",
			logger.String("session", d.session),
			logger.Uint64("sequence", item.Event.Sequence),
		)
		return fmt.Errorf("sequence %d already emitted: %w", item.Event.Sequence, ErrSequenceViolation)
	}

	env := d.enricher.Enrich(ctx, item.Event, item.Tier, item.Late)
	if env.EmittedAt.Before(env.DetectedAt) {
		// Clock skew between detection and emission stamps; emission wins.
		env.EmittedAt = env.DetectedAt
	}

	if err := d.out.Publish(ctx, env); err != nil {
		metrics.RecordPublishError()
		return fmt.Errorf("publish seq %d: %w", env.Sequence, err)
	}

	d.emitted[item.Event.Sequence] = struct{}{}
	metrics.RecordEventPublished(string(item.Tier))
	return nil
}
