// Package window coalesces bursts of logically related events before they
// reach the scheduler. At most one pending event exists per dedup key;
// newcomers either replace the pending event, merge into it, or force it
// out of the window entirely.
package window

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/domain/priority"
	"github.com/okian/stint/pkg/logger"
	"github.com/okian/stint/pkg/metrics"
)

// Next is the stage fed by the window, normally the scheduler. Offer
// returns false on backpressure.
type Next interface {
	Offer(ctx context.Context, ev model.RaceEvent, tier model.Tier) bool
}

// key groups near-duplicate events: same kind, same subject pair.
type key struct {
	kind      model.EventKind
	primary   string
	secondary string
}

func keyOf(ev *model.RaceEvent) key {
	return key{kind: ev.Kind, primary: ev.Primary(), secondary: ev.Secondary()}
}

// pending is one batched event waiting out its window.
type pending struct {
	key      key
	ev       model.RaceEvent
	tier     model.Tier
	deadline time.Time
	index    int
}

// Window is the per-session dedup and batching stage. Add may be called
// by the ingest goroutine while the deadline loop flushes concurrently.
type Window struct {
	mu      sync.Mutex
	pending map[key]*pending
	byTime  deadlineHeap
	closed  bool

	budgets *priority.Budgets
	next    Next

	wake chan struct{}
	done chan struct{}
	log  logger.Logger
}

// Option applies a configuration option to the Window.
type Option func(*Window)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Window) {
		if l != nil {
			w.log = l
		}
	}
}

// New creates a batching window feeding next. Run must be started for
// deadlines to be serviced.
func New(budgets *priority.Budgets, next Next, opts ...Option) *Window {
	w := &Window{
		pending: make(map[key]*pending),
		budgets: budgets,
		next:    next,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		log:     logger.Get().Named("window"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run services batch deadlines until ctx is canceled or Close is called.
// Deadline servicing is its own loop so event arrival can never starve it.
func (w *Window) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.mu.Lock()
		var wait time.Duration
		if len(w.byTime) > 0 {
			wait = time.Until(w.byTime[0].deadline)
		} else {
			wait = time.Hour
		}
		w.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.wake:
		case <-timer.C:
			w.flushDue(ctx, time.Now())
		}
	}
}

// Add routes one classified event through the window. CRITICAL events
// bypass batching entirely and force-flush related pending events.
func (w *Window) Add(ctx context.Context, ev model.RaceEvent, tier model.Tier) {
	if tier == model.TierCritical || w.budgets.Window(tier) == 0 {
		w.forceFlushFor(ctx, &ev)
		if !w.next.Offer(ctx, ev, tier) {
			w.log.Warn(ctx, "scheduler rejected critical event",
				logger.String("session", ev.SessionKey),
				logger.Uint64("sequence", ev.Sequence),
			)
		}
		return
	}

	k := keyOf(&ev)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		// Late arrival during teardown: hand straight to the scheduler.
		w.next.Offer(ctx, ev, tier)
		return
	}

	if p, ok := w.pending[k]; ok {
		// The pending event's deadline holds; only its content changes, so
		// a steady stream of replacements cannot park an event forever.
		merged, replaced := coalesce(&p.ev, &ev)
		p.ev = merged
		p.tier = tier
		if replaced {
			metrics.RecordWindowReplace(string(ev.Kind))
		} else {
			metrics.RecordWindowMerge(string(ev.Kind))
		}
		return
	}

	p := &pending{
		key:      k,
		ev:       ev,
		tier:     tier,
		deadline: time.Now().Add(w.budgets.Window(tier)),
	}
	w.pending[k] = p
	heap.Push(&w.byTime, p)
	metrics.UpdateWindowPending(len(w.pending))

	// New earliest deadline; nudge the loop.
	if w.byTime[0] == p {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// flushDue moves every pending event whose deadline has elapsed to the
// scheduler.
func (w *Window) flushDue(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var due []*pending
	for len(w.byTime) > 0 && !w.byTime[0].deadline.After(now) {
		p := heap.Pop(&w.byTime).(*pending)
		delete(w.pending, p.key)
		due = append(due, p)
	}
	metrics.UpdateWindowPending(len(w.pending))
	w.mu.Unlock()

	for _, p := range due {
		w.forward(ctx, p)
	}
}

// forceFlushFor flushes pending events related to a critical arrival: all
// events sharing a subject driver, or every pending event when the
// critical event is session-scoped (no subjects).
func (w *Window) forceFlushFor(ctx context.Context, ev *model.RaceEvent) {
	w.mu.Lock()
	var flush []*pending
	for k, p := range w.pending {
		if len(ev.Subjects) == 0 || shareSubject(ev, &p.ev) {
			heap.Remove(&w.byTime, p.index)
			delete(w.pending, k)
			flush = append(flush, p)
		}
	}
	metrics.UpdateWindowPending(len(w.pending))
	w.mu.Unlock()

	for _, p := range flush {
		metrics.RecordWindowForceFlush()
		w.forward(ctx, p)
	}
}

// FlushAll drains every pending event regardless of deadline. Used at
// session teardown.
func (w *Window) FlushAll(ctx context.Context) {
	w.mu.Lock()
	var flush []*pending
	for k, p := range w.pending {
		delete(w.pending, k)
		flush = append(flush, p)
	}
	w.byTime = w.byTime[:0]
	metrics.UpdateWindowPending(0)
	w.mu.Unlock()

	// Preserve arrival order across keys on a bulk flush.
	sortBySequence(flush)
	for _, p := range flush {
		w.forward(ctx, p)
	}
}

// Close stops the deadline loop. Pending events must be flushed first via
// FlushAll by the owner.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.done)
}

// Pending returns the number of batched events currently held.
func (w *Window) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Window) forward(ctx context.Context, p *pending) {
	if !w.next.Offer(ctx, p.ev, p.tier) {
		w.log.Warn(ctx, "scheduler rejected batched event",
			logger.String("session", p.ev.SessionKey),
			logger.String("kind", string(p.ev.Kind)),
			logger.Uint64("sequence", p.ev.Sequence),
		)
	}
}

func shareSubject(a, b *model.RaceEvent) bool {
	for _, s := range a.Subjects {
		for _, t := range b.Subjects {
			if s == t {
				return true
			}
		}
	}
	return false
}

func sortBySequence(ps []*pending) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j-1].ev.Sequence > ps[j].ev.Sequence; j-- {
			ps[j-1], ps[j] = ps[j], ps[j-1]
		}
	}
}

// deadlineHeap orders pending events by deadline, earliest first.
type deadlineHeap []*pending

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deadlineHeap) Push(x any)         { p := x.(*pending); p.index = len(*h); *h = append(*h, p) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}
