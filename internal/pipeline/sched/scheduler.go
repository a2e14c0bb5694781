// Package sched dispatches classified events in priority order. Queued
// items are ordered by tier first and arrival sequence second, so no
// same-tier event can starve another, and each carries an absolute
// deadline derived from its tier's latency budget.
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/domain/priority"
	"github.com/okian/stint/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	defaultCapacity = 10000
)

// DropPolicy controls behavior under sustained overload.
type DropPolicy string

// Recognized drop policies.
const (
	// DropNone never drops; Offer fails when the queue is full.
	DropNone DropPolicy = "none"
	// DropLowTierOnly permits dropping LOW-tier items that are already
	// past their deadline. Every drop is counted, never silent.
	DropLowTierOnly DropPolicy = "low-tier-only"
)

// Item is one scheduled event with its dispatch deadline.
type Item struct {
	Event      model.RaceEvent
	Tier       model.Tier
	EnqueuedAt time.Time
	Deadline   time.Time
	// Late is set at dispatch when the deadline had already passed.
	Late bool

	index int
}

// Scheduler is the per-session priority dispatcher.
type Scheduler struct {
	mu     sync.Mutex
	items  itemHeap
	closed bool

	capacity   int
	dropPolicy DropPolicy
	budgets    *priority.Budgets

	out  chan Item
	wake chan struct{}
	once sync.Once
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithCapacity bounds the number of queued items.
func WithCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithDropPolicy sets the overload drop policy.
func WithDropPolicy(p DropPolicy) Option {
	return func(s *Scheduler) {
		if p == DropNone || p == DropLowTierOnly {
			s.dropPolicy = p
		}
	}
}

// New creates a scheduler. Dispatch must be consumed for items to flow.
func New(budgets *priority.Budgets, opts ...Option) *Scheduler {
	s := &Scheduler{
		capacity:   defaultCapacity,
		dropPolicy: DropNone,
		budgets:    budgets,
		out:        make(chan Item),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.UpdateSchedulerCapacity(s.capacity)
	return s
}

// Offer queues an event for dispatch. Returns false when the scheduler is
// closed or full and nothing could be evicted to make room.
func (s *Scheduler) Offer(ctx context.Context, ev model.RaceEvent, tier model.Tier) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		metrics.RecordSchedulerReject("closed")
		return false
	}
	if len(s.items) >= s.capacity && !s.evictLocked(now) {
		metrics.RecordSchedulerReject("overload")
		return false
	}

	heap.Push(&s.items, &Item{
		Event:      ev,
		Tier:       tier,
		EnqueuedAt: now,
		Deadline:   now.Add(s.budgets.Budget(tier)),
	})
	metrics.RecordSchedulerEnqueue(string(tier))
	s.updateDepthLocked()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// evictLocked frees one slot under the drop policy. Only LOW-tier items
// past their deadline are eligible; each eviction is counted.
func (s *Scheduler) evictLocked(now time.Time) bool {
	if s.dropPolicy != DropLowTierOnly {
		return false
	}
	for i := len(s.items) - 1; i >= 0; i-- {
		it := s.items[i]
		if it.Tier == model.TierLow && now.After(it.Deadline) {
			heap.Remove(&s.items, it.index)
			metrics.RecordSchedulerDrop(string(it.Tier))
			return true
		}
	}
	return false
}

// Dispatch returns the channel items are delivered on, in priority order.
// The channel closes once the scheduler is closed and drained.
func (s *Scheduler) Dispatch(ctx context.Context) <-chan Item {
	s.once.Do(func() { go s.loop(ctx) })
	return s.out
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.out)

	for {
		s.mu.Lock()
		var next *Item
		if len(s.items) > 0 {
			next = heap.Pop(&s.items).(*Item)
			s.updateDepthLocked()
		}
		closed := s.closed
		s.mu.Unlock()

		if next == nil {
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		now := time.Now()
		if now.After(next.Deadline) {
			// Past-deadline LOW items may be shed under the hard drop
			// policy; everything else is dispatched anyway, flagged late.
			if s.dropPolicy == DropLowTierOnly && next.Tier == model.TierLow {
				metrics.RecordSchedulerDrop(string(next.Tier))
				continue
			}
			next.Late = true
			metrics.RecordLateDispatch(string(next.Tier))
		}

		select {
		case s.out <- *next:
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of queued items.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close stops intake. Queued items are still drained to Dispatch.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// IsClosed reports whether the scheduler has stopped intake.
func (s *Scheduler) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) updateDepthLocked() {
	depth := len(s.items)
	metrics.UpdateSchedulerDepth(depth)
	metrics.UpdateSchedulerUtilization(float64(depth) / float64(s.capacity))
}

// itemHeap orders by tier rank, then sequence number. FIFO within a tier
// follows from sequence numbers being strictly increasing.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Tier.Rank() != h[j].Tier.Rank() {
		return h[i].Tier.Rank() < h[j].Tier.Rank()
	}
	return h[i].Event.Sequence < h[j].Event.Sequence
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *itemHeap) Push(x any)   { it := x.(*Item); it.index = len(*h); *h = append(*h, it) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
