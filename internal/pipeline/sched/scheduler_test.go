package sched_test

import (
	"context"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/domain/priority"
	"github.com/okian/stint/internal/pipeline/sched"
)

func event(seq uint64, kind model.EventKind) model.RaceEvent {
	return model.RaceEvent{
		Sequence:   seq,
		SessionKey: "test-session",
		Kind:       kind,
		DetectedAt: time.Now(),
	}
}

// collect drains the dispatch channel until it closes or n items arrive.
func collect(t *testing.T, ch <-chan sched.Item, n int) []sched.Item {
	t.Helper()
	var out []sched.Item
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case it, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, it)
		case <-timeout:
			t.Fatalf("timed out after %d of %d items", len(out), n)
		}
	}
	return out
}

func TestSchedulerPriorityOrder(t *testing.T) {
	convey.Convey("Given a scheduler with mixed-tier items queued", t, func() {
		s := sched.New(priority.NewBudgets())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.So(s.Offer(ctx, event(1, model.EventWeatherChange), model.TierLow), convey.ShouldBeTrue)
		convey.So(s.Offer(ctx, event(2, model.EventGapChange), model.TierMedium), convey.ShouldBeTrue)
		convey.So(s.Offer(ctx, event(3, model.EventOvertake), model.TierHigh), convey.ShouldBeTrue)
		convey.So(s.Offer(ctx, event(4, model.EventIncident), model.TierCritical), convey.ShouldBeTrue)
		convey.So(s.Offer(ctx, event(5, model.EventPitStop), model.TierHigh), convey.ShouldBeTrue)
		convey.So(s.Len(), convey.ShouldEqual, 5)

		convey.Convey("When items are dispatched", func() {
			got := collect(t, s.Dispatch(ctx), 5)

			convey.Convey("Then tiers dispatch highest first, FIFO within a tier", func() {
				convey.So(got, convey.ShouldHaveLength, 5)
				convey.So(got[0].Tier, convey.ShouldEqual, model.TierCritical)
				convey.So(got[1].Event.Sequence, convey.ShouldEqual, 3)
				convey.So(got[2].Event.Sequence, convey.ShouldEqual, 5)
				convey.So(got[3].Tier, convey.ShouldEqual, model.TierMedium)
				convey.So(got[4].Tier, convey.ShouldEqual, model.TierLow)
			})
		})
	})
}

func TestSchedulerCapacity(t *testing.T) {
	convey.Convey("Given a scheduler at capacity with the default drop policy", t, func() {
		s := sched.New(priority.NewBudgets(), sched.WithCapacity(2))
		ctx := context.Background()

		convey.So(s.Offer(ctx, event(1, model.EventGapChange), model.TierMedium), convey.ShouldBeTrue)
		convey.So(s.Offer(ctx, event(2, model.EventGapChange), model.TierMedium), convey.ShouldBeTrue)

		convey.Convey("When another item is offered", func() {
			ok := s.Offer(ctx, event(3, model.EventIncident), model.TierCritical)

			convey.Convey("Then the offer is refused and nothing is evicted", func() {
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(s.Len(), convey.ShouldEqual, 2)
			})
		})
	})

	convey.Convey("Given a full scheduler under the low-tier-only drop policy", t, func() {
		budgets := priority.NewBudgets(
			priority.WithBudget(model.TierLow, time.Nanosecond),
		)
		s := sched.New(budgets, sched.WithCapacity(2), sched.WithDropPolicy(sched.DropLowTierOnly))
		ctx := context.Background()

		convey.So(s.Offer(ctx, event(1, model.EventWeatherChange), model.TierLow), convey.ShouldBeTrue)
		convey.So(s.Offer(ctx, event(2, model.EventGapChange), model.TierMedium), convey.ShouldBeTrue)
		time.Sleep(time.Millisecond) // let the LOW item expire

		convey.Convey("When a higher-tier item is offered", func() {
			ok := s.Offer(ctx, event(3, model.EventOvertake), model.TierHigh)

			convey.Convey("Then the expired LOW item is evicted to make room", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(s.Len(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When nothing queued is eligible for eviction", func() {
			// Fill with MEDIUM items only.
			s2 := sched.New(budgets, sched.WithCapacity(1), sched.WithDropPolicy(sched.DropLowTierOnly))
			convey.So(s2.Offer(ctx, event(1, model.EventGapChange), model.TierMedium), convey.ShouldBeTrue)

			convey.Convey("Then the offer still fails", func() {
				convey.So(s2.Offer(ctx, event(2, model.EventGapChange), model.TierMedium), convey.ShouldBeFalse)
			})
		})
	})
}

func TestSchedulerLateFlag(t *testing.T) {
	convey.Convey("Given an item whose deadline has already passed", t, func() {
		budgets := priority.NewBudgets(
			priority.WithBudget(model.TierHigh, time.Nanosecond),
		)
		s := sched.New(budgets)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.So(s.Offer(ctx, event(1, model.EventOvertake), model.TierHigh), convey.ShouldBeTrue)
		time.Sleep(time.Millisecond)

		convey.Convey("When it is dispatched", func() {
			got := collect(t, s.Dispatch(ctx), 1)

			convey.Convey("Then it is delivered anyway, flagged late", func() {
				convey.So(got, convey.ShouldHaveLength, 1)
				convey.So(got[0].Late, convey.ShouldBeTrue)
			})
		})
	})
}

func TestSchedulerClose(t *testing.T) {
	convey.Convey("Given a scheduler with queued items", t, func() {
		s := sched.New(priority.NewBudgets())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.So(s.Offer(ctx, event(1, model.EventOvertake), model.TierHigh), convey.ShouldBeTrue)
		convey.So(s.Offer(ctx, event(2, model.EventGapChange), model.TierMedium), convey.ShouldBeTrue)

		convey.Convey("When the scheduler is closed", func() {
			s.Close()
			s.Close() // idempotent

			convey.Convey("Then intake stops but queued items still drain", func() {
				convey.So(s.IsClosed(), convey.ShouldBeTrue)
				convey.So(s.Offer(ctx, event(3, model.EventPitStop), model.TierHigh), convey.ShouldBeFalse)

				got := collect(t, s.Dispatch(ctx), 2)
				convey.So(got, convey.ShouldHaveLength, 2)
				convey.So(got[0].Event.Sequence, convey.ShouldEqual, 1)
				convey.So(got[1].Event.Sequence, convey.ShouldEqual, 2)

				_, open := <-s.Dispatch(ctx)
				convey.So(open, convey.ShouldBeFalse)
			})
		})
	})
}
