package window_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/domain/priority"
	"github.com/okian/stint/internal/pipeline/window"
	"github.com/okian/stint/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// captureNext records everything offered downstream.
type captureNext struct {
	mu     sync.Mutex
	offers []offered
	reject bool
}

type offered struct {
	ev   model.RaceEvent
	tier model.Tier
}

func (c *captureNext) Offer(_ context.Context, ev model.RaceEvent, tier model.Tier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject {
		return false
	}
	c.offers = append(c.offers, offered{ev: ev, tier: tier})
	return true
}

func (c *captureNext) all() []offered {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]offered, len(c.offers))
	copy(out, c.offers)
	return out
}

// holdBudgets returns budgets whose windows are long enough that nothing
// flushes on its own during a test.
func holdBudgets() *priority.Budgets {
	return priority.NewBudgets(
		priority.WithWindow(model.TierHigh, time.Hour),
		priority.WithWindow(model.TierMedium, time.Hour),
		priority.WithWindow(model.TierLow, time.Hour),
	)
}

func gapEvent(seq uint64, driver, ahead string, delta, gap float64) model.RaceEvent {
	return model.RaceEvent{
		Sequence:   seq,
		SessionKey: "test-session",
		Kind:       model.EventGapChange,
		Subjects:   []string{driver, ahead},
		Payload: model.GapChangePayload{
			Ahead:   ahead,
			Delta:   delta,
			Gap:     gap,
			Updates: 1,
		},
		DetectedAt: time.Now(),
	}
}

func TestWindowCoalescing(t *testing.T) {
	convey.Convey("Given a window with long batch deadlines", t, func() {
		next := &captureNext{}
		w := window.New(holdBudgets(), next)
		ctx := context.Background()

		convey.Convey("When five gap changes for the same pair arrive", func() {
			gaps := []float64{2.5, 2.0, 1.5, 1.0, 0.5}
			prev := 3.0
			for i, g := range gaps {
				w.Add(ctx, gapEvent(uint64(i+1), "lec", "ham", g-prev, g), model.TierMedium)
				prev = g
			}

			convey.Convey("Then a single pending event accumulates the deltas", func() {
				convey.So(w.Pending(), convey.ShouldEqual, 1)

				w.FlushAll(ctx)
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 1)

				p, ok := got[0].ev.Payload.(model.GapChangePayload)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(p.Delta, convey.ShouldAlmostEqual, -2.5, 0.0001)
				convey.So(p.Gap, convey.ShouldAlmostEqual, 0.5, 0.0001)
				convey.So(p.Updates, convey.ShouldEqual, 5)
				convey.So(p.Closing(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When gap changes for different pairs arrive", func() {
			w.Add(ctx, gapEvent(1, "lec", "ham", -0.2, 1.0), model.TierMedium)
			w.Add(ctx, gapEvent(2, "nor", "ver", -0.1, 2.0), model.TierMedium)

			convey.Convey("Then they batch under separate keys", func() {
				convey.So(w.Pending(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When weather changes merge", func() {
			base := model.RaceEvent{
				Sequence:   1,
				SessionKey: "test-session",
				Kind:       model.EventWeatherChange,
				Payload: model.WeatherChangePayload{
					TrackTemp: 34.0,
					TempDelta: 2.5,
				},
				DetectedAt: time.Now(),
			}
			w.Add(ctx, base, model.TierLow)

			rain := base
			rain.Sequence = 2
			rain.Payload = model.WeatherChangePayload{
				TrackTemp:       31.0,
				TempDelta:       -3.0,
				Rainfall:        true,
				RainfallChanged: true,
			}
			w.Add(ctx, rain, model.TierLow)

			convey.Convey("Then the merged payload carries the latest reading and the flip", func() {
				w.FlushAll(ctx)
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 1)

				p, ok := got[0].ev.Payload.(model.WeatherChangePayload)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(p.TrackTemp, convey.ShouldAlmostEqual, 31.0, 0.0001)
				convey.So(p.TempDelta, convey.ShouldAlmostEqual, -0.5, 0.0001)
				convey.So(p.Rainfall, convey.ShouldBeTrue)
				convey.So(p.RainfallChanged, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a smaller overtake follows a bigger one for the same pair", func() {
			big := model.RaceEvent{
				Sequence:   1,
				SessionKey: "test-session",
				Kind:       model.EventOvertake,
				Subjects:   []string{"alo", "str"},
				Payload:    model.OvertakePayload{FromPosition: 8, ToPosition: 5, OvertakenDriver: "str"},
				DetectedAt: time.Now(),
			}
			small := big
			small.Sequence = 2
			small.Payload = model.OvertakePayload{FromPosition: 6, ToPosition: 5, OvertakenDriver: "str"}

			w.Add(ctx, big, model.TierHigh)
			w.Add(ctx, small, model.TierHigh)

			convey.Convey("Then the bigger position jump survives", func() {
				w.FlushAll(ctx)
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 1)

				p, ok := got[0].ev.Payload.(model.OvertakePayload)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(p.FromPosition, convey.ShouldEqual, 8)
				convey.So(p.ToPosition, convey.ShouldEqual, 5)
			})
		})
	})
}

func TestWindowCriticalBypass(t *testing.T) {
	convey.Convey("Given a window holding batched events", t, func() {
		next := &captureNext{}
		w := window.New(holdBudgets(), next)
		ctx := context.Background()

		w.Add(ctx, gapEvent(1, "ver", "lec", -0.3, 1.2), model.TierMedium)
		w.Add(ctx, gapEvent(2, "nor", "pia", -0.1, 0.8), model.TierMedium)

		convey.Convey("When a critical event naming one subject arrives", func() {
			crit := model.RaceEvent{
				Sequence:   3,
				SessionKey: "test-session",
				Kind:       model.EventIncident,
				Subjects:   []string{"ver"},
				Payload:    model.IncidentPayload{Description: "retired", LastPosition: 2},
				DetectedAt: time.Now(),
			}
			w.Add(ctx, crit, model.TierCritical)

			convey.Convey("Then the related pending event flushes ahead of it", func() {
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 2)
				convey.So(got[0].ev.Kind, convey.ShouldEqual, model.EventGapChange)
				convey.So(got[0].ev.Primary(), convey.ShouldEqual, "ver")
				convey.So(got[1].ev.Kind, convey.ShouldEqual, model.EventIncident)
				convey.So(got[1].tier, convey.ShouldEqual, model.TierCritical)
			})

			convey.Convey("Then the unrelated pending event keeps waiting", func() {
				convey.So(w.Pending(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When a session-scoped critical event arrives", func() {
			crit := model.RaceEvent{
				Sequence:   3,
				SessionKey: "test-session",
				Kind:       model.EventSessionStatusChange,
				Payload:    model.SessionStatusPayload{From: model.FlagGreen, To: model.FlagRed, Lap: 12},
				DetectedAt: time.Now(),
			}
			w.Add(ctx, crit, model.TierCritical)

			convey.Convey("Then every pending event flushes", func() {
				convey.So(w.Pending(), convey.ShouldEqual, 0)
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 3)
				convey.So(got[2].ev.Kind, convey.ShouldEqual, model.EventSessionStatusChange)
			})
		})
	})
}

func TestWindowDeadlineFlush(t *testing.T) {
	convey.Convey("Given a running window with a short batch deadline", t, func() {
		next := &captureNext{}
		budgets := priority.NewBudgets(
			priority.WithWindow(model.TierMedium, 20*time.Millisecond),
		)
		w := window.New(budgets, next)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When an event is added and the deadline elapses", func() {
			w.Add(ctx, gapEvent(1, "lec", "ham", -0.2, 1.0), model.TierMedium)

			deadline := time.Now().Add(time.Second)
			for w.Pending() > 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}

			convey.Convey("Then the event reaches the next stage on its own", func() {
				convey.So(w.Pending(), convey.ShouldEqual, 0)
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 1)
				convey.So(got[0].ev.Kind, convey.ShouldEqual, model.EventGapChange)
			})
		})
	})
}

func TestWindowFlushAllOrdering(t *testing.T) {
	convey.Convey("Given several pending events added out of key order", t, func() {
		next := &captureNext{}
		w := window.New(holdBudgets(), next)
		ctx := context.Background()

		w.Add(ctx, gapEvent(5, "nor", "pia", -0.1, 0.8), model.TierMedium)
		w.Add(ctx, gapEvent(2, "lec", "ham", -0.2, 1.0), model.TierMedium)
		w.Add(ctx, gapEvent(9, "alo", "str", -0.3, 2.1), model.TierMedium)

		convey.Convey("When everything is flushed at once", func() {
			w.FlushAll(ctx)

			convey.Convey("Then events leave in sequence order", func() {
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 3)
				convey.So(got[0].ev.Sequence, convey.ShouldEqual, 2)
				convey.So(got[1].ev.Sequence, convey.ShouldEqual, 5)
				convey.So(got[2].ev.Sequence, convey.ShouldEqual, 9)
			})
		})
	})
}

func TestWindowClose(t *testing.T) {
	convey.Convey("Given a closed window", t, func() {
		next := &captureNext{}
		w := window.New(holdBudgets(), next)
		ctx := context.Background()

		w.Close()
		w.Close() // idempotent

		convey.Convey("When a late event arrives", func() {
			w.Add(ctx, gapEvent(1, "lec", "ham", -0.2, 1.0), model.TierMedium)

			convey.Convey("Then it passes straight through without batching", func() {
				convey.So(w.Pending(), convey.ShouldEqual, 0)
				got := next.all()
				convey.So(got, convey.ShouldHaveLength, 1)
			})
		})
	})
}
