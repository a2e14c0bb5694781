package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	service "github.com/okian/stint/internal/app"
	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/domain/priority"
	"github.com/okian/stint/internal/pipeline/sink"
	. "github.com/smartystreets/goconvey/convey"
)

// captureSink collects every published event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []model.EnrichedRaceEvent
}

func (c *captureSink) Publish(_ context.Context, ev model.EnrichedRaceEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) all() []model.EnrichedRaceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.EnrichedRaceEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureSink) byKind(kind model.EventKind) []model.EnrichedRaceEvent {
	var out []model.EnrichedRaceEvent
	for _, ev := range c.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// testBudgets shrinks the batching windows so tests stay fast.
func testBudgets() *priority.Budgets {
	return priority.NewBudgets(
		priority.WithWindow(model.TierHigh, 20*time.Millisecond),
		priority.WithWindow(model.TierMedium, 30*time.Millisecond),
		priority.WithWindow(model.TierLow, 40*time.Millisecond),
	)
}

func startTestService(t *testing.T, out sink.Sink) (*service.Service, context.Context) {
	t.Helper()
	svc := service.New(
		service.WithBudgets(testBudgets()),
		service.WithSink(out),
	)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("failed to start service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc, ctx
}

func positionUpdate(session, driver string, pos int, gap float64) *model.Update {
	g := gap
	return &model.Update{
		SessionKey: session,
		DriverID:   driver,
		Kind:       model.UpdatePosition,
		ObservedAt: time.Now(),
		Position:   &model.PositionUpdate{Position: pos, GapToLeader: &g},
	}
}

func TestPipeline_OvertakeDetection(t *testing.T) {
	Convey("Given a session with three drivers on track", t, func() {
		out := &captureSink{}
		svc, ctx := startTestService(t, out)
		So(svc.BeginSession(ctx, "race", 50), ShouldBeNil)

		// Baselines: first sight of a driver never produces an event.
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ver", 1, 0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, 1.5)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "lec", 3, 3.0)), ShouldBeNil)

		Convey("When a driver gains a position", func() {
			So(svc.SubmitUpdate(ctx, positionUpdate("race", "lec", 2, 1.2)), ShouldBeNil)
			ham, hamErr := svc.Driver(ctx, "race", "ham")
			So(svc.TeardownSession(ctx, "race"), ShouldBeNil)

			Convey("Then exactly one overtake is emitted for the displaced pair", func() {
				overtakes := out.byKind(model.EventOvertake)
				So(overtakes, ShouldHaveLength, 1)
				So(overtakes[0].Subjects, ShouldResemble, []string{"lec", "ham"})

				payload, ok := overtakes[0].Payload.(model.OvertakePayload)
				So(ok, ShouldBeTrue)
				So(payload.FromPosition, ShouldEqual, 3)
				So(payload.ToPosition, ShouldEqual, 2)
				So(payload.OvertakenDriver, ShouldEqual, "ham")
			})

			Convey("And the displaced driver's snapshot was corrected", func() {
				So(hamErr, ShouldBeNil)
				So(ham.Position, ShouldEqual, 3)
			})

			Convey("And enrichment carries session and driver context", func() {
				overtakes := out.byKind(model.EventOvertake)
				So(overtakes, ShouldHaveLength, 1)
				So(overtakes[0].SessionContext.SessionKey, ShouldEqual, "race")
				So(overtakes[0].DriverContext, ShouldContainKey, "lec")
				So(overtakes[0].DriverContext, ShouldContainKey, "ham")
			})
		})

		Convey("When a driver jumps several positions", func() {
			So(svc.SubmitUpdate(ctx, positionUpdate("race", "lec", 1, 0)), ShouldBeNil)
			So(svc.TeardownSession(ctx, "race"), ShouldBeNil)

			Convey("Then one overtake per displaced driver is emitted", func() {
				overtakes := out.byKind(model.EventOvertake)
				So(overtakes, ShouldHaveLength, 2)
			})
		})
	})
}

func TestPipeline_PitStopSuppression(t *testing.T) {
	Convey("Given a session where the leader pits", t, func() {
		out := &captureSink{}
		svc, ctx := startTestService(t, out)
		So(svc.BeginSession(ctx, "race", 50), ShouldBeNil)

		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ver", 1, 0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, 1.5)), ShouldBeNil)

		So(svc.SubmitUpdate(ctx, &model.Update{
			SessionKey: "race",
			DriverID:   "ver",
			Kind:       model.UpdatePit,
			ObservedAt: time.Now(),
			Pit:        &model.PitUpdate{Entry: true},
		}), ShouldBeNil)

		Convey("When the second driver inherits the lead", func() {
			So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 1, 0)), ShouldBeNil)
			ver, verErr := svc.Driver(ctx, "race", "ver")
			So(svc.TeardownSession(ctx, "race"), ShouldBeNil)

			Convey("Then a pit stop event is emitted but no overtake", func() {
				So(out.byKind(model.EventPitStop), ShouldHaveLength, 1)
				So(out.byKind(model.EventOvertake), ShouldBeEmpty)
			})

			Convey("And the pit stop counted toward the driver's total", func() {
				So(verErr, ShouldBeNil)
				So(ver.PitStops, ShouldEqual, 1)
				So(ver.InPit, ShouldBeTrue)
			})
		})
	})
}

func TestPipeline_GapChangeMerging(t *testing.T) {
	Convey("Given a session with two drivers in a close fight", t, func() {
		out := &captureSink{}
		svc, ctx := startTestService(t, out)
		So(svc.BeginSession(ctx, "race", 50), ShouldBeNil)

		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ver", 1, 0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, 3.0)), ShouldBeNil)

		Convey("When the chasing driver closes the gap in quick steps", func() {
			for _, gap := range []float64{2.5, 2.0, 1.5, 1.0, 0.5} {
				So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, gap)), ShouldBeNil)
			}
			So(svc.TeardownSession(ctx, "race"), ShouldBeNil)

			Convey("Then the window merges them into a single gap change", func() {
				gaps := out.byKind(model.EventGapChange)
				So(gaps, ShouldHaveLength, 1)

				payload, ok := gaps[0].Payload.(model.GapChangePayload)
				So(ok, ShouldBeTrue)
				So(payload.Delta, ShouldAlmostEqual, -2.5, 0.0001)
				So(payload.Gap, ShouldAlmostEqual, 0.5, 0.0001)
				So(payload.Updates, ShouldEqual, 5)
				So(payload.Closing(), ShouldBeTrue)
			})
		})
	})
}

func TestPipeline_CriticalBypass(t *testing.T) {
	Convey("Given a session with pending low-priority events", t, func() {
		out := &captureSink{}
		svc, ctx := startTestService(t, out)
		So(svc.BeginSession(ctx, "race", 50), ShouldBeNil)

		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ver", 1, 0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, 3.0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, 2.0)), ShouldBeNil)

		Convey("When a red flag arrives", func() {
			So(svc.SubmitUpdate(ctx, &model.Update{
				SessionKey: "race",
				Kind:       model.UpdateFlag,
				ObservedAt: time.Now(),
				Flag:       &model.FlagUpdate{Flag: model.FlagRed, CurrentLap: 12},
			}), ShouldBeNil)
			So(svc.TeardownSession(ctx, "race"), ShouldBeNil)

			Convey("Then the status change is emitted as CRITICAL", func() {
				status := out.byKind(model.EventSessionStatusChange)
				So(status, ShouldHaveLength, 1)
				So(status[0].Priority, ShouldEqual, model.TierCritical)
			})

			Convey("And the pending gap change is flushed, not lost", func() {
				So(out.byKind(model.EventGapChange), ShouldHaveLength, 1)
			})
		})
	})
}

func TestPipeline_SequenceDiscipline(t *testing.T) {
	Convey("Given a busy session", t, func() {
		out := &captureSink{}
		svc, ctx := startTestService(t, out)
		So(svc.BeginSession(ctx, "race", 50), ShouldBeNil)

		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ver", 1, 0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, 2.0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "lec", 3, 4.0)), ShouldBeNil)

		// A mix of overtakes, pits, laps and weather.
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "lec", 2, 1.0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, &model.Update{
			SessionKey: "race",
			DriverID:   "ham",
			Kind:       model.UpdatePit,
			ObservedAt: time.Now(),
			Pit:        &model.PitUpdate{Entry: true},
		}), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, &model.Update{
			SessionKey: "race",
			DriverID:   "ver",
			Kind:       model.UpdateLap,
			ObservedAt: time.Now(),
			Lap:        &model.LapUpdate{Lap: 10, LapTime: 92 * time.Second, Compound: model.CompoundMedium, TireAge: 8},
		}), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, &model.Update{
			SessionKey: "race",
			Kind:       model.UpdateWeather,
			ObservedAt: time.Now(),
			Weather:    &model.WeatherUpdate{TrackTemp: 30, Rainfall: true},
		}), ShouldBeNil)

		Convey("When the session is torn down", func() {
			So(svc.TeardownSession(ctx, "race"), ShouldBeNil)

			Convey("Then no sequence number is emitted twice", func() {
				events := out.all()
				So(len(events), ShouldBeGreaterThan, 0)

				seen := make(map[uint64]bool, len(events))
				for _, ev := range events {
					So(seen[ev.Sequence], ShouldBeFalse)
					seen[ev.Sequence] = true
				}
			})

			Convey("And emission stamps never precede detection stamps", func() {
				for _, ev := range out.all() {
					So(ev.EmittedAt.Before(ev.DetectedAt), ShouldBeFalse)
				}
			})
		})
	})
}

func TestPipeline_IdempotentReplay(t *testing.T) {
	Convey("Given a session that has already seen an update", t, func() {
		out := &captureSink{}
		svc, ctx := startTestService(t, out)
		So(svc.BeginSession(ctx, "race", 50), ShouldBeNil)

		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ver", 1, 0)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 2, 1.5)), ShouldBeNil)
		So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 1, 0)), ShouldBeNil)

		Convey("When the same update is replayed", func() {
			So(svc.SubmitUpdate(ctx, positionUpdate("race", "ham", 1, 0)), ShouldBeNil)
			So(svc.TeardownSession(ctx, "race"), ShouldBeNil)

			Convey("Then no second overtake is produced", func() {
				So(out.byKind(model.EventOvertake), ShouldHaveLength, 1)
			})
		})
	})
}
