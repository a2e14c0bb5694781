package service_test

import (
	"context"
	"testing"
	"time"

	repository "github.com/okian/stint/internal/adapters/repository"
	service "github.com/okian/stint/internal/app"
	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/internal/pipeline/sched"
	"github.com/okian/stint/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithSchedulerCapacity(500),
			service.WithDropPolicy(sched.DropLowTierOnly),
			service.WithEnrichTimeout(50*time.Millisecond),
			service.WithGapThreshold(0.5),
			service.WithTempThreshold(3.0),
			service.WithShardCount(2),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New()
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
			})

			Convey("And starting twice should be a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})
	})

	Convey("Given a started service", t, func() {
		svc := service.New()
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
			})

			Convey("And stopping twice should be a no-op", func() {
				svc.Stop()
			})
		})
	})
}

func TestService_Sessions(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New()
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When beginning a session", func() {
			err := svc.BeginSession(ctx, "2024-monza-race", 53)

			Convey("Then it should be listed and readable", func() {
				So(err, ShouldBeNil)
				So(svc.Sessions(ctx), ShouldResemble, []string{"2024-monza-race"})

				sess, err := svc.Session(ctx, "2024-monza-race")
				So(err, ShouldBeNil)
				So(sess.TotalLaps, ShouldEqual, 53)
				So(sess.Flag, ShouldEqual, model.FlagGreen)
				So(sess.Closed, ShouldBeFalse)
			})

			Convey("And beginning it again should conflict", func() {
				err := svc.BeginSession(ctx, "2024-monza-race", 53)
				So(err, ShouldWrap, service.ErrSessionExists)
			})
		})

		Convey("When tearing down a session", func() {
			So(svc.BeginSession(ctx, "2024-spa-race", 44), ShouldBeNil)
			err := svc.TeardownSession(ctx, "2024-spa-race")

			Convey("Then it should disappear from the active list", func() {
				So(err, ShouldBeNil)
				So(svc.Sessions(ctx), ShouldBeEmpty)
			})

			Convey("And the session snapshot should remain readable as closed", func() {
				sess, serr := svc.Session(ctx, "2024-spa-race")
				So(serr, ShouldBeNil)
				So(sess.Closed, ShouldBeTrue)
			})

			Convey("And updates for it should be rejected", func() {
				gap := 0.0
				err := svc.SubmitUpdate(ctx, &model.Update{
					SessionKey: "2024-spa-race",
					DriverID:   "ver",
					Kind:       model.UpdatePosition,
					ObservedAt: time.Now(),
					Position:   &model.PositionUpdate{Position: 1, GapToLeader: &gap},
				})
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When tearing down an unknown session", func() {
			err := svc.TeardownSession(ctx, "no-such-session")
			So(err, ShouldWrap, repository.ErrSessionNotFound)
		})
	})
}

func TestService_SubmitUpdateErrors(t *testing.T) {
	Convey("Given a started service with one session", t, func() {
		svc := service.New()
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		So(svc.BeginSession(ctx, "s1", 10), ShouldBeNil)

		Convey("When submitting for an unknown session", func() {
			gap := 0.0
			err := svc.SubmitUpdate(ctx, &model.Update{
				SessionKey: "other",
				DriverID:   "ver",
				Kind:       model.UpdatePosition,
				ObservedAt: time.Now(),
				Position:   &model.PositionUpdate{Position: 1, GapToLeader: &gap},
			})

			Convey("Then it should report session not found", func() {
				So(err, ShouldWrap, repository.ErrSessionNotFound)
			})
		})

		Convey("When submitting an invalid update", func() {
			err := svc.SubmitUpdate(ctx, &model.Update{
				SessionKey: "s1",
				Kind:       model.UpdatePosition,
				ObservedAt: time.Now(),
			})

			Convey("Then it should report an invalid update", func() {
				So(err, ShouldWrap, model.ErrInvalidUpdate)
			})
		})
	})

	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then session creation should fail", func() {
			So(svc.BeginSession(context.Background(), "s1", 10), ShouldEqual, service.ErrNotStarted)
		})
	})
}
