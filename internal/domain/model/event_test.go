package model_test

import (
	"testing"
	"time"

	model "github.com/okian/stint/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestRaceEvent(t *testing.T) {
	convey.Convey("Given a race event", t, func() {
		ev := model.RaceEvent{
			Sequence:   7,
			SessionKey: "2024-monaco-race",
			Kind:       model.EventOvertake,
			Subjects:   []string{"ver", "ham"},
			Payload: model.OvertakePayload{
				FromPosition:    3,
				ToPosition:      2,
				OvertakenDriver: "ham",
			},
			DetectedAt: time.Now(),
		}

		convey.Convey("Then Primary and Secondary expose the subjects", func() {
			convey.So(ev.Primary(), convey.ShouldEqual, "ver")
			convey.So(ev.Secondary(), convey.ShouldEqual, "ham")
		})

		convey.Convey("When the event has no subjects", func() {
			weather := model.RaceEvent{Kind: model.EventWeatherChange}

			convey.Convey("Then Primary and Secondary are empty", func() {
				convey.So(weather.Primary(), convey.ShouldEqual, "")
				convey.So(weather.Secondary(), convey.ShouldEqual, "")
			})
		})
	})
}

func TestTierRank(t *testing.T) {
	convey.Convey("Given the priority tiers", t, func() {
		convey.Convey("Then ranks order CRITICAL before LOW", func() {
			convey.So(model.TierCritical.Rank(), convey.ShouldBeLessThan, model.TierHigh.Rank())
			convey.So(model.TierHigh.Rank(), convey.ShouldBeLessThan, model.TierMedium.Rank())
			convey.So(model.TierMedium.Rank(), convey.ShouldBeLessThan, model.TierLow.Rank())
		})
	})
}

func TestGapChangePayload(t *testing.T) {
	convey.Convey("Given gap change payloads", t, func() {
		convey.Convey("When the gap shrinks", func() {
			p := model.GapChangePayload{Delta: -0.6}
			convey.So(p.Closing(), convey.ShouldBeTrue)
		})

		convey.Convey("When the gap grows", func() {
			p := model.GapChangePayload{Delta: 0.6}
			convey.So(p.Closing(), convey.ShouldBeFalse)
		})
	})
}

func TestUpdateValidate(t *testing.T) {
	convey.Convey("Given raw feed updates", t, func() {
		now := time.Now()
		gap := 1.2

		convey.Convey("When a position update is complete", func() {
			u := model.Update{
				SessionKey: "s1",
				DriverID:   "ver",
				Kind:       model.UpdatePosition,
				ObservedAt: now,
				Position:   &model.PositionUpdate{Position: 3, GapToLeader: &gap},
			}
			convey.So(u.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When required fields are missing", func() {
			cases := []model.Update{
				{},
				{SessionKey: "s1"},
				{SessionKey: "s1", Kind: model.UpdatePosition, ObservedAt: now},
				{SessionKey: "s1", DriverID: "ver", Kind: model.UpdatePosition, ObservedAt: now},
				{SessionKey: "s1", DriverID: "ver", Kind: model.UpdateLap, ObservedAt: now},
				{SessionKey: "s1", Kind: model.UpdateWeather, ObservedAt: now},
				{SessionKey: "s1", Kind: model.UpdateFlag, ObservedAt: now},
				{SessionKey: "s1", Kind: "telemetry", ObservedAt: now},
			}
			for _, u := range cases {
				err := u.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err, convey.ShouldWrap, model.ErrInvalidUpdate)
			}
		})

		convey.Convey("When a lap update carries a non-positive lap time", func() {
			u := model.Update{
				SessionKey: "s1",
				DriverID:   "ver",
				Kind:       model.UpdateLap,
				ObservedAt: now,
				Lap:        &model.LapUpdate{Lap: 10, LapTime: 0},
			}
			convey.So(u.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When a flag update carries an unknown flag", func() {
			u := model.Update{
				SessionKey: "s1",
				Kind:       model.UpdateFlag,
				ObservedAt: now,
				Flag:       &model.FlagUpdate{Flag: "PURPLE"},
			}
			convey.So(u.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When a retired position update has no position", func() {
			u := model.Update{
				SessionKey: "s1",
				DriverID:   "ver",
				Kind:       model.UpdatePosition,
				ObservedAt: now,
				Position:   &model.PositionUpdate{Retired: true},
			}
			convey.So(u.Validate(), convey.ShouldBeNil)
		})
	})
}
