package simfeed

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/logger"
)

// Lap time simulation constants.
const (
	baseLapTime      = 90 * time.Second
	lapTimeJitter    = 3 * time.Second
	tireAgePenalty   = 50 * time.Millisecond // per lap on the current set
	pitLaneLoss      = 22.0                  // seconds lost to a pit stop
	gapJitterSeconds = 0.8
)

// Race script probabilities per lap.
const (
	overtakeChance    = 0.35
	drsChance         = 0.25
	retirementChance  = 0.01
	yellowFlagChance  = 0.06
	safetyCarChance   = 0.02
	rainChance        = 0.04
	tempDriftMax      = 1.5
	firstPitWindowAt  = 0.3 // fraction of race distance
	secondPitWindowAt = 0.6
)

// carState tracks one simulated car between laps.
type carState struct {
	id       string
	position int
	gap      float64 // seconds behind the leader
	compound model.TireCompound
	tireAge  int
	pitted   int
	retired  bool
}

// generateRace scripts a full deterministic race as an ordered update feed.
// The same seed always produces the same script.
func generateRace(ctx context.Context, config *Config, stats *Stats) []model.Update {
	logger.Get().Info(ctx, "scripting synthetic race",
		logger.String("session", config.SessionKey),
		logger.Int("drivers", config.Drivers),
		logger.Int("laps", config.Laps),
		logger.Any("seed", config.Seed))

	rng := rand.New(rand.NewSource(config.Seed))
	now := time.Now().UTC()

	cars := make([]*carState, config.Drivers)
	for i := range cars {
		compound := model.CompoundMedium
		if rng.Float64() < 0.4 {
			compound = model.CompoundSoft
		}
		cars[i] = &carState{
			id:       uuid.New().String(),
			position: i + 1,
			gap:      float64(i) * 1.2,
			compound: compound,
		}
	}

	var updates []model.Update
	stamp := func() time.Time {
		now = now.Add(10 * time.Millisecond)
		return now
	}

	// Grid positions before lights out.
	for _, c := range cars {
		gap := c.gap
		updates = append(updates, model.Update{
			SessionKey: config.SessionKey,
			DriverID:   c.id,
			Kind:       model.UpdatePosition,
			ObservedAt: stamp(),
			Position:   &model.PositionUpdate{Position: c.position, GapToLeader: &gap},
		})
	}
	updates = append(updates, model.Update{
		SessionKey: config.SessionKey,
		Kind:       model.UpdateWeather,
		ObservedAt: stamp(),
		Weather:    &model.WeatherUpdate{TrackTemp: 32.0 + rng.Float64()*8},
	})

	trackTemp := 34.0
	raining := false
	flag := model.FlagGreen

	for lap := 1; lap <= config.Laps; lap++ {
		// Completed laps, fastest first on fresher tires.
		for _, c := range cars {
			if c.retired {
				continue
			}
			c.tireAge++
			lapTime := baseLapTime +
				time.Duration(rng.Int63n(int64(lapTimeJitter))) +
				time.Duration(c.tireAge)*tireAgePenalty
			updates = append(updates, model.Update{
				SessionKey: config.SessionKey,
				DriverID:   c.id,
				Kind:       model.UpdateLap,
				ObservedAt: stamp(),
				Lap: &model.LapUpdate{
					Lap:      lap,
					LapTime:  lapTime,
					Compound: c.compound,
					TireAge:  c.tireAge,
				},
			})
		}

		// Pit stops inside the two windows.
		progress := float64(lap) / float64(config.Laps)
		inWindow := (progress >= firstPitWindowAt && progress < firstPitWindowAt+0.1) ||
			(progress >= secondPitWindowAt && progress < secondPitWindowAt+0.1)
		if inWindow {
			for _, c := range cars {
				if c.retired || c.pitted >= wantedStops(progress) {
					continue
				}
				if rng.Float64() > 0.5 {
					continue
				}
				updates = append(updates, pitSequence(config.SessionKey, c, stamp)...)
			}
		}

		// Overtakes between adjacent cars.
		if rng.Float64() < overtakeChance && len(cars) > 1 {
			updates = append(updates, overtake(config.SessionKey, cars, rng, stamp)...)
		}

		// Mechanical retirements.
		if rng.Float64() < retirementChance {
			if c := randomRunning(cars, rng); c != nil {
				c.retired = true
				updates = append(updates, model.Update{
					SessionKey: config.SessionKey,
					DriverID:   c.id,
					Kind:       model.UpdatePosition,
					ObservedAt: stamp(),
					Position:   &model.PositionUpdate{Position: c.position, Retired: true},
				})
			}
		}

		// Gap drift for the field.
		for _, c := range cars {
			if c.retired || c.position == 1 {
				continue
			}
			c.gap += (rng.Float64() - 0.45) * gapJitterSeconds
			if c.gap < 0.1 {
				c.gap = 0.1
			}
			gap := c.gap
			drs := c.gap < 1.0 && rng.Float64() < drsChance
			updates = append(updates, model.Update{
				SessionKey: config.SessionKey,
				DriverID:   c.id,
				Kind:       model.UpdatePosition,
				ObservedAt: stamp(),
				Position:   &model.PositionUpdate{Position: c.position, GapToLeader: &gap, DRSActive: drs},
			})
		}

		// Weather drift.
		trackTemp += (rng.Float64() - 0.5) * tempDriftMax
		if rng.Float64() < rainChance {
			raining = !raining
		}
		updates = append(updates, model.Update{
			SessionKey: config.SessionKey,
			Kind:       model.UpdateWeather,
			ObservedAt: stamp(),
			Weather:    &model.WeatherUpdate{TrackTemp: trackTemp, Rainfall: raining},
		})

		// Flag phases.
		switch {
		case flag != model.FlagGreen:
			flag = model.FlagGreen
			updates = append(updates, flagUpdate(config.SessionKey, flag, lap, stamp))
		case rng.Float64() < safetyCarChance:
			flag = model.FlagSC
			updates = append(updates, flagUpdate(config.SessionKey, flag, lap, stamp))
		case rng.Float64() < yellowFlagChance:
			flag = model.FlagYellow
			updates = append(updates, flagUpdate(config.SessionKey, flag, lap, stamp))
		}
	}

	updates = append(updates, flagUpdate(config.SessionKey, model.FlagChequered, config.Laps, stamp))

	stats.UpdatesGenerated = len(updates)
	logger.Get().Info(ctx, "race script ready", logger.Int("updates", len(updates)))
	return updates
}

// wantedStops is how many stops a car should have made by this race fraction.
func wantedStops(progress float64) int {
	if progress >= secondPitWindowAt {
		return 2
	}
	return 1
}

// pitSequence scripts one stop: entry, stationary, exit on fresh tires.
func pitSequence(session string, c *carState, stamp func() time.Time) []model.Update {
	c.pitted++
	c.tireAge = 0
	switch c.compound {
	case model.CompoundSoft:
		c.compound = model.CompoundHard
	default:
		c.compound = model.CompoundMedium
	}
	c.gap += pitLaneLoss
	gap := c.gap

	return []model.Update{
		{
			SessionKey: session,
			DriverID:   c.id,
			Kind:       model.UpdatePit,
			ObservedAt: stamp(),
			Pit:        &model.PitUpdate{Entry: true},
		},
		{
			SessionKey: session,
			DriverID:   c.id,
			Kind:       model.UpdatePit,
			ObservedAt: stamp(),
			Pit:        &model.PitUpdate{Entry: false},
		},
		{
			SessionKey: session,
			DriverID:   c.id,
			Kind:       model.UpdatePosition,
			ObservedAt: stamp(),
			Position:   &model.PositionUpdate{Position: c.position, GapToLeader: &gap},
		},
	}
}

// overtake swaps a random adjacent running pair and reports the gainer first,
// the way a live timing feed does.
func overtake(session string, cars []*carState, rng *rand.Rand, stamp func() time.Time) []model.Update {
	idx := rng.Intn(len(cars) - 1)
	ahead, behind := cars[idx], cars[idx+1]
	if ahead.retired || behind.retired {
		return nil
	}

	ahead.position, behind.position = behind.position, ahead.position
	cars[idx], cars[idx+1] = behind, ahead
	behind.gap, ahead.gap = ahead.gap, ahead.gap+0.4

	gGain, gLose := behind.gap, ahead.gap
	return []model.Update{
		{
			SessionKey: session,
			DriverID:   behind.id,
			Kind:       model.UpdatePosition,
			ObservedAt: stamp(),
			Position:   &model.PositionUpdate{Position: behind.position, GapToLeader: &gGain},
		},
		{
			SessionKey: session,
			DriverID:   ahead.id,
			Kind:       model.UpdatePosition,
			ObservedAt: stamp(),
			Position:   &model.PositionUpdate{Position: ahead.position, GapToLeader: &gLose},
		},
	}
}

func randomRunning(cars []*carState, rng *rand.Rand) *carState {
	running := make([]*carState, 0, len(cars))
	for _, c := range cars {
		if !c.retired {
			running = append(running, c)
		}
	}
	if len(running) < 2 {
		return nil
	}
	// Never retire the leader; keeps the script readable.
	c := running[1+rng.Intn(len(running)-1)]
	return c
}

func flagUpdate(session string, flag model.FlagStatus, lap int, stamp func() time.Time) model.Update {
	return model.Update{
		SessionKey: session,
		Kind:       model.UpdateFlag,
		ObservedAt: stamp(),
		Flag:       &model.FlagUpdate{Flag: flag, CurrentLap: lap},
	}
}
