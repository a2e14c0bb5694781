// Package detect turns raw timing updates into typed race events by
// diffing them against the snapshot store.
package detect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/okian/stint/internal/adapters/repository"
	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/metrics"
)

// Default detection thresholds.
const (
	defaultGapThreshold  = 0.3 // seconds of gap movement worth reporting
	defaultTempThreshold = 2.0 // celsius swing worth reporting
)

// Detector consumes raw updates for a single session and emits race
// events. It must be driven by exactly one goroutine at a time: updates
// are diffed against the snapshot it also writes, so arrival order is
// load-bearing for sequence-number monotonicity.
type Detector struct {
	session string
	store   repository.Store
	seq     atomic.Uint64

	gapThreshold  float64
	tempThreshold float64
}

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithGapThreshold sets the minimum gap movement, in seconds, that
// produces a GapChange event.
func WithGapThreshold(seconds float64) Option {
	return func(d *Detector) {
		if seconds > 0 {
			d.gapThreshold = seconds
		}
	}
}

// WithTempThreshold sets the minimum track temperature swing, in celsius,
// that produces a WeatherChange event.
func WithTempThreshold(celsius float64) Option {
	return func(d *Detector) {
		if celsius > 0 {
			d.tempThreshold = celsius
		}
	}
}

// New creates a detector for one session backed by the given store.
func New(session string, store repository.Store, opts ...Option) *Detector {
	d := &Detector{
		session:       session,
		store:         store,
		gapThreshold:  defaultGapThreshold,
		tempThreshold: defaultTempThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LastSequence returns the most recently issued sequence number.
func (d *Detector) LastSequence() uint64 { return d.seq.Load() }

// Process diffs one raw update against the snapshot store and returns the
// race events the delta justifies, possibly none. The store is always
// brought up to date before returning, even when nothing is emitted.
// Malformed updates fail with model.ErrInvalidUpdate and leave the store
// untouched; unknown sessions fail with repository.ErrSessionNotFound.
func (d *Detector) Process(ctx context.Context, u *model.Update) ([]model.RaceEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDetectLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if err := u.Validate(); err != nil {
		metrics.RecordUpdateRejected(string(u.Kind), "invalid")
		return nil, err
	}
	if u.SessionKey != d.session {
		metrics.RecordUpdateRejected(string(u.Kind), "wrong_session")
		return nil, fmt.Errorf("update for %s on detector for %s: %w", u.SessionKey, d.session, model.ErrInvalidUpdate)
	}

	sess, err := d.store.GetSession(ctx, d.session)
	if err != nil {
		metrics.RecordUpdateRejected(string(u.Kind), "session_not_found")
		return nil, err
	}
	if sess.Closed {
		metrics.RecordUpdateRejected(string(u.Kind), "session_closed")
		return nil, fmt.Errorf("update for %s: %w", d.session, repository.ErrSessionClosed)
	}

	metrics.RecordUpdateReceived(string(u.Kind))

	var events []model.RaceEvent
	switch u.Kind {
	case model.UpdatePosition:
		events, err = d.processPosition(ctx, u)
	case model.UpdateLap:
		events, err = d.processLap(ctx, u, sess)
	case model.UpdatePit:
		events, err = d.processPit(ctx, u)
	case model.UpdateWeather:
		events, err = d.processWeather(ctx, u, sess)
	case model.UpdateFlag:
		events, err = d.processFlag(ctx, u, sess)
	}
	if err != nil {
		return nil, err
	}

	for i := range events {
		metrics.RecordEventDetected(string(events[i].Kind))
	}
	if len(events) == 0 {
		metrics.RecordEventSuppressed(string(u.Kind))
	}
	return events, nil
}

// newEvent stamps a fresh sequence number onto a detected event.
func (d *Detector) newEvent(kind model.EventKind, subjects []string, payload any, at time.Time) model.RaceEvent {
	return model.RaceEvent{
		Sequence:   d.seq.Add(1),
		SessionKey: d.session,
		Kind:       kind,
		Subjects:   subjects,
		Payload:    payload,
		DetectedAt: at,
	}
}

// processPosition handles running-order updates: overtakes at the gainer's
// end, retirement incidents, DRS activation, and gap movement.
func (d *Detector) processPosition(ctx context.Context, u *model.Update) ([]model.RaceEvent, error) {
	p := u.Position
	prev, err := d.store.Get(ctx, d.session, u.DriverID)
	if errors.Is(err, repository.ErrDriverNotFound) {
		// First sight of this driver: record the baseline, emit nothing.
		return nil, d.store.Upsert(ctx, d.session, model.DriverState{
			DriverID:    u.DriverID,
			Position:    p.Position,
			GapToLeader: p.GapToLeader,
			Retired:     p.Retired,
			DRSActive:   p.DRSActive,
			UpdatedAt:   u.ObservedAt,
		})
	}
	if err != nil {
		return nil, err
	}

	var events []model.RaceEvent

	next := prev
	next.DRSActive = p.DRSActive
	next.UpdatedAt = u.ObservedAt

	switch {
	case p.Retired && !prev.Retired:
		events = append(events, d.newEvent(model.EventIncident, []string{u.DriverID}, model.IncidentPayload{
			Description:  "retired",
			LastPosition: prev.Position,
		}, u.ObservedAt))
		next.Retired = true
		next.GapToLeader = nil

	case !p.Retired && p.Position < prev.Position:
		// Driver moved up: one overtake per displaced pair. A pass is
		// suppressed when the displaced driver's own pit stop explains it,
		// but the displaced snapshot position is corrected either way.
		overtakes, displaceErr := d.displace(ctx, u, prev.Position)
		if displaceErr != nil {
			return nil, displaceErr
		}
		events = append(events, overtakes...)
		next.Position = p.Position
		next.GapToLeader = p.GapToLeader

	case !p.Retired && p.Position > prev.Position:
		// Dropping places never emits at the loser's end; the gainers'
		// updates carry the overtakes. A drop into the pit window or
		// retirement is expected and silent.
		next.Position = p.Position
		next.GapToLeader = p.GapToLeader

	default:
		// Same position: look for gap movement worth reporting.
		next.GapToLeader = p.GapToLeader
		if !prev.Retired && prev.GapToLeader != nil && p.GapToLeader != nil {
			delta := *p.GapToLeader - *prev.GapToLeader
			if math.Abs(delta) >= d.gapThreshold && prev.Position > 1 {
				ahead, aheadErr := d.driverAt(ctx, prev.Position-1)
				if aheadErr == nil {
					events = append(events, d.newEvent(model.EventGapChange, []string{u.DriverID, ahead.DriverID}, model.GapChangePayload{
						Ahead:   ahead.DriverID,
						Delta:   delta,
						Gap:     *p.GapToLeader,
						Updates: 1,
					}, u.ObservedAt))
				}
			}
		}
	}

	if p.DRSActive && !prev.DRSActive && !p.Retired {
		events = append(events, d.newEvent(model.EventDRSActivation, []string{u.DriverID}, model.DRSActivationPayload{
			Position: next.Position,
		}, u.ObservedAt))
	}

	if err := d.store.Upsert(ctx, d.session, next); err != nil {
		return nil, err
	}
	return events, nil
}

// displace walks the positions the gainer moved through, shifting each
// occupant down one place. u.Position.Position is the gainer's new slot.
func (d *Detector) displace(ctx context.Context, u *model.Update, fromPos int) ([]model.RaceEvent, error) {
	var events []model.RaceEvent
	toPos := u.Position.Position

	for pos := fromPos - 1; pos >= toPos; pos-- {
		occ, err := d.driverAt(ctx, pos)
		if err != nil {
			// No snapshot occupies this slot; nothing to displace.
			continue
		}
		if occ.DriverID == u.DriverID {
			continue
		}

		// Suppress when the pass is explained by the displaced driver's own
		// pit stop or retirement in the same tick.
		if !occ.InPit && !occ.Retired {
			events = append(events, d.newEvent(model.EventOvertake, []string{u.DriverID, occ.DriverID}, model.OvertakePayload{
				FromPosition:    pos + 1,
				ToPosition:      pos,
				OvertakenDriver: occ.DriverID,
			}, u.ObservedAt))
		}

		occ.Position = pos + 1
		occ.UpdatedAt = u.ObservedAt
		if err := d.store.Upsert(ctx, d.session, occ); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// driverAt finds the active driver currently holding a position.
func (d *Detector) driverAt(ctx context.Context, pos int) (model.DriverState, error) {
	drivers, err := d.store.Drivers(ctx, d.session)
	if err != nil {
		return model.DriverState{}, err
	}
	for _, st := range drivers {
		if st.Position == pos && !st.Retired {
			return st, nil
		}
	}
	return model.DriverState{}, fmt.Errorf("position %d: %w", pos, repository.ErrDriverNotFound)
}

// processLap handles completed laps: personal and session bests.
func (d *Detector) processLap(ctx context.Context, u *model.Update, sess model.SessionState) ([]model.RaceEvent, error) {
	l := u.Lap
	prev, err := d.store.Get(ctx, d.session, u.DriverID)
	if errors.Is(err, repository.ErrDriverNotFound) {
		return nil, d.store.Upsert(ctx, d.session, model.DriverState{
			DriverID:  u.DriverID,
			Lap:       l.Lap,
			Compound:  l.Compound,
			TireAge:   l.TireAge,
			BestLap:   l.LapTime,
			UpdatedAt: u.ObservedAt,
		})
	}
	if err != nil {
		return nil, err
	}

	var events []model.RaceEvent

	personalBest := prev.BestLap > 0 && l.LapTime < prev.BestLap
	sessionBest := sess.BestLap > 0 && l.LapTime < sess.BestLap
	if personalBest || sessionBest {
		events = append(events, d.newEvent(model.EventFastestLap, []string{u.DriverID}, model.FastestLapPayload{
			LapTime:     l.LapTime,
			Lap:         l.Lap,
			SessionBest: sessionBest,
		}, u.ObservedAt))
	}

	next := prev
	next.Lap = l.Lap
	next.TireAge = l.TireAge
	if l.Compound != "" {
		next.Compound = l.Compound
	}
	if prev.BestLap == 0 || l.LapTime < prev.BestLap {
		next.BestLap = l.LapTime
	}
	next.UpdatedAt = u.ObservedAt
	if err := d.store.Upsert(ctx, d.session, next); err != nil {
		return nil, err
	}

	if sess.BestLap == 0 || l.LapTime < sess.BestLap {
		sess.BestLap = l.LapTime
	}
	if l.Lap > sess.CurrentLap {
		sess.CurrentLap = l.Lap
	}
	sess.UpdatedAt = u.ObservedAt
	if err := d.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return events, nil
}

// processPit handles pit lane entry and exit.
func (d *Detector) processPit(ctx context.Context, u *model.Update) ([]model.RaceEvent, error) {
	prev, err := d.store.Get(ctx, d.session, u.DriverID)
	if errors.Is(err, repository.ErrDriverNotFound) {
		return nil, d.store.Upsert(ctx, d.session, model.DriverState{
			DriverID:  u.DriverID,
			InPit:     u.Pit.Entry,
			UpdatedAt: u.ObservedAt,
		})
	}
	if err != nil {
		return nil, err
	}

	var events []model.RaceEvent
	next := prev
	next.UpdatedAt = u.ObservedAt

	switch {
	case u.Pit.Entry && !prev.InPit:
		next.InPit = true
		next.PitStops = prev.PitStops + 1
		events = append(events, d.newEvent(model.EventPitStop, []string{u.DriverID}, model.PitStopPayload{
			Stop: next.PitStops,
			Lap:  prev.Lap,
		}, u.ObservedAt))
	case u.Pit.Entry && prev.InPit:
		// Duplicate pit entry: suppressed.
	case !u.Pit.Entry:
		next.InPit = false
	}

	if err := d.store.Upsert(ctx, d.session, next); err != nil {
		return nil, err
	}
	return events, nil
}

// processWeather handles rainfall flips and temperature swings.
func (d *Detector) processWeather(ctx context.Context, u *model.Update, sess model.SessionState) ([]model.RaceEvent, error) {
	w := u.Weather

	// The first report records the baseline silently: a fresh session
	// carries no observed weather, so there is nothing to diff against.
	var events []model.RaceEvent
	if sess.WeatherObserved {
		tempDelta := w.TrackTemp - sess.TrackTemp
		rainFlip := w.Rainfall != sess.Rainfall
		if rainFlip || math.Abs(tempDelta) >= d.tempThreshold {
			events = append(events, d.newEvent(model.EventWeatherChange, nil, model.WeatherChangePayload{
				TrackTemp:       w.TrackTemp,
				TempDelta:       tempDelta,
				Rainfall:        w.Rainfall,
				RainfallChanged: rainFlip,
			}, u.ObservedAt))
		}
	}

	sess.TrackTemp = w.TrackTemp
	sess.Rainfall = w.Rainfall
	sess.WeatherObserved = true
	sess.UpdatedAt = u.ObservedAt
	if err := d.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return events, nil
}

// processFlag handles session flag transitions.
func (d *Detector) processFlag(ctx context.Context, u *model.Update, sess model.SessionState) ([]model.RaceEvent, error) {
	f := u.Flag

	var events []model.RaceEvent
	if f.Flag != sess.Flag {
		events = append(events, d.newEvent(model.EventSessionStatusChange, nil, model.SessionStatusPayload{
			From: sess.Flag,
			To:   f.Flag,
			Lap:  sess.CurrentLap,
		}, u.ObservedAt))
		sess.Flag = f.Flag
	}
	if f.CurrentLap > sess.CurrentLap {
		sess.CurrentLap = f.CurrentLap
	}
	sess.UpdatedAt = u.ObservedAt
	if err := d.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return events, nil
}
