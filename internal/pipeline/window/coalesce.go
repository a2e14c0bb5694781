package window

import "github.com/okian/stint/internal/domain/model"

// coalesce resolves two events sharing a dedup key into one pending
// event. The newcomer replaces the holder when it is strictly more
// significant by the kind-specific ordering; events of equal severity are
// merged into an aggregate payload. Returns the surviving event and
// whether the newcomer replaced the holder outright.
func coalesce(old, incoming *model.RaceEvent) (model.RaceEvent, bool) {
	switch incoming.Kind {
	case model.EventGapChange:
		op, okOld := old.Payload.(model.GapChangePayload)
		np, okNew := incoming.Payload.(model.GapChangePayload)
		if !okOld || !okNew {
			return *incoming, true
		}
		merged := *incoming
		merged.Payload = model.GapChangePayload{
			Ahead:   np.Ahead,
			Delta:   op.Delta + np.Delta,
			Gap:     np.Gap,
			Updates: op.Updates + np.Updates,
		}
		return merged, false

	case model.EventWeatherChange:
		op, okOld := old.Payload.(model.WeatherChangePayload)
		np, okNew := incoming.Payload.(model.WeatherChangePayload)
		if !okOld || !okNew {
			return *incoming, true
		}
		merged := *incoming
		merged.Payload = model.WeatherChangePayload{
			TrackTemp:       np.TrackTemp,
			TempDelta:       op.TempDelta + np.TempDelta,
			Rainfall:        np.Rainfall,
			RainfallChanged: op.RainfallChanged || np.RainfallChanged,
		}
		return merged, false

	case model.EventOvertake:
		op, okOld := old.Payload.(model.OvertakePayload)
		np, okNew := incoming.Payload.(model.OvertakePayload)
		if okOld && okNew {
			// A larger position jump is strictly more significant.
			if np.FromPosition-np.ToPosition < op.FromPosition-op.ToPosition {
				return *old, false
			}
		}
		return *incoming, true

	case model.EventFastestLap:
		op, okOld := old.Payload.(model.FastestLapPayload)
		np, okNew := incoming.Payload.(model.FastestLapPayload)
		if okOld && okNew && np.LapTime >= op.LapTime && !np.SessionBest {
			return *old, false
		}
		return *incoming, true

	default:
		// Latest observation supersedes for all remaining kinds.
		return *incoming, true
	}
}
