package model

import "time"

// UpdateKind discriminates raw feed updates.
type UpdateKind string

// Raw update kinds accepted from the upstream timing feed.
const (
	UpdatePosition UpdateKind = "position"
	UpdateLap      UpdateKind = "lap"
	UpdatePit      UpdateKind = "pit"
	UpdateWeather  UpdateKind = "weather"
	UpdateFlag     UpdateKind = "flag"
)

// Update is a single raw record from the upstream feed. Exactly one of the
// payload pointers matching Kind must be set; Validate enforces this.
type Update struct {
	SessionKey string      `json:"session_key"`
	DriverID   string      `json:"driver_id,omitempty"` // empty for weather/flag
	Kind       UpdateKind  `json:"kind"`
	ObservedAt time.Time   `json:"observed_at"`
	Position   *PositionUpdate `json:"position,omitempty"`
	Lap        *LapUpdate      `json:"lap,omitempty"`
	Pit        *PitUpdate      `json:"pit,omitempty"`
	Weather    *WeatherUpdate  `json:"weather,omitempty"`
	Flag       *FlagUpdate     `json:"flag,omitempty"`
}

// PositionUpdate carries a driver's running order change.
type PositionUpdate struct {
	Position    int      `json:"position"`
	GapToLeader *float64 `json:"gap_to_leader,omitempty"`
	DRSActive   bool     `json:"drs_active,omitempty"`
	Retired     bool     `json:"retired,omitempty"`
}

// LapUpdate carries a completed lap for a driver.
type LapUpdate struct {
	Lap      int           `json:"lap"`
	LapTime  time.Duration `json:"lap_time"`
	Compound TireCompound  `json:"compound,omitempty"`
	TireAge  int           `json:"tire_age,omitempty"`
}

// PitUpdate marks pit lane entry or exit.
type PitUpdate struct {
	Entry bool `json:"entry"` // true on pit entry, false on pit exit
}

// WeatherUpdate carries the track weather snapshot.
type WeatherUpdate struct {
	TrackTemp float64 `json:"track_temp"`
	Rainfall  bool    `json:"rainfall"`
}

// FlagUpdate carries a session flag transition.
type FlagUpdate struct {
	Flag       FlagStatus `json:"flag"`
	CurrentLap int        `json:"current_lap,omitempty"`
}

// Validate reports whether the update carries the payload its Kind
// promises and all required fields.
func (u *Update) Validate() error {
	if u.SessionKey == "" {
		return errInvalid("missing session_key")
	}
	if u.ObservedAt.IsZero() {
		return errInvalid("missing observed_at")
	}
	switch u.Kind {
	case UpdatePosition:
		if u.DriverID == "" {
			return errInvalid("position update requires driver_id")
		}
		if u.Position == nil {
			return errInvalid("missing position payload")
		}
		if u.Position.Position < 1 && !u.Position.Retired {
			return errInvalid("position must be >= 1")
		}
	case UpdateLap:
		if u.DriverID == "" {
			return errInvalid("lap update requires driver_id")
		}
		if u.Lap == nil {
			return errInvalid("missing lap payload")
		}
		if u.Lap.Lap < 1 || u.Lap.LapTime <= 0 {
			return errInvalid("lap number and lap time must be positive")
		}
	case UpdatePit:
		if u.DriverID == "" {
			return errInvalid("pit update requires driver_id")
		}
		if u.Pit == nil {
			return errInvalid("missing pit payload")
		}
	case UpdateWeather:
		if u.Weather == nil {
			return errInvalid("missing weather payload")
		}
	case UpdateFlag:
		if u.Flag == nil {
			return errInvalid("missing flag payload")
		}
		switch u.Flag.Flag {
		case FlagGreen, FlagYellow, FlagSC, FlagVSC, FlagRed, FlagChequered:
		default:
			return errInvalid("unknown flag status")
		}
	default:
		return errInvalid("unknown update kind")
	}
	return nil
}
