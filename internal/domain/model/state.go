// Package model contains domain models passed between pipeline stages.
package model

import "time"

// TireCompound identifies the fitted tire set.
type TireCompound string

// Known tire compounds.
const (
	CompoundSoft         TireCompound = "SOFT"
	CompoundMedium       TireCompound = "MEDIUM"
	CompoundHard         TireCompound = "HARD"
	CompoundIntermediate TireCompound = "INTERMEDIATE"
	CompoundWet          TireCompound = "WET"
)

// FlagStatus is the session-wide flag condition.
type FlagStatus string

// Known flag states.
const (
	FlagGreen     FlagStatus = "GREEN"
	FlagYellow    FlagStatus = "YELLOW"
	FlagSC        FlagStatus = "SC"
	FlagVSC       FlagStatus = "VSC"
	FlagRed       FlagStatus = "RED"
	FlagChequered FlagStatus = "CHEQUERED"
)

// DriverState is the latest known state for one driver in one session.
// Owned by the snapshot store; only the delta detector writes it.
type DriverState struct {
	DriverID    string        `json:"driver_id"`
	Position    int           `json:"position"`
	GapToLeader *float64      `json:"gap_to_leader"` // seconds; nil when lapped or retired
	Lap         int           `json:"lap"`
	Compound    TireCompound  `json:"compound"`
	TireAge     int           `json:"tire_age"` // laps on the current set
	PitStops    int           `json:"pit_stops"`
	InPit       bool          `json:"in_pit"`
	Retired     bool          `json:"retired"`
	DRSActive   bool          `json:"drs_active"`
	BestLap     time.Duration `json:"best_lap"` // personal best; zero until a timed lap exists
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SessionState is the session-wide state snapshot.
type SessionState struct {
	SessionKey string        `json:"session_key"`
	CurrentLap int           `json:"current_lap"`
	TotalLaps  int           `json:"total_laps"`
	Flag       FlagStatus    `json:"flag"`
	TrackTemp  float64       `json:"track_temp"` // celsius
	Rainfall   bool          `json:"rainfall"`
	// WeatherObserved flips on the first weather report; until then
	// TrackTemp and Rainfall are unset, not a baseline to diff against.
	WeatherObserved bool `json:"weather_observed"`
	BestLap    time.Duration `json:"best_lap"` // session best; zero until a timed lap exists
	Closed     bool          `json:"closed"`
	StartedAt  time.Time     `json:"started_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
