package model

import "time"

// EventKind discriminates detected race events.
type EventKind string

// Race event kinds produced by the delta detector.
const (
	EventOvertake            EventKind = "Overtake"
	EventPitStop             EventKind = "PitStop"
	EventFastestLap          EventKind = "FastestLap"
	EventIncident            EventKind = "Incident"
	EventDRSActivation       EventKind = "DRSActivation"
	EventGapChange           EventKind = "GapChange"
	EventWeatherChange       EventKind = "WeatherChange"
	EventSessionStatusChange EventKind = "SessionStatusChange"
)

// Tier is a priority class bounding an event's acceptable latency.
type Tier string

// Priority tiers, highest first.
const (
	TierCritical Tier = "CRITICAL"
	TierHigh     Tier = "HIGH"
	TierMedium   Tier = "MEDIUM"
	TierLow      Tier = "LOW"
)

// Rank orders tiers for scheduling; lower rank dispatches first.
func (t Tier) Rank() int {
	switch t {
	case TierCritical:
		return 0
	case TierHigh:
		return 1
	case TierMedium:
		return 2
	default:
		return 3
	}
}

// RaceEvent is an immutable detected event. It is never mutated after
// creation; superseding happens by replacement in the batching window.
type RaceEvent struct {
	Sequence   uint64    `json:"sequence"`
	SessionKey string    `json:"session_key"`
	Kind       EventKind `json:"kind"`
	Subjects   []string  `json:"subjects"` // primary first, then secondary
	Payload    any       `json:"payload"`
	DetectedAt time.Time `json:"detected_at"`
}

// Primary returns the event's primary subject driver, if any.
func (e *RaceEvent) Primary() string {
	if len(e.Subjects) == 0 {
		return ""
	}
	return e.Subjects[0]
}

// Secondary returns the event's secondary subject driver, if any.
func (e *RaceEvent) Secondary() string {
	if len(e.Subjects) < 2 {
		return ""
	}
	return e.Subjects[1]
}

// OvertakePayload describes one displaced pair.
type OvertakePayload struct {
	FromPosition    int    `json:"from_position"`
	ToPosition      int    `json:"to_position"`
	OvertakenDriver string `json:"overtaken_driver"`
}

// PitStopPayload describes a pit entry.
type PitStopPayload struct {
	Stop int `json:"stop"` // 1-based pit stop count
	Lap  int `json:"lap"`
}

// FastestLapPayload describes a new personal or session best.
type FastestLapPayload struct {
	LapTime     time.Duration `json:"lap_time"`
	Lap         int           `json:"lap"`
	SessionBest bool          `json:"session_best"`
}

// IncidentPayload describes a retirement or similar on-track incident.
type IncidentPayload struct {
	Description  string `json:"description"`
	LastPosition int    `json:"last_position"`
}

// DRSActivationPayload describes DRS becoming available for a driver.
type DRSActivationPayload struct {
	Position int `json:"position"`
}

// GapChangePayload describes movement in the gap between a driver and the
// car ahead of them. Merged instances accumulate Delta and Updates.
type GapChangePayload struct {
	Ahead   string  `json:"ahead"` // driver being chased
	Delta   float64 `json:"delta"` // cumulative change in seconds, negative when closing
	Gap     float64 `json:"gap"`   // latest observed gap to leader
	Updates int     `json:"updates"`
}

// Closing reports whether the chasing driver is gaining ground.
func (p GapChangePayload) Closing() bool { return p.Delta < 0 }

// WeatherChangePayload describes a rainfall flip or temperature swing.
type WeatherChangePayload struct {
	TrackTemp       float64 `json:"track_temp"`
	TempDelta       float64 `json:"temp_delta"` // cumulative when merged
	Rainfall        bool    `json:"rainfall"`
	RainfallChanged bool    `json:"rainfall_changed"`
}

// SessionStatusPayload describes a flag transition.
type SessionStatusPayload struct {
	From FlagStatus `json:"from"`
	To   FlagStatus `json:"to"`
	Lap  int        `json:"lap"`
}

// EnrichedRaceEvent is the envelope handed to sinks: the detected event
// plus context attached immediately before it leaves the core.
type EnrichedRaceEvent struct {
	Sequence          uint64                 `json:"sequence"`
	SessionKey        string                 `json:"session_key"`
	Kind              EventKind              `json:"kind"`
	Priority          Tier                   `json:"priority"`
	Subjects          []string               `json:"subjects"`
	Payload           any                    `json:"payload"`
	SessionContext    SessionState           `json:"session_context"`
	DriverContext     map[string]DriverState `json:"driver_context"`
	HistoricalContext map[string]any         `json:"historical_context"` // nil on enrichment timeout
	Late              bool                   `json:"late"`
	DetectedAt        time.Time              `json:"detected_at"`
	EmittedAt         time.Time              `json:"emitted_at"`
}
