package simfeed

import "time"

// Config holds configuration for the synthetic race feed
type Config struct {
	BaseURL    string        // Base URL of the service
	SessionKey string        // Session key to create and feed
	Drivers    int           // Number of drivers on the grid
	Laps       int           // Number of race laps to simulate
	Tick       time.Duration // Pacing delay between submitted updates
	Timeout    time.Duration // HTTP request timeout
	Seed       int64         // Seed for the deterministic race script
	KeepAlive  bool          // Skip session teardown at the end
	Verbose    bool          // Enable verbose logging
}

// AckResponse represents the response from update submission
type AckResponse struct {
	Status string `json:"status"`
}

// Stats holds feed statistics
type Stats struct {
	UpdatesGenerated int
	UpdatesSubmitted int
	UpdatesAccepted  int
	UpdatesRejected  int
	UpdatesFailed    int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
