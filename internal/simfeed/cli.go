package simfeed

import (
	"fmt"
	"os"

	"github.com/okian/stint/pkg/logger"
)

// SetupLogging initializes the structured logger for the feed tool.
func SetupLogging(level string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := logger.SetLevelString(level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// ShowHelp prints usage information for the replay tool.
func ShowHelp() {
	os.Stdout.WriteString(`Stint Race Replay Tool
======================

Scripts a deterministic synthetic race and replays it against a running
stint service as an ordered timing feed.

Usage:
  go run cmd/replay/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -session string
        Session key to create and feed (default "sim-race")
  -drivers int
        Number of drivers on the grid (default 20)
  -laps int
        Number of race laps (default 50)
  -tick duration
        Pacing delay between updates; 0 replays at full speed (default 5ms)
  -seed int
        Seed for the race script; same seed, same race (default 1)
  -timeout duration
        HTTP request timeout (default 30s)
  -keep
        Leave the session running instead of tearing it down
  -verbose
        Enable verbose logging

Examples:
  # Replay a default 50-lap race
  go run cmd/replay/main.go

  # Fast replay of a big grid, keep the session for inspection
  go run cmd/replay/main.go -drivers 24 -laps 70 -tick 0 -keep

  # Reproduce a specific race script
  go run cmd/replay/main.go -seed 42 -session 2024-monaco-race
`)
}
