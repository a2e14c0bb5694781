package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/stint/internal/simfeed"
)

// Default configuration constants.
const (
	defaultDrivers     = 20
	defaultLaps        = 50
	defaultTick        = 5 * time.Millisecond
	defaultTimeout     = 30 * time.Second
	defaultFeedTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		sessionKey = flag.String("session", "sim-race", "Session key to create and feed")
		drivers    = flag.Int("drivers", defaultDrivers, "Number of drivers on the grid")
		laps       = flag.Int("laps", defaultLaps, "Number of race laps")
		tick       = flag.Duration("tick", defaultTick, "Pacing delay between updates; 0 replays at full speed")
		seed       = flag.Int64("seed", 1, "Seed for the race script; same seed, same race")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		keep       = flag.Bool("keep", false, "Leave the session running instead of tearing it down")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simfeed.ShowHelp()
		return
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	if err := simfeed.SetupLogging(level); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultFeedTimeout)
	defer cancel()

	config := &simfeed.Config{
		BaseURL:    *baseURL,
		SessionKey: *sessionKey,
		Drivers:    *drivers,
		Laps:       *laps,
		Tick:       *tick,
		Timeout:    *timeout,
		Seed:       *seed,
		KeepAlive:  *keep,
		Verbose:    *verbose,
	}

	if err := simfeed.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Feed failed: " + err.Error() + "\n")
		return
	}
}
