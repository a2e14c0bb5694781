package simfeed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/stint/pkg/logger"
)

// Run scripts and replays one complete synthetic race session.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting synthetic race feed",
		logger.String("baseURL", config.BaseURL),
		logger.String("session", config.SessionKey),
		logger.Int("drivers", config.Drivers),
		logger.Int("laps", config.Laps),
		logger.String("tick", config.Tick.String()))

	client := newHTTPClient(config.Timeout)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config, client); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Begin the session
	if err := beginSession(ctx, config, client); err != nil {
		return fmt.Errorf("session creation failed: %w", err)
	}

	// Step 3: Script the race
	updates := generateRace(ctx, config, stats)

	// Step 4: Replay the feed in order
	if err := submitUpdates(ctx, config, client, updates, stats); err != nil {
		return fmt.Errorf("feed submission failed: %w", err)
	}

	// Step 5: Tear the session down unless asked to keep it
	if !config.KeepAlive {
		if err := teardownSession(ctx, config, client); err != nil {
			log.Warn(ctx, "session teardown failed", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	log.Info(ctx, "feed completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config, client *HTTPClient) error {
	logger.Get().Info(ctx, "checking service health")

	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer drainBody(resp)

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// beginSession creates the race session on the service.
func beginSession(ctx context.Context, config *Config, client *HTTPClient) error {
	body := map[string]any{
		"session_key": config.SessionKey,
		"total_laps":  config.Laps,
	}
	resp, err := client.Post(ctx, config.BaseURL+"/sessions", body)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer drainBody(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("session %q already exists", config.SessionKey)
	default:
		return fmt.Errorf("session creation returned status %d", resp.StatusCode)
	}
}

// teardownSession flushes and removes the race session.
func teardownSession(ctx context.Context, config *Config, client *HTTPClient) error {
	resp, err := client.Delete(ctx, config.BaseURL+"/sessions/"+config.SessionKey)
	if err != nil {
		return fmt.Errorf("failed to tear down session: %w", err)
	}
	defer drainBody(resp)

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("session teardown returned status %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "session torn down", logger.String("session", config.SessionKey))
	return nil
}

// displayFinalStats prints the final feed statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var updatesPerSecond float64
	if stats.Duration > 0 {
		updatesPerSecond = float64(stats.UpdatesSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("updatesGenerated", stats.UpdatesGenerated),
		logger.Int("updatesSubmitted", stats.UpdatesSubmitted),
		logger.Int("updatesAccepted", stats.UpdatesAccepted),
		logger.Int("updatesRejected", stats.UpdatesRejected),
		logger.Int("updatesFailed", stats.UpdatesFailed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("updatesPerSecond", updatesPerSecond))
}
