package simfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/logger"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// Delete performs a DELETE request
func (c *HTTPClient) Delete(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// drainBody reads and closes the response body so the connection is reused.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// submitUpdates posts the scripted feed one record at a time. Order matters:
// the pipeline processes a session's updates in arrival order, so there is
// no worker pool here on purpose.
func submitUpdates(ctx context.Context, config *Config, client *HTTPClient, updates []model.Update, stats *Stats) error {
	log := logger.Get()
	url := config.BaseURL + "/updates"

	reportEvery := len(updates) / 10
	if reportEvery == 0 {
		reportEvery = 1
	}

	for i := range updates {
		select {
		case <-ctx.Done():
			return fmt.Errorf("feed interrupted: %w", ctx.Err())
		default:
		}

		resp, err := client.Post(ctx, url, &updates[i])
		stats.UpdatesSubmitted++
		if err != nil {
			stats.UpdatesFailed++
			if config.Verbose {
				log.Warn(ctx, "update submission failed", logger.Int("index", i), logger.Error(err))
			}
			continue
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			stats.UpdatesAccepted++
		case http.StatusTooManyRequests:
			// Backpressure: wait a beat and retry once.
			drainBody(resp)
			time.Sleep(50 * time.Millisecond)
			retry, rerr := client.Post(ctx, url, &updates[i])
			if rerr != nil || retry.StatusCode != http.StatusAccepted {
				stats.UpdatesRejected++
				if rerr == nil {
					drainBody(retry)
				}
				continue
			}
			stats.UpdatesAccepted++
			resp = retry
		default:
			stats.UpdatesRejected++
			if config.Verbose {
				log.Warn(ctx, "update rejected",
					logger.Int("index", i),
					logger.Int("status", resp.StatusCode),
					logger.String("kind", string(updates[i].Kind)))
			}
		}
		drainBody(resp)

		if config.Verbose && (i+1)%reportEvery == 0 {
			log.Info(ctx, "feed progress",
				logger.Int("submitted", i+1),
				logger.Int("total", len(updates)),
				logger.Int("accepted", stats.UpdatesAccepted))
		}

		if config.Tick > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("feed interrupted: %w", ctx.Err())
			case <-time.After(config.Tick):
			}
		}
	}

	log.Info(ctx, "feed submission completed",
		logger.Int("accepted", stats.UpdatesAccepted),
		logger.Int("rejected", stats.UpdatesRejected),
		logger.Int("failed", stats.UpdatesFailed))
	return nil
}
