package churn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/watchq/pkg/logger"
)

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client *http.Client
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request bound to ctx.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Get().Error(context.Background(), "failed to close response body", logger.Error(err))
	}
}

// checkDaemonHealth verifies the daemon answers /healthz.
func checkDaemonHealth(ctx context.Context, cfg *Config) error {
	logger.Get().Info(ctx, "checking daemon health", logger.String("baseURL", cfg.BaseURL))

	resp, err := newHTTPClient(cfg.Timeout).Get(ctx, cfg.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon health check failed with status: %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "daemon is healthy")
	return nil
}

// fetchDaemonStats reads the daemon's /stats document.
func fetchDaemonStats(ctx context.Context, cfg *Config) (*DaemonStats, error) {
	resp, err := newHTTPClient(cfg.Timeout).Get(ctx, cfg.BaseURL+"/stats")
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats request failed with status: %d", resp.StatusCode)
	}
	var ds DaemonStats
	if err := json.NewDecoder(resp.Body).Decode(&ds); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return &ds, nil
}
