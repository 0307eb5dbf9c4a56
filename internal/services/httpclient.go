package services

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RetryingClient wraps an HTTP client with bounded retries on transient
// failures. Injected into the portal verifier so tests can point it at a
// fake transport.
type RetryingClient struct {
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	userAgent  string
}

// NewRetryingClient creates a client with the given per-request timeout and
// retry budget. maxRetries counts retries, not total attempts.
func NewRetryingClient(timeout time.Duration, maxRetries int, userAgent string) *RetryingClient {
	return &RetryingClient{
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
		userAgent:  userAgent,
	}
}

// Get issues a GET, retrying on network errors and 5xx responses. A 4xx is
// returned immediately: the portal answered, it just didn't like the request.
func (c *RetryingClient) Get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}
