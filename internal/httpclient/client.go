// Package httpclient implements the bearer-key HTTP egress used to POST
// logical log events to the configured logging backend.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts on transient failure.
const DefaultRetries = 3

// Config configures the egress client.
type Config struct {
	// ServiceURL is the logging backend base URL (required).
	ServiceURL string
	// APIKey is sent as a bearer token on every request.
	APIKey string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on transient failure (default 3).
	Retries int
}

// Client posts JSON event bodies to the logging backend with retry and
// exponential backoff on transient (5xx, network) failures.
type Client struct {
	config Config
	http   *http.Client
}

// New creates an egress client from cfg. Returns an error if ServiceURL is
// empty.
func New(cfg Config) (*Client, error) {
	if cfg.ServiceURL == "" {
		return nil, errors.New("httpclient: service URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("httpclient: retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}

	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// PostEvent posts body to path under the configured service URL, retrying
// transient (network, 5xx) failures with exponential backoff. 4xx
// responses are treated as non-retriable per the response-classification
// rule below.
func (c *Client) PostEvent(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("httpclient: marshal event: %w", err)
	}

	var lastErr error
	backoff := time.Second
	attempts := c.config.Retries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = c.doRequest(ctx, path, payload)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("httpclient: non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("httpclient: failed after %d attempts: %w", attempts, lastErr)
}

// StatusError is returned for non-2xx HTTP responses. Wrapping the status
// code lets callers distinguish retriable (5xx) from non-retriable (4xx)
// failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServiceURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer discardClose(resp.Body)

	_, _ = io.Copy(io.Discard, resp.Body) // drain to allow connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func discardClose(c io.Closer) { _ = c.Close() }

// Close releases client resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
