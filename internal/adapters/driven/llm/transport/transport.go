// Package transport sends JSON requests to LLM provider APIs and retries
// transient failures with exponential backoff.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/custodia-labs/lectern/internal/logger"
)

// Default retry configuration.
const (
	DefaultAttempts    = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 10 * time.Second
)

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	// Attempts is the number of retries after the first call.
	Attempts uint64

	// BackoffBase is the first backoff interval.
	BackoffBase time.Duration

	// BackoffMax caps the total time spent backing off.
	BackoffMax time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:    DefaultAttempts,
		BackoffBase: DefaultBackoffBase,
		BackoffMax:  DefaultBackoffMax,
	}
}

// StatusError is a non-200 provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client posts JSON to a provider.
type Client struct {
	provider string
	http     *http.Client
	retry    RetryConfig
}

// New creates a client. A zero RetryConfig disables retries.
func New(provider string, timeout time.Duration, cfg RetryConfig) *Client {
	return &Client{
		provider: provider,
		http:     &http.Client{Timeout: timeout},
		retry:    cfg,
	}
}

// PostJSON marshals body, posts it to url and returns the response body of
// a 200 response. Transport errors, 429 and 5xx responses are retried.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out []byte
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		var callErr error
		out, callErr = c.post(ctx, url, headers, payload)
		if callErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return callErr
		}
		var se *StatusError
		if errors.As(callErr, &se) && !se.Retryable() {
			return callErr
		}
		logger.Debug("%s: retrying after %v", c.provider, callErr)
		return retry.RetryableError(callErr)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, url string, headers map[string]string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// Get performs a single GET request, used for lightweight health checks.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("%s: failed to create ping request: %w", c.provider, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: ping failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: API returned status %d (failed to read body: %w)", c.provider, resp.StatusCode, err)
		}
		return fmt.Errorf("%s: API returned status %d: %s", c.provider, resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) backoff() retry.Backoff {
	base := c.retry.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	b := retry.NewExponential(base)
	if c.retry.BackoffMax > 0 {
		b = retry.WithMaxDuration(c.retry.BackoffMax, b)
	}
	return retry.WithMaxRetries(c.retry.Attempts, b)
}
