package oms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const userAgent = "ordersync/0.1"

// retryPolicy bounds how persistently the client retries a failed request.
// Attempt n waits base*factor^n, capped, with proportional jitter; a 429
// carrying Retry-After overrides the computed wait.
type retryPolicy struct {
	maxAttempts int           // retries after the initial request
	base        time.Duration // first backoff step
	cap         time.Duration // ceiling on any single wait
	factor      float64
	jitter      float64 // fraction of the wait randomized in either direction
}

// defaultRetryPolicy suits a periodic batch feed: patient enough to ride out
// an OMS deploy, bounded enough that a dead endpoint fails the cycle inside
// a few minutes.
var defaultRetryPolicy = retryPolicy{
	maxAttempts: 5,
	base:        1 * time.Second,
	cap:         60 * time.Second,
	factor:      2.0,
	jitter:      0.25,
}

// wait computes the backoff before retry attempt n (0-based).
func (p retryPolicy) wait(attempt int) time.Duration {
	d := float64(p.base) * math.Pow(p.factor, float64(attempt))
	if d > float64(p.cap) {
		d = float64(p.cap)
	}

	d += d * p.jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(d)
}

// waitFor is wait plus the server's own pacing: a 429 with a Retry-After
// header names the exact delay the OMS wants, so honor it over our curve.
func (p retryPolicy) waitFor(resp *http.Response, attempt int) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return p.wait(attempt)
}

// Client is an HTTP client for the order-management service API.
// It handles request construction, authentication, retry with
// exponential backoff, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      oauth2.TokenSource // nil disables the Authorization header
	retry      retryPolicy
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an order-management API client.
// baseURL is typically "https://oms.example.com/api/v2".
func NewClient(baseURL string, httpClient *http.Client, token oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		retry:      defaultRetryPolicy,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// ClientCredentialsTokenSource builds an OAuth2 client-credentials token
// source for the OMS token endpoint. Token refresh is handled internally
// by the oauth2 package; the Client only ever sees valid bearer tokens.
func ClientCredentialsTokenSource(ctx context.Context, tokenURL, clientID, clientSecret string) oauth2.TokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}

	return cfg.TokenSource(ctx)
}

// Do executes an HTTP request against the OMS API, retrying network errors
// and retryable statuses under the client's retry policy. The path is
// appended to the client's base URL; non-nil bodies are sent as JSON.
// The caller must close the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, method, url, body)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil, fmt.Errorf("oms: request canceled: %w", ctx.Err())

		case err != nil:
			// Network error; retryable.
			lastErr = err

		case resp.StatusCode < http.StatusMultipleChoices:
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil

		default:
			apiErr := c.readAPIError(resp)

			if !isRetryable(resp.StatusCode) {
				return nil, apiErr
			}

			lastErr = apiErr
		}

		if attempt >= c.retry.maxAttempts {
			break
		}

		backoff := c.retry.waitFor(resp, attempt)
		c.logger.Warn("retrying request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("cause", lastErr.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("oms: request canceled: %w", sleepErr)
		}
	}

	c.logger.Error("request failed, retries exhausted",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("attempts", c.retry.maxAttempts+1),
	)

	return nil, fmt.Errorf("oms: %s %s failed after %d retries: %w", method, path, c.retry.maxAttempts, lastErr)
}

// readAPIError drains an error response into an APIError carrying the
// sentinel for its status class.
func (c *Client) readAPIError(resp *http.Response) *APIError {
	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
