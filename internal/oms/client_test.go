package oms

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newTestClient wires a Client to the test server with instant retries.
// The recorded sleeps expose the backoff decisions.
func newTestClient(t *testing.T, server *httptest.Server, token oauth2.TokenSource) (*Client, *[]time.Duration) {
	t.Helper()

	client := NewClient(server.URL, server.Client(), token, testLogger(t))

	var sleeps []time.Duration
	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	return client, &sleeps
}

func TestDo_Success(t *testing.T) {
	var gotUA string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, nil)

	resp, err := client.Do(context.Background(), http.MethodGet, "/orders/changes", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, userAgent, gotUA)
}

func TestDo_BearerToken(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	token := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	client, _ := newTestClient(t, server, token)

	resp, err := client.Do(context.Background(), http.MethodGet, "/orders/changes", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, server, nil)

	resp, err := client.Do(context.Background(), http.MethodGet, "/orders/changes", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 3, calls)
	assert.Len(t, *sleeps, 2)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, nil)

	_, err := client.Do(context.Background(), http.MethodGet, "/orders/changes", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, defaultRetryPolicy.maxAttempts+1, calls)
}

func TestDo_RetryAfterHeader(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, server, nil)

	resp, err := client.Do(context.Background(), http.MethodGet, "/orders/changes", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, *sleeps, 1)
	assert.Equal(t, 7*time.Second, (*sleeps)[0])
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("X-Request-Id", "req-42")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no such order"}`)) //nolint:errcheck
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, nil)

	_, err := client.Do(context.Background(), http.MethodGet, "/orders/missing", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "req-42", apiErr.RequestID)
	assert.Contains(t, apiErr.Message, "no such order")
}

func TestDo_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, nil)
	client.sleepFunc = timeSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Do(ctx, http.MethodGet, "/orders/changes", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicyWait(t *testing.T) {
	policy := defaultRetryPolicy

	t.Run("grows exponentially", func(t *testing.T) {
		// Jitter is ±25%, so bound-check rather than equality-check.
		b0 := policy.wait(0)
		assert.GreaterOrEqual(t, b0, 750*time.Millisecond)
		assert.LessOrEqual(t, b0, 1250*time.Millisecond)

		b2 := policy.wait(2)
		assert.GreaterOrEqual(t, b2, 3*time.Second)
		assert.LessOrEqual(t, b2, 5*time.Second)
	})

	t.Run("caps at maximum", func(t *testing.T) {
		b := policy.wait(20)
		assert.LessOrEqual(t, b, time.Duration(float64(policy.cap)*(1+policy.jitter)))
	})

	t.Run("nil response uses the curve", func(t *testing.T) {
		b := policy.waitFor(nil, 0)
		assert.GreaterOrEqual(t, b, 750*time.Millisecond)
		assert.LessOrEqual(t, b, 1250*time.Millisecond)
	})
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusInternalServerError, ErrServerError},
		{http.StatusBadGateway, ErrServerError},
		{http.StatusOK, nil},
		{http.StatusNoContent, nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(http.StatusRequestTimeout))
	assert.True(t, isRetryable(http.StatusTooManyRequests))
	assert.True(t, isRetryable(http.StatusInternalServerError))
	assert.True(t, isRetryable(http.StatusBadGateway))
	assert.True(t, isRetryable(http.StatusServiceUnavailable))
	assert.True(t, isRetryable(http.StatusGatewayTimeout))
	assert.False(t, isRetryable(http.StatusBadRequest))
	assert.False(t, isRetryable(http.StatusNotFound))
	assert.False(t, isRetryable(http.StatusConflict))
}
