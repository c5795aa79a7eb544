package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregrid/go-resilience/logger"
	"github.com/coregrid/go-resilience/resilience"
)

func testPolicy(maxAttempts int) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    1 * time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestClientDo_Success(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"mainnet","height":123}`))
	}))
	defer server.Close()

	c := New(context.Background(), logger.NewTestLogger(), server.URL, "token123", WithRetryPolicy(testPolicy(3)))

	var out struct {
		Name   string `json:"name"`
		Height int    `json:"height"`
	}
	err := c.Do(http.MethodGet, "/status", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "mainnet", out.Name)
	assert.Equal(t, 123, out.Height)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestClientDo_RetriesServerErrors(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(context.Background(), logger.NewTestLogger(), server.URL, "", WithRetryPolicy(testPolicy(5)))

	err := c.Do(http.MethodGet, "/status", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestClientDo_ClientErrorNotRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"no such validator"}`))
	}))
	defer server.Close()

	c := New(context.Background(), logger.NewTestLogger(), server.URL, "", WithRetryPolicy(testPolicy(5)))

	err := c.Do(http.MethodGet, "/validators/xyz", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, resilience.KindClientError, apiErr.Kind)
	assert.Equal(t, "no such validator", apiErr.Err.Error())
	assert.Equal(t, resilience.KindClientError, resilience.KindOf(err))
}

func TestClientDo_RateLimitRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(context.Background(), logger.NewTestLogger(), server.URL, "", WithRetryPolicy(testPolicy(3)))

	err := c.Do(http.MethodPost, "/submit", map[string]string{"tx": "abc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestClientDo_BreakerRejectsWhenOpen(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cb := resilience.NewCircuitBreaker(2, time.Hour)
	c := New(context.Background(), logger.NewTestLogger(), server.URL, "",
		WithRetryPolicy(testPolicy(1)), WithBreaker(cb))

	require.Error(t, c.Do(http.MethodGet, "/status", nil, nil))
	require.Error(t, c.Do(http.MethodGet, "/status", nil, nil))
	require.Equal(t, resilience.StateOpen, cb.State())

	seen := atomic.LoadInt32(&requests)
	err := c.Do(http.MethodGet, "/status", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, seen, atomic.LoadInt32(&requests), "open breaker must not let the request out")
	assert.Equal(t, 2, cb.Failures(), "rejected call must not bump the failure count")
}

func TestClientDo_ConnectionFailure(t *testing.T) {
	// A server that is immediately closed refuses connections.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := New(context.Background(), logger.NewTestLogger(), server.URL, "", WithRetryPolicy(testPolicy(2)))

	err := c.Do(http.MethodGet, "/status", nil, nil)
	require.Error(t, err)
	assert.Equal(t, resilience.KindConnectionFailure, resilience.KindOf(err))
}

func TestClientDo_QueryStringPreserved(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(context.Background(), logger.NewTestLogger(), server.URL, "", WithRetryPolicy(testPolicy(1)))
	require.NoError(t, c.Do(http.MethodGet, "/rewards?epoch=512&limit=10", nil, nil))
	assert.Equal(t, "epoch=512&limit=10", gotQuery)
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected resilience.ErrorKind
	}{
		{http.StatusTooManyRequests, resilience.KindRateLimited},
		{http.StatusRequestTimeout, resilience.KindTimeout},
		{http.StatusInternalServerError, resilience.KindServerError},
		{http.StatusBadGateway, resilience.KindServerError},
		{http.StatusServiceUnavailable, resilience.KindServerError},
		{http.StatusBadRequest, resilience.KindClientError},
		{http.StatusNotFound, resilience.KindClientError},
		{http.StatusOK, resilience.KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, KindForStatus(tt.status), "status %d", tt.status)
	}
}

func TestKindForTransportError(t *testing.T) {
	assert.Equal(t, resilience.KindTimeout, KindForTransportError(context.DeadlineExceeded))
	assert.Equal(t, resilience.KindConnectionFailure, KindForTransportError(syscall.ECONNRESET))
	assert.Equal(t, resilience.KindConnectionFailure, KindForTransportError(syscall.ECONNREFUSED))
	assert.Equal(t, resilience.KindConnectionFailure, KindForTransportError(errors.New("unexpected EOF")))
	assert.Equal(t, resilience.KindUnknown, KindForTransportError(errors.New("weird")))
}
