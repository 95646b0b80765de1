package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRateLimiter(rdb, DefaultLimits(), DefaultConcurrency()), mr
}

func TestAllowUnderBurst(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	// ask allows a burst of 5 in one window.
	for i := 1; i <= 5; i++ {
		res, err := limiter.Allow(ctx, "ask", "tenant:acme")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 5-i, res.Remaining)
	}
}

func TestAllowOverBurst(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Allow(ctx, "ask", "tenant:acme")
		require.NoError(t, err)
	}

	res, err := limiter.Allow(ctx, "ask", "tenant:acme")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 1, res.RetryAfter)
	assert.GreaterOrEqual(t, res.ResetAt, time.Now().Unix())
}

func TestAllowIsolatesIdentifiers(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "ask_stream", "tenant:a")
		require.NoError(t, err)
	}
	blocked, err := limiter.Allow(ctx, "ask_stream", "tenant:a")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.Allow(ctx, "ask_stream", "tenant:b")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "a different tenant has its own window")
}

func TestAllowUnknownEndpointUsesDefault(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	res, err := limiter.Allow(context.Background(), "no_such_endpoint", "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 200, res.Limit)
}

func TestAllowFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRateLimiter(rdb, DefaultLimits(), DefaultConcurrency())

	var failedEndpoint string
	limiter.OnFailOpen = func(endpoint string) { failedEndpoint = endpoint }

	mr.Close()
	_ = rdb.Close()

	res, err := limiter.Allow(context.Background(), "search", "tenant:acme")
	require.NoError(t, err, "redis outage must not surface as a request error")
	assert.True(t, res.Allowed)
	assert.Equal(t, "search", failedEndpoint)
}

func TestConcurrencyLifecycle(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	// ask_stream caps at 2 concurrent requests.
	ok, err := limiter.CheckConcurrency(ctx, "ask_stream", "tenant:acme")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, limiter.MarkRequestStart(ctx, "ask_stream", "tenant:acme", "req-1"))
	require.NoError(t, limiter.MarkRequestStart(ctx, "ask_stream", "tenant:acme", "req-2"))

	ok, err = limiter.CheckConcurrency(ctx, "ask_stream", "tenant:acme")
	require.NoError(t, err)
	assert.False(t, ok, "two in-flight requests exhaust the cap")

	require.NoError(t, limiter.MarkRequestEnd(ctx, "ask_stream", "tenant:acme", "req-1"))

	ok, err = limiter.CheckConcurrency(ctx, "ask_stream", "tenant:acme")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrencyPrunesStaleEntries(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.MarkRequestStart(ctx, "ask", "tenant:acme", "req-old-1"))
	require.NoError(t, limiter.MarkRequestStart(ctx, "ask", "tenant:acme", "req-old-2"))
	require.NoError(t, limiter.MarkRequestStart(ctx, "ask", "tenant:acme", "req-old-3"))

	ok, err := limiter.CheckConcurrency(ctx, "ask", "tenant:acme")
	require.NoError(t, err)
	assert.False(t, ok)

	// Entries older than ten minutes are dropped as leaked.
	mr.FastForward(11 * time.Minute)

	ok, err = limiter.CheckConcurrency(ctx, "ask", "tenant:acme")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrencyUnlimitedEndpoint(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	ok, err := limiter.CheckConcurrency(context.Background(), "search", "tenant:acme")
	require.NoError(t, err)
	assert.True(t, ok, "endpoints without a cap are never blocked")
}

func TestDefaultLimitsTable(t *testing.T) {
	limits := DefaultLimits()
	assert.Equal(t, EndpointLimit{Rate: 50, Burst: 100}, limits["search"])
	assert.Equal(t, EndpointLimit{Rate: 3, Burst: 5}, limits["ask"])
	assert.Equal(t, EndpointLimit{Rate: 1, Burst: 3}, limits["ask_stream"])
	assert.Equal(t, EndpointLimit{Rate: 1, Burst: 2}, limits["admin_refresh"])
	assert.Equal(t, EndpointLimit{Rate: 100, Burst: 200}, limits["webhook_s3"])
	assert.Equal(t, EndpointLimit{Rate: 100, Burst: 200}, limits["default"])

	conc := DefaultConcurrency()
	assert.Equal(t, 3, conc["ask"])
	assert.Equal(t, 2, conc["ask_stream"])
}
