package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
)

func newTestThrottle(t *testing.T, quota connector.Quota) *Throttle {
	t.Helper()
	_, rdb := newTestRedis(t)
	return NewThrottle(rdb, quota, zap.NewNop())
}

func TestAllowDocumentDocCap(t *testing.T) {
	th := newTestThrottle(t, connector.Quota{
		MaxDocsPerDay:      3,
		MaxStorageBytes:    1 << 30,
		MaxAPICallsPerHour: 100,
	})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, err := th.AllowDocument(ctx, "acme", 10)
		require.NoError(t, err)
		assert.True(t, ok, "document %d fits the budget", i)
	}

	ok, err := th.AllowDocument(ctx, "acme", 10)
	require.NoError(t, err)
	assert.False(t, ok, "fourth document exceeds the daily cap")

	// Another tenant has its own budget.
	ok, err = th.AllowDocument(ctx, "globex", 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowDocumentByteCap(t *testing.T) {
	th := newTestThrottle(t, connector.Quota{
		MaxDocsPerDay:      1000,
		MaxStorageBytes:    100,
		MaxAPICallsPerHour: 100,
	})
	ctx := context.Background()

	ok, err := th.AllowDocument(ctx, "acme", 80)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = th.AllowDocument(ctx, "acme", 80)
	require.NoError(t, err)
	assert.False(t, ok, "byte budget exhausted even though docs remain")
}

func TestAllowDocumentWindowRollover(t *testing.T) {
	th := newTestThrottle(t, connector.Quota{
		MaxDocsPerDay:      1,
		MaxStorageBytes:    1 << 30,
		MaxAPICallsPerHour: 100,
	})
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	ok, err := th.AllowDocument(ctx, "acme", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = th.AllowDocument(ctx, "acme", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// The next day opens a fresh window.
	th.now = func() time.Time { return now.Add(2 * time.Hour) }
	ok, err = th.AllowDocument(ctx, "acme", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowAPICall(t *testing.T) {
	th := newTestThrottle(t, connector.Quota{
		MaxDocsPerDay:      1000,
		MaxStorageBytes:    1 << 30,
		MaxAPICallsPerHour: 2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := th.AllowAPICall(ctx, "acme")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := th.AllowAPICall(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestThrottleFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	th := NewThrottle(rdb, connector.DefaultQuota(), zap.NewNop())

	mr.Close()
	_ = rdb.Close()

	ok, err := th.AllowDocument(context.Background(), "acme", 1)
	require.NoError(t, err, "redis outage must not block ingestion")
	assert.True(t, ok)

	ok, err = th.AllowAPICall(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, ok)
}
