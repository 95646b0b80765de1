package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	return NewQueue(rdb, zap.NewNop(), observability.NewCollector()), mr, rdb
}

func TestQueueKeyRoundTrip(t *testing.T) {
	ref := ports.QueueRef{Provider: "s3", TenantID: "acme"}
	key := QueueKey(ref)
	assert.Equal(t, "connector:s3:acme:queue", key)

	parsed, err := ParseQueueKey(key)
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)
}

func TestParseQueueKeyTenantWithColon(t *testing.T) {
	ref := ports.QueueRef{Provider: "gcs", TenantID: "org:team"}
	parsed, err := ParseQueueKey(QueueKey(ref))
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)
}

func TestParseQueueKeyRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{"", "ratelimit:ask:acme:5", "connector:s3:acme", "connector::queue"} {
		_, err := ParseQueueKey(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	ref := ports.QueueRef{Provider: "s3", TenantID: "acme"}

	items := []connector.ChangeItem{
		{URI: "s3://bucket/a.txt", Operation: connector.OpUpsert, TenantID: "acme"},
		{URI: "s3://bucket/b.txt", Operation: connector.OpDeleted, TenantID: "acme"},
	}
	n, err := q.Enqueue(ctx, ref, items)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	depth, err := q.Depth(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	// FIFO: the first item enqueued comes out first.
	gotRef, item, err := q.Dequeue(ctx, []ports.QueueRef{ref}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, ref, gotRef)
	assert.Equal(t, "s3://bucket/a.txt", item.URI)
	assert.Equal(t, connector.OpUpsert, item.Operation)

	_, item, err = q.Dequeue(ctx, []ports.QueueRef{ref}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "s3://bucket/b.txt", item.URI)
}

func TestEnqueueRegistersQueue(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, ports.QueueRef{Provider: "s3", TenantID: "acme"},
		[]connector.ChangeItem{{URI: "s3://b/x", Operation: connector.OpUpsert, TenantID: "acme"}})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, ports.QueueRef{Provider: "gcs", TenantID: "globex"},
		[]connector.ChangeItem{{URI: "gs://b/y", Operation: connector.OpUpsert, TenantID: "globex"}})
	require.NoError(t, err)

	refs, err := q.ActiveQueues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ports.QueueRef{
		{Provider: "gcs", TenantID: "globex"},
		{Provider: "s3", TenantID: "acme"},
	}, refs, "sorted by key for deterministic rotation")
}

func TestEnqueueValidatesRef(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), ports.QueueRef{Provider: "s3"},
		[]connector.ChangeItem{{URI: "s3://b/x"}})
	assert.Error(t, err)
}

func TestEnqueueEmptyIsNoop(t *testing.T) {
	q, _, _ := newTestQueue(t)

	n, err := q.Enqueue(context.Background(), ports.QueueRef{Provider: "s3", TenantID: "acme"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	refs, err := q.ActiveQueues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDequeueTimeout(t *testing.T) {
	q, _, _ := newTestQueue(t)

	ref, item, err := q.Dequeue(context.Background(),
		[]ports.QueueRef{{Provider: "s3", TenantID: "acme"}}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Zero(t, ref)
}

func TestDequeueNoRefs(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, item, err := q.Dequeue(context.Background(), nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestDequeuePoisonPayloadParksInDLQ(t *testing.T) {
	q, _, rdb := newTestQueue(t)
	ctx := context.Background()
	ref := ports.QueueRef{Provider: "s3", TenantID: "acme"}

	require.NoError(t, rdb.LPush(ctx, QueueKey(ref), "{not json").Err())

	gotRef, item, err := q.Dequeue(ctx, []ports.QueueRef{ref}, time.Second)
	require.NoError(t, err)
	assert.Nil(t, item, "poison payloads are skipped, not returned")
	assert.Equal(t, ref, gotRef)

	depth, err := q.DLQDepth(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	raw, err := rdb.LRange(ctx, DLQKey(ref), 0, -1).Result()
	require.NoError(t, err)
	var entry deadLetter
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &entry))
	assert.Equal(t, "bad_payload", entry.Reason)
}

func TestDeadLetterKeepsItemAndReason(t *testing.T) {
	q, _, rdb := newTestQueue(t)
	ctx := context.Background()
	ref := ports.QueueRef{Provider: "drive", TenantID: "acme"}

	item := connector.ChangeItem{URI: "drive:file-1", Operation: connector.OpUpsert, TenantID: "acme"}
	require.NoError(t, q.DeadLetter(ctx, ref, item, "fetch exhausted retries"))

	raw, err := rdb.LRange(ctx, DLQKey(ref), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var entry deadLetter
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &entry))
	assert.Equal(t, "fetch exhausted retries", entry.Reason)
	assert.False(t, entry.FailedAt.IsZero())

	var parked connector.ChangeItem
	require.NoError(t, json.Unmarshal(entry.Item, &parked))
	assert.Equal(t, item, parked)
}
