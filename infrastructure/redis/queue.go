package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// queueRegistryKey tracks every queue that has ever received an item,
// so workers can round-robin without scanning the keyspace.
const queueRegistryKey = "connector:queues"

// QueueKey names the ingestion list for one (provider, tenant).
func QueueKey(ref ports.QueueRef) string {
	return fmt.Sprintf("connector:%s:%s:queue", ref.Provider, ref.TenantID)
}

// DLQKey names the dead letter list for one (provider, tenant).
func DLQKey(ref ports.QueueRef) string {
	return fmt.Sprintf("dlq:%s:%s", ref.Provider, ref.TenantID)
}

// ParseQueueKey recovers the queue ref from its key. Provider names
// never contain a colon; tenant ids may.
func ParseQueueKey(key string) (ports.QueueRef, error) {
	body, ok := strings.CutPrefix(key, "connector:")
	if !ok {
		return ports.QueueRef{}, pkgerrors.NewValidationError("not a queue key: " + key)
	}
	body, ok = strings.CutSuffix(body, ":queue")
	if !ok {
		return ports.QueueRef{}, pkgerrors.NewValidationError("not a queue key: " + key)
	}
	provider, tenant, ok := strings.Cut(body, ":")
	if !ok || provider == "" || tenant == "" {
		return ports.QueueRef{}, pkgerrors.NewValidationError("not a queue key: " + key)
	}
	return ports.QueueRef{Provider: provider, TenantID: tenant}, nil
}

// deadLetter is the envelope parked on the DLQ.
type deadLetter struct {
	Item     json.RawMessage `json:"item"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failed_at"`
}

// Queue is the Redis-list implementation of the ingestion queue port.
type Queue struct {
	rdb     redis.UniversalClient
	logger  *zap.Logger
	metrics *observability.Collector
}

var _ ports.IngestQueue = (*Queue)(nil)

// NewQueue builds the queue over rdb.
func NewQueue(rdb redis.UniversalClient, logger *zap.Logger, metrics *observability.Collector) *Queue {
	return &Queue{rdb: rdb, logger: logger, metrics: metrics}
}

// Enqueue pushes items onto ref's queue and registers the queue for
// worker discovery.
func (q *Queue) Enqueue(ctx context.Context, ref ports.QueueRef, items []connector.ChangeItem) (int, error) {
	if ref.Provider == "" || ref.TenantID == "" {
		return 0, pkgerrors.NewValidationError("queue ref requires provider and tenant_id")
	}
	if len(items) == 0 {
		return 0, nil
	}

	payloads := make([]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return 0, pkgerrors.NewInternalError("encode change item", err)
		}
		payloads = append(payloads, raw)
	}

	key := QueueKey(ref)
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payloads...)
		pipe.SAdd(ctx, queueRegistryKey, key)
		return nil
	})
	if err != nil {
		return 0, pkgerrors.NewDependencyError("redis", err)
	}

	q.logger.Debug("change items enqueued",
		zap.String("queue", key),
		zap.Int("count", len(items)))
	return len(items), nil
}

// Dequeue blocks up to timeout for the next item across refs. BRPOP
// scans the keys in order each time, so callers rotate refs between
// calls for fairness.
func (q *Queue) Dequeue(ctx context.Context, refs []ports.QueueRef, timeout time.Duration) (ports.QueueRef, *connector.ChangeItem, error) {
	if len(refs) == 0 {
		return ports.QueueRef{}, nil, nil
	}
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, QueueKey(ref))
	}

	res, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return ports.QueueRef{}, nil, nil
	}
	if err != nil {
		return ports.QueueRef{}, nil, pkgerrors.NewDependencyError("redis", err)
	}

	ref, err := ParseQueueKey(res[0])
	if err != nil {
		return ports.QueueRef{}, nil, err
	}

	var item connector.ChangeItem
	if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
		// Poison payloads park immediately so the queue keeps draining.
		q.logger.Warn("undecodable queue payload moved to dead letter",
			zap.String("queue", res[0]), zap.Error(err))
		if dlqErr := q.deadLetterRaw(ctx, ref, []byte(res[1]), "bad_payload"); dlqErr != nil {
			return ports.QueueRef{}, nil, dlqErr
		}
		return ref, nil, nil
	}
	return ref, &item, nil
}

// DeadLetter parks an item that cannot be processed, with the reason.
func (q *Queue) DeadLetter(ctx context.Context, ref ports.QueueRef, item connector.ChangeItem, reason string) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return pkgerrors.NewInternalError("encode change item", err)
	}
	return q.deadLetterRaw(ctx, ref, raw, reason)
}

func (q *Queue) deadLetterRaw(ctx context.Context, ref ports.QueueRef, item []byte, reason string) error {
	entry, err := json.Marshal(deadLetter{
		Item:     item,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return pkgerrors.NewInternalError("encode dead letter", err)
	}

	key := DLQKey(ref)
	depth, err := q.rdb.LPush(ctx, key, entry).Result()
	if err != nil {
		return pkgerrors.NewDependencyError("redis", err)
	}

	q.metrics.DLQDepth.WithLabelValues(ref.Provider, ref.TenantID).Set(float64(depth))
	q.logger.Warn("change item dead lettered",
		zap.String("queue", key),
		zap.String("reason", reason),
		zap.Int64("depth", depth))
	return nil
}

// ActiveQueues lists every registered queue, sorted for deterministic
// worker rotation.
func (q *Queue) ActiveQueues(ctx context.Context) ([]ports.QueueRef, error) {
	keys, err := q.rdb.SMembers(ctx, queueRegistryKey).Result()
	if err != nil {
		return nil, pkgerrors.NewDependencyError("redis", err)
	}
	sort.Strings(keys)

	refs := make([]ports.QueueRef, 0, len(keys))
	for _, key := range keys {
		ref, err := ParseQueueKey(key)
		if err != nil {
			q.logger.Warn("skipping malformed queue registry entry", zap.String("key", key))
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Depth reports the backlog of ref's queue.
func (q *Queue) Depth(ctx context.Context, ref ports.QueueRef) (int64, error) {
	n, err := q.rdb.LLen(ctx, QueueKey(ref)).Result()
	if err != nil {
		return 0, pkgerrors.NewDependencyError("redis", err)
	}
	return n, nil
}

// DLQDepth reports the dead letter backlog of ref's queue and refreshes
// the gauge.
func (q *Queue) DLQDepth(ctx context.Context, ref ports.QueueRef) (int64, error) {
	n, err := q.rdb.LLen(ctx, DLQKey(ref)).Result()
	if err != nil {
		return 0, pkgerrors.NewDependencyError("redis", err)
	}
	q.metrics.DLQDepth.WithLabelValues(ref.Provider, ref.TenantID).Set(float64(n))
	return n, nil
}
