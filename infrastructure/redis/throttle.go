package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
)

const (
	daySeconds  = 24 * 60 * 60
	hourSeconds = 60 * 60
)

// Throttle enforces per-tenant ingestion quotas with fixed-window
// counters. Like the rate limiter it fails open: a Redis outage slows
// nothing down, it only stops enforcing.
type Throttle struct {
	rdb    redis.UniversalClient
	quota  connector.Quota
	logger *zap.Logger

	now func() time.Time
}

var _ ports.IngestThrottle = (*Throttle)(nil)

// NewThrottle builds a throttle enforcing quota.
func NewThrottle(rdb redis.UniversalClient, quota connector.Quota, logger *zap.Logger) *Throttle {
	return &Throttle{rdb: rdb, quota: quota, logger: logger, now: time.Now}
}

// AllowDocument counts one document of size bytes against the tenant's
// daily document and byte budgets.
func (t *Throttle) AllowDocument(ctx context.Context, tenantID string, size int64) (bool, error) {
	day := t.now().Unix() / daySeconds
	docsKey := fmt.Sprintf("ingest:quota:%s:docs:%d", tenantID, day)
	bytesKey := fmt.Sprintf("ingest:quota:%s:bytes:%d", tenantID, day)

	var docs, bytes *redis.IntCmd
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		docs = pipe.Incr(ctx, docsKey)
		bytes = pipe.IncrBy(ctx, bytesKey, size)
		pipe.Expire(ctx, docsKey, 2*daySeconds*time.Second)
		pipe.Expire(ctx, bytesKey, 2*daySeconds*time.Second)
		return nil
	})
	if err != nil {
		t.logger.Warn("ingest throttle failing open", zap.String("tenant_id", tenantID), zap.Error(err))
		return true, nil
	}

	if docs.Val() > int64(t.quota.MaxDocsPerDay) {
		return false, nil
	}
	if bytes.Val() > t.quota.MaxStorageBytes {
		return false, nil
	}
	return true, nil
}

// AllowAPICall counts one provider API call against the tenant's hourly
// budget.
func (t *Throttle) AllowAPICall(ctx context.Context, tenantID string) (bool, error) {
	hour := t.now().Unix() / hourSeconds
	key := fmt.Sprintf("ingest:quota:%s:calls:%d", tenantID, hour)

	var calls *redis.IntCmd
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		calls = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*hourSeconds*time.Second)
		return nil
	})
	if err != nil {
		t.logger.Warn("ingest throttle failing open", zap.String("tenant_id", tenantID), zap.Error(err))
		return true, nil
	}
	return calls.Val() <= int64(t.quota.MaxAPICallsPerHour), nil
}
