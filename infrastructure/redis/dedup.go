package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// DedupTTL is the replay window: redeliveries of the same message id
// inside it are dropped.
const DedupTTL = 300 * time.Second

// Deduper suppresses webhook replays with SETNX markers.
type Deduper struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ ports.WebhookDeduper = (*Deduper)(nil)

// NewDeduper builds a deduper with the default replay window.
func NewDeduper(rdb redis.UniversalClient) *Deduper {
	return &Deduper{rdb: rdb, ttl: DedupTTL}
}

// FirstSeen atomically records messageID and reports whether this is
// its first delivery.
func (d *Deduper) FirstSeen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, pkgerrors.NewValidationError("message id cannot be empty")
	}
	ok, err := d.rdb.SetNX(ctx, "webhook:sns:dedup:"+messageID, "1", d.ttl).Result()
	if err != nil {
		return false, pkgerrors.NewDependencyError("redis", err)
	}
	return ok, nil
}
