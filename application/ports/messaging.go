package ports

import (
	"context"
	"time"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
)

// QueueRef addresses one tenant ingestion queue.
type QueueRef struct {
	Provider string `json:"provider"`
	TenantID string `json:"tenant_id"`
}

// IngestQueue moves change items from webhook ingress to the workers.
// Items that exhaust their retries land in the per-queue dead letter
// list with a reason.
type IngestQueue interface {
	// Enqueue pushes items onto ref's queue and returns how many were
	// accepted.
	Enqueue(ctx context.Context, ref QueueRef, items []connector.ChangeItem) (int, error)
	// Dequeue blocks up to timeout for the next item across refs. A
	// timeout returns a zero ref and a nil item, not an error.
	Dequeue(ctx context.Context, refs []QueueRef, timeout time.Duration) (QueueRef, *connector.ChangeItem, error)
	// DeadLetter parks an item that cannot be processed.
	DeadLetter(ctx context.Context, ref QueueRef, item connector.ChangeItem, reason string) error
	// ActiveQueues lists every queue that has ever received an item.
	ActiveQueues(ctx context.Context) ([]QueueRef, error)
	// Depth reports the backlog of ref's queue.
	Depth(ctx context.Context, ref QueueRef) (int64, error)
	// DLQDepth reports the dead letter backlog of ref's queue.
	DLQDepth(ctx context.Context, ref QueueRef) (int64, error)
}

// WebhookDeduper suppresses webhook replays within a delivery window.
type WebhookDeduper interface {
	// FirstSeen reports whether messageID has not been processed yet,
	// atomically recording it when so.
	FirstSeen(ctx context.Context, messageID string) (bool, error)
}

// Operations carried on config change notices.
const (
	ConfigOpUpsert = "upsert"
	ConfigOpDelete = "delete"
)

// ConfigChange announces a connector configuration write so other
// processes can evict their caches.
type ConfigChange struct {
	TenantID  string `json:"tenant_id"`
	Provider  string `json:"provider"`
	Operation string `json:"operation"`
}

// ConfigChangePublisher broadcasts configuration changes.
type ConfigChangePublisher interface {
	PublishConfigChange(ctx context.Context, change ConfigChange) error
}

// IngestThrottle enforces per-tenant ingestion quotas.
type IngestThrottle interface {
	// AllowDocument counts one document of size bytes against the
	// tenant's daily budgets and reports whether it fits.
	AllowDocument(ctx context.Context, tenantID string, size int64) (bool, error)
	// AllowAPICall counts one provider API call against the tenant's
	// hourly budget.
	AllowAPICall(ctx context.Context, tenantID string) (bool, error)
}
