package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
)

// SearchFilter narrows retrieval to matching nodes. A zero filter
// matches every live node of the tenant.
type SearchFilter struct {
	// Classes keeps nodes carrying at least one of the listed classes.
	Classes []string
	// Props keeps nodes whose props match every key exactly.
	Props map[string]any
	// IncludeDeleted lifts the default exclusion of tombstoned nodes.
	IncludeDeleted bool
}

// VectorHit pairs a node with its cosine similarity to the query vector.
type VectorHit struct {
	Node  *graph.Node
	Score float64
}

// LexicalHit pairs a node with its full-text rank for the query string.
type LexicalHit struct {
	Node *graph.Node
	Rank float64
}

// NodeListOptions pages through a tenant's nodes.
type NodeListOptions struct {
	Classes []string
	Limit   int
	Offset  int
}

// Tombstone identifies a soft-deleted node whose grace period has
// passed. Scans run on the maintenance plane, so the tenant rides along.
type Tombstone struct {
	TenantID   string
	NodeID     uuid.UUID
	GraceUntil time.Time
}

// NodeRepository persists graph nodes. Every call is tenant-scoped
// except the maintenance-plane scans, which say so explicitly.
type NodeRepository interface {
	// Create inserts the node and writes its created event and initial
	// version snapshot in one transaction.
	Create(ctx context.Context, node *graph.Node) error

	// Get returns the node, or a NotFound error when it does not exist
	// or is not visible under the tenant context.
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*graph.Node, error)

	// GetByExternalID resolves a connector-born node by its
	// provider:tenant:resource key. NotFound when absent.
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*graph.Node, error)

	// List pages through the tenant's live nodes.
	List(ctx context.Context, tenantID string, opts NodeListOptions) ([]*graph.Node, error)

	// ListByParent returns the chunk nodes derived from a parent
	// document, tombstoned ones included, in chunk order.
	ListByParent(ctx context.Context, tenantID string, parentID uuid.UUID) ([]*graph.Node, error)

	// Update writes the node back, guarded by the version the caller
	// read. A concurrent writer surfaces as a Conflict error. The
	// updated event and new version snapshot land in the same
	// transaction.
	Update(ctx context.Context, node *graph.Node, expectedVersion int) error

	// UpdateEmbedding installs a refreshed embedding with its drift and
	// refresh timestamp, and appends the embedding history row. The
	// node version is untouched: snapshots track content changes, the
	// history table tracks vectors.
	UpdateEmbedding(ctx context.Context, tenantID string, id uuid.UUID, embedding []float32, drift float64, refreshedAt time.Time, ref string) error

	// ListVersions returns the node's content snapshots, newest first.
	ListVersions(ctx context.Context, tenantID string, id uuid.UUID, limit int) ([]*graph.NodeVersion, error)

	// SoftDelete tombstones the node with the given grace deadline and
	// writes the deleted event.
	SoftDelete(ctx context.Context, tenantID string, id uuid.UUID, graceUntil time.Time) error

	// HardDelete removes the node row, its edges, versions, and
	// embedding history. Events stay for audit.
	HardDelete(ctx context.Context, tenantID string, id uuid.UUID) error

	// DueCandidates returns live nodes that carry a refresh policy,
	// longest-unrefreshed first. A non-nil after restricts the page to
	// nodes last refreshed after that instant so callers can walk past
	// a not-yet-due backlog. The caller applies the cron/interval due
	// check in process.
	DueCandidates(ctx context.Context, tenantID string, after *time.Time, limit int) ([]*graph.Node, error)

	// TriggerCandidates returns live embedded nodes that declare at
	// least one trigger.
	TriggerCandidates(ctx context.Context, tenantID string, limit int) ([]*graph.Node, error)

	// ExpiredTombstones scans all tenants for soft-deleted nodes whose
	// grace deadline has passed. Maintenance plane.
	ExpiredTombstones(ctx context.Context, now time.Time, limit int) ([]Tombstone, error)

	// Tenants lists every tenant with at least one node. Maintenance
	// plane; feeds the scheduler's per-tenant batches.
	Tenants(ctx context.Context) ([]string, error)
}

// EdgeRepository persists typed relations between nodes.
type EdgeRepository interface {
	// Create inserts the edge. Both endpoints must be visible under the
	// tenant context.
	Create(ctx context.Context, edge *graph.Edge) error

	// ListBySrc returns the outgoing edges of a node, optionally
	// filtered by rel.
	ListBySrc(ctx context.Context, tenantID string, src uuid.UUID, rel string) ([]*graph.Edge, error)

	// Delete removes one edge by its endpoints and rel.
	Delete(ctx context.Context, tenantID string, src uuid.UUID, rel string, dst uuid.UUID) error

	// Lineage walks DERIVED_FROM edges from the node toward its
	// ancestors, up to maxDepth hops, nearest first.
	Lineage(ctx context.Context, tenantID string, id uuid.UUID, maxDepth int) ([]graph.LineageEntry, error)
}

// EventRepository appends to and reads the per-node audit trail.
type EventRepository interface {
	// Append writes one event. Events are never updated or deleted by
	// application code.
	Append(ctx context.Context, event *graph.Event) error

	// ListByNode returns the newest events for a node, newest first.
	// An empty eventType matches all types.
	ListByNode(ctx context.Context, tenantID string, nodeID uuid.UUID, eventType string, limit int) ([]*graph.Event, error)
}

// SearchRepository runs the two base retrieval queries. Fusion and
// reweighting happen above, in the retrieval service.
type SearchRepository interface {
	// VectorSearch returns the topK nearest live nodes by cosine
	// similarity. Nodes without an embedding never match.
	VectorSearch(ctx context.Context, tenantID string, queryVec []float32, topK int, filter SearchFilter) ([]VectorHit, error)

	// LexicalSearch returns the topK best full-text matches ranked by
	// ts_rank over text and title.
	LexicalSearch(ctx context.Context, tenantID string, query string, topK int, filter SearchFilter) ([]LexicalHit, error)
}

// PatternRepository stores reference vectors for the trigger engine.
// An empty tenant marks a pattern shared across tenants.
type PatternRepository interface {
	// Upsert inserts or replaces the pattern by (tenant, name).
	Upsert(ctx context.Context, pattern *graph.Pattern) error

	// Get returns the tenant's pattern by name, falling back to the
	// global one. NotFound when neither exists.
	Get(ctx context.Context, tenantID, name string) (*graph.Pattern, error)

	// List returns the tenant's patterns plus the global ones.
	List(ctx context.Context, tenantID string) ([]*graph.Pattern, error)

	// Delete removes the tenant's pattern by name.
	Delete(ctx context.Context, tenantID, name string) error
}

// ConnectorConfigRepository persists per-tenant connector registrations.
// Secret-valued fields inside Settings are ciphertext at this layer;
// encryption happens above, in the connector config service.
type ConnectorConfigRepository interface {
	// Upsert inserts or replaces the (tenant, provider) registration.
	Upsert(ctx context.Context, cfg *connector.Config) error

	// Get returns the registration. NotFound when absent.
	Get(ctx context.Context, tenantID, provider string) (*connector.Config, error)

	// List returns all of the tenant's registrations.
	List(ctx context.Context, tenantID string) ([]*connector.Config, error)

	// ListEnabled returns every enabled registration across tenants.
	// Maintenance plane; drives worker queue discovery and pollers.
	ListEnabled(ctx context.Context) ([]*connector.Config, error)

	// SetEnabled flips the enabled flag. NotFound when absent.
	SetEnabled(ctx context.Context, tenantID, provider string, enabled bool) error

	// Delete removes the registration.
	Delete(ctx context.Context, tenantID, provider string) error

	// RotationCandidates returns registrations whose key version lags
	// the active KEK. Maintenance plane.
	RotationCandidates(ctx context.Context, activeVersion, limit int) ([]*connector.Config, error)

	// Reencrypt writes back re-encrypted settings under the new key
	// version, guarded by the version the candidate was read at.
	Reencrypt(ctx context.Context, tenantID, provider string, settings map[string]any, fromVersion, toVersion int) error
}

// ConnectorCursorRepository stores incremental sync positions.
type ConnectorCursorRepository interface {
	// GetCursor returns the saved cursor state, or an empty map when
	// the connector has never synced.
	GetCursor(ctx context.Context, tenantID, provider string) (map[string]any, error)

	// PutCursor saves the cursor state.
	PutCursor(ctx context.Context, tenantID, provider string, state map[string]any) error
}

// CoverageRow aggregates embedding health for one tenant.
type CoverageRow struct {
	TenantID            string  `db:"tenant_id"`
	Total               int64   `db:"total"`
	Embedded            int64   `db:"embedded"`
	MaxStalenessSeconds float64 `db:"max_staleness_seconds"`
}

// ClassRefreshRow is the latest completed refresh per tenant and class.
type ClassRefreshRow struct {
	TenantID      string    `db:"tenant_id"`
	ClassName     string    `db:"class_name"`
	LastRefreshed time.Time `db:"last_refreshed"`
}

// AnomalyRow flags a node in a suspect state: drift spikes, stuck
// refreshes, or tombstones past grace.
type AnomalyRow struct {
	TenantID   string    `db:"tenant_id"`
	NodeID     uuid.UUID `db:"node_id"`
	Kind       string    `db:"kind"`
	DriftScore float64   `db:"drift_score"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// ReportingRepository serves the read-only aggregate queries behind
// the coverage gauges and the anomaly report. Maintenance plane.
type ReportingRepository interface {
	Coverage(ctx context.Context) ([]CoverageRow, error)
	LastRefreshByClass(ctx context.Context) ([]ClassRefreshRow, error)
	Anomalies(ctx context.Context, driftThreshold float64, limit int) ([]AnomalyRow, error)
}
