package graph

import (
	"time"

	"github.com/google/uuid"
)

// Event types written to the audit trail.
const (
	EventCreated      = "created"
	EventUpdated      = "updated"
	EventDeleted      = "deleted"
	EventRefreshed    = "refreshed"
	EventTriggerFired = "trigger_fired"
)

// Event is one append-only audit entry. Events are never mutated; the
// per-node order is defined by created_at with version as tiebreaker.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	NodeID    uuid.UUID      `json:"node_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	TenantID  string         `json:"tenant_id"`
	ActorID   string         `json:"actor_id"`
	ActorType string         `json:"actor_type"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent stamps a fresh audit entry.
func NewEvent(tenantID string, nodeID uuid.UUID, eventType string, payload map[string]any, actorID, actorType string) *Event {
	return &Event{
		ID:        uuid.New(),
		NodeID:    nodeID,
		Type:      eventType,
		Payload:   payload,
		TenantID:  tenantID,
		ActorID:   actorID,
		ActorType: actorType,
		CreatedAt: time.Now().UTC(),
	}
}

// RefreshedPayload is the payload shape of a "refreshed" event. The
// event is emitted only when drift crosses the node's threshold or the
// refresh was requested manually.
func RefreshedPayload(driftScore, threshold float64, manualTrigger bool) map[string]any {
	return map[string]any{
		"drift_score":        driftScore,
		"threshold":          threshold,
		"threshold_exceeded": driftScore >= threshold,
		"manual_trigger":     manualTrigger,
	}
}

// NodeVersion is an immutable snapshot of a node written on meaningful
// change.
type NodeVersion struct {
	ID        uuid.UUID      `json:"id"`
	NodeID    uuid.UUID      `json:"node_id"`
	TenantID  string         `json:"tenant_id"`
	Version   int            `json:"version"`
	Classes   []string       `json:"classes"`
	Props     map[string]any `json:"props"`
	CreatedAt time.Time      `json:"created_at"`
}

// SnapshotNode captures the node's current state as a version row.
func SnapshotNode(n *Node) *NodeVersion {
	classes := make([]string, len(n.Classes))
	copy(classes, n.Classes)

	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		props[k] = v
	}

	return &NodeVersion{
		ID:        uuid.New(),
		NodeID:    n.ID,
		TenantID:  n.TenantID,
		Version:   n.Version,
		Classes:   classes,
		Props:     props,
		CreatedAt: time.Now().UTC(),
	}
}

// EmbeddingHistory records one embedding replacement: the drift it
// produced and where the superseded vector went.
type EmbeddingHistory struct {
	ID           uuid.UUID `json:"id"`
	NodeID       uuid.UUID `json:"node_id"`
	TenantID     string    `json:"tenant_id"`
	DriftScore   float64   `json:"drift_score"`
	EmbeddingRef string    `json:"embedding_ref"`
	CreatedAt    time.Time `json:"created_at"`
}
