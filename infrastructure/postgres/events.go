package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// Append writes one audit event.
func (r *EventStore) Append(ctx context.Context, event *graph.Event) error {
	if event == nil {
		return pkgerrors.NewValidationError("event cannot be nil")
	}
	if event.Type == "" {
		return pkgerrors.NewValidationError("event type cannot be empty")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	err := r.withTenant(ctx, event.TenantID, func(tx pgx.Tx) error {
		return insertEvent(ctx, tx, event)
	})
	return asStorageError("append event", err)
}

// ListByNode returns a node's newest events, newest first. An empty
// eventType matches all types.
func (r *EventStore) ListByNode(ctx context.Context, tenantID string, nodeID uuid.UUID, eventType string, limit int) ([]*graph.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var events []*graph.Event
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, node_id, event_type, payload, actor_id, actor_type, created_at
			FROM events
			WHERE tenant_id = $1 AND node_id = $2 AND ($3 = '' OR event_type = $3)
			ORDER BY created_at DESC
			LIMIT $4`,
			tenantID, nodeID, eventType, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var e graph.Event
			if err := rows.Scan(&e.ID, &e.TenantID, &e.NodeID, &e.Type,
				&e.Payload, &e.ActorID, &e.ActorType, &e.CreatedAt); err != nil {
				return err
			}
			events = append(events, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list events", err)
	}
	return events, nil
}
