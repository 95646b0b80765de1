package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"

	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
)

const (
	defaultLineageDepth = 3
	maxLineageDepth     = 32
)

// Create inserts the edge after checking both endpoints are visible
// under the tenant context. Foreign keys alone would not catch a
// cross-tenant endpoint, since constraint checks ignore row policies.
func (r *EdgeStore) Create(ctx context.Context, edge *graph.Edge) error {
	if edge == nil {
		return pkgerrors.NewValidationError("edge cannot be nil")
	}
	if edge.Rel == "" {
		return pkgerrors.NewValidationError("rel cannot be empty")
	}

	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}

	err := r.withTenant(ctx, edge.TenantID, func(tx pgx.Tx) error {
		var visible int
		err := tx.QueryRow(ctx, `
			SELECT count(*) FROM nodes
			WHERE id = ANY($1::uuid[]) AND tenant_id = $2`,
			[]uuid.UUID{edge.Src, edge.Dst}, edge.TenantID,
		).Scan(&visible)
		if err != nil {
			return err
		}
		want := 2
		if edge.Src == edge.Dst {
			want = 1
		}
		if visible < want {
			return pkgerrors.NewNotFoundError("node")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO edges (id, tenant_id, src, rel, dst, props, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			edge.ID, edge.TenantID, edge.Src, edge.Rel, edge.Dst,
			jsonMapParam(edge.Props), edge.CreatedAt)
		if isUniqueViolation(err) {
			return pkgerrors.NewConflictError("edge already exists")
		}
		return err
	})
	return asStorageError("create edge", err)
}

// ListBySrc returns a node's outgoing edges, optionally limited to one
// rel.
func (r *EdgeStore) ListBySrc(ctx context.Context, tenantID string, src uuid.UUID, rel string) ([]*graph.Edge, error) {
	query := `
		SELECT id, tenant_id, src, rel, dst, props, created_at
		FROM edges
		WHERE src = $1 AND tenant_id = $2`
	args := []any{src, tenantID}
	if rel != "" {
		query += ` AND rel = $3`
		args = append(args, rel)
	}
	query += ` ORDER BY created_at`

	var edges []*graph.Edge
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		edges = edges[:0]
		for rows.Next() {
			var e graph.Edge
			if err := rows.Scan(&e.ID, &e.TenantID, &e.Src, &e.Rel, &e.Dst,
				&e.Props, &e.CreatedAt); err != nil {
				return err
			}
			edges = append(edges, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list edges", err)
	}
	return edges, nil
}

// Delete removes one edge by its endpoints and rel.
func (r *EdgeStore) Delete(ctx context.Context, tenantID string, src uuid.UUID, rel string, dst uuid.UUID) error {
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM edges
			WHERE src = $1 AND rel = $2 AND dst = $3 AND tenant_id = $4`,
			src, rel, dst, tenantID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pkgerrors.NewNotFoundError("edge")
		}
		return nil
	})
	return asStorageError("delete edge", err)
}

// Lineage walks DERIVED_FROM edges toward the node's ancestors, up to
// maxDepth hops. Shared ancestors report their nearest depth.
func (r *EdgeStore) Lineage(ctx context.Context, tenantID string, id uuid.UUID, maxDepth int) ([]graph.LineageEntry, error) {
	if maxDepth <= 0 {
		maxDepth = defaultLineageDepth
	}
	if maxDepth > maxLineageDepth {
		maxDepth = maxLineageDepth
	}

	var entries []graph.LineageEntry
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM nodes WHERE id = $1 AND tenant_id = $2)`,
			id, tenantID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return pkgerrors.NewNotFoundError("node")
		}

		rows, err := tx.Query(ctx, `
			WITH RECURSIVE ancestry AS (
				SELECT e.dst AS id, 1 AS depth
				FROM edges e
				WHERE e.src = $1 AND e.rel = $2 AND e.tenant_id = $3
				UNION ALL
				SELECT e.dst, a.depth + 1
				FROM edges e
				JOIN ancestry a ON e.src = a.id
				WHERE e.rel = $2 AND e.tenant_id = $3 AND a.depth < $4
			)
			SELECT n.id, min(a.depth) AS depth, n.classes
			FROM ancestry a
			JOIN nodes n ON n.id = a.id AND n.tenant_id = $3
			GROUP BY n.id, n.classes
			ORDER BY depth`,
			id, graph.RelDerivedFrom, tenantID, maxDepth)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var entry graph.LineageEntry
			if err := rows.Scan(&entry.ID, &entry.Depth, &entry.Classes); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.NewNotFoundError("node")
		}
		return nil, asStorageError("lineage", err)
	}
	return entries, nil
}
