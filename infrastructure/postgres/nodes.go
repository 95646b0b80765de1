package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

const nodeColumns = `id, tenant_id, classes, props, metadata, embedding,
	refresh_policy, triggers, version, last_refreshed, drift_score,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanNode maps one nodeColumns row. Extra destinations pick up any
// trailing computed columns, like search scores.
func scanNode(row rowScanner, extra ...any) (*graph.Node, error) {
	var (
		n          graph.Node
		embedding  *pgvector.Vector
		policyRaw  []byte
		triggerRaw []byte
	)
	dests := []any{
		&n.ID, &n.TenantID, &n.Classes, &n.Props, &n.Metadata, &embedding,
		&policyRaw, &triggerRaw, &n.Version, &n.LastRefreshed, &n.DriftScore,
		&n.CreatedAt, &n.UpdatedAt,
	}
	dests = append(dests, extra...)
	if err := row.Scan(dests...); err != nil {
		return nil, err
	}

	if embedding != nil {
		n.Embedding = embedding.Slice()
	}
	if len(policyRaw) > 0 && string(policyRaw) != "null" {
		var p graph.RefreshPolicy
		if err := json.Unmarshal(policyRaw, &p); err != nil {
			return nil, fmt.Errorf("decode refresh policy: %w", err)
		}
		n.RefreshPolicy = &p
	}
	if len(triggerRaw) > 0 && string(triggerRaw) != "null" {
		if err := json.Unmarshal(triggerRaw, &n.Triggers); err != nil {
			return nil, fmt.Errorf("decode triggers: %w", err)
		}
	}
	return &n, nil
}

func collectNodes(rows pgx.Rows) ([]*graph.Node, error) {
	defer rows.Close()
	var nodes []*graph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func insertEvent(ctx context.Context, tx pgx.Tx, e *graph.Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO events (id, tenant_id, node_id, event_type, payload, actor_id, actor_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TenantID, e.NodeID, e.Type, jsonMapParam(e.Payload),
		e.ActorID, e.ActorType, e.CreatedAt)
	return err
}

func insertVersion(ctx context.Context, tx pgx.Tx, v *graph.NodeVersion) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO node_versions (id, tenant_id, node_id, version, classes, props, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.TenantID, v.NodeID, v.Version, v.Classes,
		jsonMapParam(v.Props), v.CreatedAt)
	return err
}

// Create inserts the node with its created event and initial version
// snapshot in one transaction.
func (r *NodeStore) Create(ctx context.Context, node *graph.Node) error {
	if node == nil {
		return pkgerrors.NewValidationError("node cannot be nil")
	}
	if len(node.Classes) == 0 {
		return pkgerrors.NewValidationError("classes cannot be empty")
	}
	if err := r.checkDim(node.Embedding); err != nil {
		return err
	}

	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if node.Version == 0 {
		node.Version = 1
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = now
	}

	policy, err := policyParam(node.RefreshPolicy)
	if err != nil {
		return err
	}
	trigs, err := triggersParam(node.Triggers)
	if err != nil {
		return err
	}
	actorID, actorType := actorFrom(ctx)

	err = r.withTenant(ctx, node.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO nodes (id, tenant_id, classes, props, metadata, embedding,
				refresh_policy, triggers, version, last_refreshed, drift_score,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			node.ID, node.TenantID, node.Classes, jsonMapParam(node.Props),
			jsonMapParam(node.Metadata), vectorParam(node.Embedding),
			policy, trigs, node.Version, node.LastRefreshed, node.DriftScore,
			node.CreatedAt, node.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return pkgerrors.NewConflictError("node with this external_id already exists")
			}
			return err
		}

		event := graph.NewEvent(node.TenantID, node.ID, graph.EventCreated,
			map[string]any{"classes": node.Classes}, actorID, actorType)
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		return insertVersion(ctx, tx, graph.SnapshotNode(node))
	})
	return asStorageError("create node", err)
}

// Get returns the node visible under the tenant context.
func (r *NodeStore) Get(ctx context.Context, tenantID string, id uuid.UUID) (*graph.Node, error) {
	var node *graph.Node
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+nodeColumns+` FROM nodes WHERE id = $1 AND tenant_id = $2`,
			id, tenantID)
		n, err := scanNode(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return pkgerrors.NewNotFoundError("node")
		}
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, asStorageError("get node", err)
	}
	return node, nil
}

// GetByExternalID resolves a connector-born node by its identity key.
func (r *NodeStore) GetByExternalID(ctx context.Context, tenantID, externalID string) (*graph.Node, error) {
	if externalID == "" {
		return nil, pkgerrors.NewValidationError("external_id cannot be empty")
	}
	var node *graph.Node
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+nodeColumns+` FROM nodes
			 WHERE tenant_id = $1 AND props ->> 'external_id' = $2`,
			tenantID, externalID)
		n, err := scanNode(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return pkgerrors.NewNotFoundError("node")
		}
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, asStorageError("get node by external_id", err)
	}
	return node, nil
}

// List pages through the tenant's live nodes, newest first.
func (r *NodeStore) List(ctx context.Context, tenantID string, opts ports.NodeListOptions) ([]*graph.Node, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes
		WHERE tenant_id = $1 AND NOT (classes @> ARRAY['Deleted'])`
	args := []any{tenantID}
	if len(opts.Classes) > 0 {
		args = append(args, opts.Classes)
		query += fmt.Sprintf(` AND classes && $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))
	args = append(args, offset)
	query += fmt.Sprintf(` OFFSET $%d`, len(args))

	var nodes []*graph.Node
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		nodes, err = collectNodes(rows)
		return err
	})
	if err != nil {
		return nil, asStorageError("list nodes", err)
	}
	return nodes, nil
}

// Update writes the node back guarded by the version the caller read,
// bumps the stored version, and records the updated event and a new
// snapshot. node.Version is set to the stored value on success.
func (r *NodeStore) Update(ctx context.Context, node *graph.Node, expectedVersion int) error {
	if node == nil {
		return pkgerrors.NewValidationError("node cannot be nil")
	}
	if err := r.checkDim(node.Embedding); err != nil {
		return err
	}

	policy, err := policyParam(node.RefreshPolicy)
	if err != nil {
		return err
	}
	trigs, err := triggersParam(node.Triggers)
	if err != nil {
		return err
	}
	actorID, actorType := actorFrom(ctx)
	now := time.Now().UTC()

	err = r.withTenant(ctx, node.TenantID, func(tx pgx.Tx) error {
		var newVersion int
		err := tx.QueryRow(ctx, `
			UPDATE nodes
			SET classes = $1, props = $2, metadata = $3, embedding = $4,
			    refresh_policy = $5, triggers = $6,
			    version = version + 1, updated_at = $7
			WHERE id = $8 AND tenant_id = $9 AND version = $10
			RETURNING version`,
			node.Classes, jsonMapParam(node.Props), jsonMapParam(node.Metadata),
			vectorParam(node.Embedding), policy, trigs, now,
			node.ID, node.TenantID, expectedVersion,
		).Scan(&newVersion)
		if errors.Is(err, pgx.ErrNoRows) {
			return versionConflict(ctx, tx, node.ID, expectedVersion)
		}
		if err != nil {
			return err
		}

		node.Version = newVersion
		node.UpdatedAt = now

		event := graph.NewEvent(node.TenantID, node.ID, graph.EventUpdated,
			map[string]any{"version": newVersion}, actorID, actorType)
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		return insertVersion(ctx, tx, graph.SnapshotNode(node))
	})
	return asStorageError("update node", err)
}

// versionConflict distinguishes a missing node from a lost write race.
func versionConflict(ctx context.Context, tx pgx.Tx, id uuid.UUID, expected int) error {
	var current int
	err := tx.QueryRow(ctx, `SELECT version FROM nodes WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return pkgerrors.NewNotFoundError("node")
	}
	if err != nil {
		return err
	}
	return pkgerrors.NewConflictError("node version conflict").
		WithDetails(map[string]any{"expected": expected, "actual": current})
}

// UpdateEmbedding installs a refreshed embedding and appends the
// history row. The version stays put: snapshots track content, the
// history table tracks vectors.
func (r *NodeStore) UpdateEmbedding(ctx context.Context, tenantID string, id uuid.UUID, embedding []float32, drift float64, refreshedAt time.Time, ref string) error {
	if len(embedding) == 0 {
		return pkgerrors.NewValidationError("embedding cannot be empty")
	}
	if err := r.checkDim(embedding); err != nil {
		return err
	}
	at := refreshedAt.UTC()

	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE nodes
			SET embedding = $1, drift_score = $2, last_refreshed = $3, updated_at = $3
			WHERE id = $4 AND tenant_id = $5`,
			pgvector.NewVector(embedding), drift, at, id, tenantID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pkgerrors.NewNotFoundError("node")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO embedding_history (id, tenant_id, node_id, drift_score, embedding_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), tenantID, id, drift, ref, at)
		return err
	})
	return asStorageError("update embedding", err)
}

// ListByParent returns the chunks derived from a parent document in
// chunk order. Tombstoned chunks are included so delete and purge
// passes see the whole family.
func (r *NodeStore) ListByParent(ctx context.Context, tenantID string, parentID uuid.UUID) ([]*graph.Node, error) {
	var nodes []*graph.Node
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+nodeColumns+` FROM nodes
			WHERE tenant_id = $1 AND props ->> 'parent_id' = $2
			ORDER BY COALESCE((props ->> 'chunk_index')::int, 0), created_at`,
			tenantID, parentID.String())
		if err != nil {
			return err
		}
		nodes, err = collectNodes(rows)
		return err
	})
	if err != nil {
		return nil, asStorageError("list nodes by parent", err)
	}
	return nodes, nil
}

// ListVersions returns the node's content snapshots, newest first.
func (r *NodeStore) ListVersions(ctx context.Context, tenantID string, id uuid.UUID, limit int) ([]*graph.NodeVersion, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var versions []*graph.NodeVersion
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, tenant_id, node_id, version, classes, props, created_at
			FROM node_versions
			WHERE node_id = $1 AND tenant_id = $2
			ORDER BY version DESC
			LIMIT $3`,
			id, tenantID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		versions = versions[:0]
		for rows.Next() {
			var v graph.NodeVersion
			if err := rows.Scan(&v.ID, &v.TenantID, &v.NodeID, &v.Version,
				&v.Classes, &v.Props, &v.CreatedAt); err != nil {
				return err
			}
			versions = append(versions, &v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list node versions", err)
	}
	return versions, nil
}

// SoftDelete tombstones the node and stamps the grace deadline.
func (r *NodeStore) SoftDelete(ctx context.Context, tenantID string, id uuid.UUID, graceUntil time.Time) error {
	actorID, actorType := actorFrom(ctx)
	grace := graceUntil.UTC().Format(time.RFC3339)
	now := time.Now().UTC()

	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		var (
			version int
			classes []string
			props   map[string]any
		)
		err := tx.QueryRow(ctx, `
			UPDATE nodes
			SET classes = CASE WHEN classes @> ARRAY['Deleted']
			                   THEN classes
			                   ELSE array_append(classes, 'Deleted') END,
			    props = props || jsonb_build_object('deletion_grace_until', $1::text),
			    version = version + 1,
			    updated_at = $2
			WHERE id = $3 AND tenant_id = $4
			RETURNING version, classes, props`,
			grace, now, id, tenantID,
		).Scan(&version, &classes, &props)
		if errors.Is(err, pgx.ErrNoRows) {
			return pkgerrors.NewNotFoundError("node")
		}
		if err != nil {
			return err
		}

		event := graph.NewEvent(tenantID, id, graph.EventDeleted,
			map[string]any{"hard": false, "grace_until": grace}, actorID, actorType)
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		return insertVersion(ctx, tx, &graph.NodeVersion{
			ID:        uuid.New(),
			NodeID:    id,
			TenantID:  tenantID,
			Version:   version,
			Classes:   classes,
			Props:     props,
			CreatedAt: now,
		})
	})
	return asStorageError("soft delete node", err)
}

// HardDelete removes the node row. Edges, versions, and embedding
// history cascade with it; events stay for audit.
func (r *NodeStore) HardDelete(ctx context.Context, tenantID string, id uuid.UUID) error {
	actorID, actorType := actorFrom(ctx)

	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM nodes WHERE id = $1 AND tenant_id = $2`, id, tenantID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pkgerrors.NewNotFoundError("node")
		}

		event := graph.NewEvent(tenantID, id, graph.EventDeleted,
			map[string]any{"hard": true}, actorID, actorType)
		return insertEvent(ctx, tx, event)
	})
	return asStorageError("hard delete node", err)
}

// DueCandidates returns live nodes carrying a refresh policy, the
// longest-unrefreshed first. A non-nil after keysets past rows already
// examined this sweep. The caller applies the due check.
func (r *NodeStore) DueCandidates(ctx context.Context, tenantID string, after *time.Time, limit int) ([]*graph.Node, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var nodes []*graph.Node
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+nodeColumns+` FROM nodes
			WHERE tenant_id = $1
			  AND refresh_policy IS NOT NULL
			  AND NOT (classes @> ARRAY['Deleted'])
			  AND ($2::timestamptz IS NULL OR last_refreshed > $2)
			ORDER BY last_refreshed ASC NULLS FIRST
			LIMIT $3`,
			tenantID, after, limit)
		if err != nil {
			return err
		}
		nodes, err = collectNodes(rows)
		return err
	})
	if err != nil {
		return nil, asStorageError("list due candidates", err)
	}
	return nodes, nil
}

// TriggerCandidates returns live embedded nodes declaring triggers.
func (r *NodeStore) TriggerCandidates(ctx context.Context, tenantID string, limit int) ([]*graph.Node, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var nodes []*graph.Node
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+nodeColumns+` FROM nodes
			WHERE tenant_id = $1
			  AND triggers <> '[]'::jsonb
			  AND embedding IS NOT NULL
			  AND NOT (classes @> ARRAY['Deleted'])
			ORDER BY updated_at DESC
			LIMIT $2`,
			tenantID, limit)
		if err != nil {
			return err
		}
		nodes, err = collectNodes(rows)
		return err
	})
	if err != nil {
		return nil, asStorageError("list trigger candidates", err)
	}
	return nodes, nil
}

// ExpiredTombstones scans every tenant for tombstones past grace.
// RFC 3339 UTC strings compare lexicographically in time order, which
// is what lets the deadline live in props and still use an index.
func (r *NodeStore) ExpiredTombstones(ctx context.Context, now time.Time, limit int) ([]ports.Tombstone, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	cutoff := now.UTC().Format(time.RFC3339)

	var tombstones []ports.Tombstone
	err := r.withMaintenance(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT tenant_id, id, props ->> 'deletion_grace_until'
			FROM nodes
			WHERE classes @> ARRAY['Deleted']
			  AND props ? 'deletion_grace_until'
			  AND (props ->> 'deletion_grace_until') <= $1
			ORDER BY props ->> 'deletion_grace_until'
			LIMIT $2`,
			cutoff, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		tombstones = tombstones[:0]
		for rows.Next() {
			var (
				t        ports.Tombstone
				graceRaw string
			)
			if err := rows.Scan(&t.TenantID, &t.NodeID, &graceRaw); err != nil {
				return err
			}
			if parsed, err := time.Parse(time.RFC3339, graceRaw); err == nil {
				t.GraceUntil = parsed
			}
			tombstones = append(tombstones, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("scan tombstones", err)
	}
	return tombstones, nil
}

// Tenants lists every tenant holding at least one node.
func (r *NodeStore) Tenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := r.withMaintenance(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT DISTINCT tenant_id FROM nodes ORDER BY tenant_id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		tenants = tenants[:0]
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return err
			}
			tenants = append(tenants, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list tenants", err)
	}
	return tenants, nil
}
