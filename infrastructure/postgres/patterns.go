package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// patternTx picks the tenant or maintenance plane: global patterns
// (empty tenant) are written at bootstrap, outside any request.
func (r *PatternStore) patternTx(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	if tenantID == "" {
		return r.withMaintenance(ctx, fn)
	}
	return r.withTenant(ctx, tenantID, fn)
}

// Upsert inserts or replaces the pattern by (tenant, name).
func (r *PatternStore) Upsert(ctx context.Context, pattern *graph.Pattern) error {
	if pattern == nil {
		return pkgerrors.NewValidationError("pattern cannot be nil")
	}
	if pattern.Name == "" {
		return pkgerrors.NewValidationError("pattern name cannot be empty")
	}
	if err := r.checkDim(pattern.Embedding); err != nil {
		return err
	}
	if len(pattern.Embedding) == 0 {
		return pkgerrors.NewValidationError("pattern embedding cannot be empty")
	}

	now := time.Now().UTC()
	err := r.patternTx(ctx, pattern.TenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO patterns (tenant_id, name, embedding, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (tenant_id, name) DO UPDATE
			SET embedding = EXCLUDED.embedding,
			    description = EXCLUDED.description,
			    updated_at = EXCLUDED.updated_at
			RETURNING created_at, updated_at`,
			pattern.TenantID, pattern.Name, pgvector.NewVector(pattern.Embedding),
			pattern.Description, now,
		).Scan(&pattern.CreatedAt, &pattern.UpdatedAt)
	})
	return asStorageError("upsert pattern", err)
}

// Get returns the tenant's pattern by name, preferring a tenant row
// over a global one with the same name.
func (r *PatternStore) Get(ctx context.Context, tenantID, name string) (*graph.Pattern, error) {
	var pattern *graph.Pattern
	err := r.patternTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT tenant_id, name, embedding, description, created_at, updated_at
			FROM patterns
			WHERE name = $1 AND (tenant_id = $2 OR tenant_id = '')
			ORDER BY (tenant_id = $2) DESC
			LIMIT 1`,
			name, tenantID)
		p, err := scanPattern(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return pkgerrors.NewNotFoundError("pattern")
		}
		if err != nil {
			return err
		}
		pattern = p
		return nil
	})
	if err != nil {
		return nil, asStorageError("get pattern", err)
	}
	return pattern, nil
}

// List returns the tenant's patterns plus the globals, with tenant
// rows shadowing globals of the same name.
func (r *PatternStore) List(ctx context.Context, tenantID string) ([]*graph.Pattern, error) {
	var patterns []*graph.Pattern
	err := r.patternTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT DISTINCT ON (name)
			       tenant_id, name, embedding, description, created_at, updated_at
			FROM patterns
			WHERE tenant_id = $1 OR tenant_id = ''
			ORDER BY name, (tenant_id = $1) DESC`,
			tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		patterns = patterns[:0]
		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				return err
			}
			patterns = append(patterns, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list patterns", err)
	}
	return patterns, nil
}

// Delete removes the tenant's pattern by name. Globals are only
// deletable from the maintenance plane with an empty tenant.
func (r *PatternStore) Delete(ctx context.Context, tenantID, name string) error {
	err := r.patternTx(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM patterns WHERE tenant_id = $1 AND name = $2`,
			tenantID, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pkgerrors.NewNotFoundError("pattern")
		}
		return nil
	})
	return asStorageError("delete pattern", err)
}

func scanPattern(row rowScanner) (*graph.Pattern, error) {
	var (
		p   graph.Pattern
		vec pgvector.Vector
	)
	if err := row.Scan(&p.TenantID, &p.Name, &vec, &p.Description,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Embedding = vec.Slice()
	return &p, nil
}
