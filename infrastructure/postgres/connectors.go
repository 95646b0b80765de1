package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const connectorColumns = `id, tenant_id, provider, config_json, enabled, key_version, created_at, updated_at`

func scanConnectorConfig(row rowScanner) (*connector.Config, error) {
	var cfg connector.Config
	err := row.Scan(&cfg.ID, &cfg.TenantID, &cfg.Provider, &cfg.Settings,
		&cfg.Enabled, &cfg.KeyVersion, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Upsert inserts or replaces the (tenant, provider) registration.
// Settings arrive with secret fields already encrypted.
func (r *ConnectorStore) Upsert(ctx context.Context, cfg *connector.Config) error {
	if cfg == nil {
		return pkgerrors.NewValidationError("connector config cannot be nil")
	}
	if cfg.Provider == "" {
		return pkgerrors.NewValidationError("provider cannot be empty")
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()

	err := r.withTenant(ctx, cfg.TenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO connector_configs (id, tenant_id, provider, config_json, enabled, key_version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (tenant_id, provider) DO UPDATE
			SET config_json = EXCLUDED.config_json,
			    enabled = EXCLUDED.enabled,
			    key_version = EXCLUDED.key_version,
			    updated_at = EXCLUDED.updated_at
			RETURNING id, created_at, updated_at`,
			cfg.ID, cfg.TenantID, cfg.Provider, jsonMapParam(cfg.Settings),
			cfg.Enabled, cfg.KeyVersion, now,
		).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
	})
	return asStorageError("upsert connector config", err)
}

// Get returns the registration for (tenant, provider).
func (r *ConnectorStore) Get(ctx context.Context, tenantID, provider string) (*connector.Config, error) {
	var cfg *connector.Config
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+connectorColumns+` FROM connector_configs
			WHERE tenant_id = $1 AND provider = $2`,
			tenantID, provider)
		c, err := scanConnectorConfig(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return pkgerrors.NewNotFoundError("connector config")
		}
		if err != nil {
			return err
		}
		cfg = c
		return nil
	})
	if err != nil {
		return nil, asStorageError("get connector config", err)
	}
	return cfg, nil
}

// List returns all of the tenant's registrations.
func (r *ConnectorStore) List(ctx context.Context, tenantID string) ([]*connector.Config, error) {
	var configs []*connector.Config
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+connectorColumns+` FROM connector_configs
			WHERE tenant_id = $1
			ORDER BY provider`,
			tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		configs = configs[:0]
		for rows.Next() {
			c, err := scanConnectorConfig(rows)
			if err != nil {
				return err
			}
			configs = append(configs, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list connector configs", err)
	}
	return configs, nil
}

// ListEnabled returns every enabled registration across tenants.
// Drives queue discovery in the worker and the pollers.
func (r *ConnectorStore) ListEnabled(ctx context.Context) ([]*connector.Config, error) {
	var configs []*connector.Config
	err := r.withMaintenance(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+connectorColumns+` FROM connector_configs
			WHERE enabled
			ORDER BY tenant_id, provider`)
		if err != nil {
			return err
		}
		defer rows.Close()

		configs = configs[:0]
		for rows.Next() {
			c, err := scanConnectorConfig(rows)
			if err != nil {
				return err
			}
			configs = append(configs, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list enabled connector configs", err)
	}
	return configs, nil
}

// SetEnabled flips the enabled flag.
func (r *ConnectorStore) SetEnabled(ctx context.Context, tenantID, provider string, enabled bool) error {
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE connector_configs
			SET enabled = $1, updated_at = $2
			WHERE tenant_id = $3 AND provider = $4`,
			enabled, time.Now().UTC(), tenantID, provider)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pkgerrors.NewNotFoundError("connector config")
		}
		return nil
	})
	return asStorageError("set connector enabled", err)
}

// Delete removes the registration and its cursor.
func (r *ConnectorStore) Delete(ctx context.Context, tenantID, provider string) error {
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM connector_configs
			WHERE tenant_id = $1 AND provider = $2`,
			tenantID, provider)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pkgerrors.NewNotFoundError("connector config")
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM connector_cursors
			WHERE tenant_id = $1 AND provider = $2`,
			tenantID, provider)
		return err
	})
	return asStorageError("delete connector config", err)
}

// RotationCandidates returns registrations sealed with a KEK other
// than the active one, oldest first.
func (r *ConnectorStore) RotationCandidates(ctx context.Context, activeVersion, limit int) ([]*connector.Config, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var configs []*connector.Config
	err := r.withMaintenance(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+connectorColumns+` FROM connector_configs
			WHERE key_version <> $1
			ORDER BY updated_at
			LIMIT $2`,
			activeVersion, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		configs = configs[:0]
		for rows.Next() {
			c, err := scanConnectorConfig(rows)
			if err != nil {
				return err
			}
			configs = append(configs, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("list rotation candidates", err)
	}
	return configs, nil
}

// Reencrypt writes back settings re-sealed under the new KEK, guarded
// by the key version the candidate was read at so concurrent rotation
// or re-registration never silently loses a write.
func (r *ConnectorStore) Reencrypt(ctx context.Context, tenantID, provider string, settings map[string]any, fromVersion, toVersion int) error {
	err := r.withMaintenance(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE connector_configs
			SET config_json = $1, key_version = $2, updated_at = $3
			WHERE tenant_id = $4 AND provider = $5 AND key_version = $6`,
			jsonMapParam(settings), toVersion, time.Now().UTC(),
			tenantID, provider, fromVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pkgerrors.NewConflictError("connector config changed during rotation")
		}
		return nil
	})
	return asStorageError("reencrypt connector config", err)
}

// GetCursor returns the saved sync position, or an empty state for a
// connector that has never synced.
func (r *ConnectorStore) GetCursor(ctx context.Context, tenantID, provider string) (map[string]any, error) {
	var state map[string]any
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT cursor FROM connector_cursors
			WHERE tenant_id = $1 AND provider = $2`,
			tenantID, provider).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			state = map[string]any{}
			return nil
		}
		return err
	})
	if err != nil {
		return nil, asStorageError("get connector cursor", err)
	}
	if state == nil {
		state = map[string]any{}
	}
	return state, nil
}

// PutCursor saves the sync position.
func (r *ConnectorStore) PutCursor(ctx context.Context, tenantID, provider string, state map[string]any) error {
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO connector_cursors (id, tenant_id, provider, cursor, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, provider) DO UPDATE
			SET cursor = EXCLUDED.cursor,
			    updated_at = EXCLUDED.updated_at`,
			uuid.New(), tenantID, provider, jsonMapParam(state), time.Now().UTC())
		return err
	})
	return asStorageError("put connector cursor", err)
}
