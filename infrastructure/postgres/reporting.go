package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
)

// Reporting serves the read-only aggregates behind the coverage gauges
// and the anomaly report. It rides sqlx over the shared pool; the
// queries span all tenants and run on the maintenance plane.
type Reporting struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ ports.ReportingRepository = (*Reporting)(nil)

// NewReporting wraps the pgx pool for sqlx consumption.
func NewReporting(pool *pgxpool.Pool, logger *zap.Logger) *Reporting {
	return NewReportingFromDB(stdlib.OpenDBFromPool(pool), logger)
}

// NewReportingFromDB builds a Reporting over an existing database
// handle. Tests inject a mock through here.
func NewReportingFromDB(db *sql.DB, logger *zap.Logger) *Reporting {
	return &Reporting{db: sqlx.NewDb(db, "pgx"), logger: logger}
}

const coverageQuery = `
	SELECT tenant_id,
	       count(*) AS total,
	       count(embedding) AS embedded,
	       coalesce(extract(epoch FROM now() - min(last_refreshed)), 0) AS max_staleness_seconds
	FROM nodes
	WHERE NOT (classes @> ARRAY['Deleted'])
	GROUP BY tenant_id
	ORDER BY tenant_id`

// Coverage aggregates embedding health per tenant.
func (r *Reporting) Coverage(ctx context.Context) ([]ports.CoverageRow, error) {
	var out []ports.CoverageRow
	if err := r.db.SelectContext(ctx, &out, coverageQuery); err != nil {
		return nil, asStorageError("coverage report", err)
	}
	return out, nil
}

const lastRefreshQuery = `
	SELECT tenant_id, class_name, max(last_refreshed) AS last_refreshed
	FROM nodes, unnest(classes) AS class_name
	WHERE last_refreshed IS NOT NULL
	  AND NOT (classes @> ARRAY['Deleted'])
	GROUP BY tenant_id, class_name
	ORDER BY tenant_id, class_name`

// LastRefreshByClass reports the newest completed refresh per tenant
// and class.
func (r *Reporting) LastRefreshByClass(ctx context.Context) ([]ports.ClassRefreshRow, error) {
	var out []ports.ClassRefreshRow
	if err := r.db.SelectContext(ctx, &out, lastRefreshQuery); err != nil {
		return nil, asStorageError("last refresh report", err)
	}
	return out, nil
}

const anomaliesQuery = `
	SELECT tenant_id, node_id, kind, drift_score, updated_at FROM (
		SELECT tenant_id, id AS node_id, 'high_drift' AS kind, drift_score, updated_at
		FROM nodes
		WHERE drift_score >= $1 AND NOT (classes @> ARRAY['Deleted'])
		UNION ALL
		SELECT tenant_id, id, 'never_refreshed', drift_score, updated_at
		FROM nodes
		WHERE refresh_policy IS NOT NULL
		  AND last_refreshed IS NULL
		  AND created_at < now() - interval '1 day'
		UNION ALL
		SELECT tenant_id, id, 'expired_tombstone', drift_score, updated_at
		FROM nodes
		WHERE classes @> ARRAY['Deleted']
		  AND props ? 'deletion_grace_until'
		  AND (props ->> 'deletion_grace_until')::timestamptz <= now()
	) anomalies
	ORDER BY drift_score DESC, updated_at
	LIMIT $2`

// Anomalies flags nodes in suspect states: drift above the threshold,
// refresh policies that never ran, and tombstones past grace.
func (r *Reporting) Anomalies(ctx context.Context, driftThreshold float64, limit int) ([]ports.AnomalyRow, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []ports.AnomalyRow
	if err := r.db.SelectContext(ctx, &out, anomaliesQuery, driftThreshold, limit); err != nil {
		return nil, asStorageError("anomaly report", err)
	}
	return out, nil
}
