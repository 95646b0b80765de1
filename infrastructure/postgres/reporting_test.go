package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockReporting(t *testing.T) (*Reporting, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReportingFromDB(db, zap.NewNop()), mock
}

func TestCoverage(t *testing.T) {
	r, mock := newMockReporting(t)

	mock.ExpectQuery(`count\(embedding\) AS embedded`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "total", "embedded", "max_staleness_seconds"}).
			AddRow("acme", int64(10), int64(8), 3600.5).
			AddRow("globex", int64(3), int64(3), 0.0))

	rows, err := r.Coverage(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "acme", rows[0].TenantID)
	assert.EqualValues(t, 10, rows[0].Total)
	assert.EqualValues(t, 8, rows[0].Embedded)
	assert.InDelta(t, 3600.5, rows[0].MaxStalenessSeconds, 1e-9)
	assert.Equal(t, "globex", rows[1].TenantID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoverageEmpty(t *testing.T) {
	r, mock := newMockReporting(t)

	mock.ExpectQuery(`count\(embedding\) AS embedded`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "total", "embedded", "max_staleness_seconds"}))

	rows, err := r.Coverage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLastRefreshByClass(t *testing.T) {
	r, mock := newMockReporting(t)
	refreshed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`unnest\(classes\) AS class_name`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "class_name", "last_refreshed"}).
			AddRow("acme", "Document", refreshed))

	rows, err := r.LastRefreshByClass(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Document", rows[0].ClassName)
	assert.True(t, rows[0].LastRefreshed.Equal(refreshed))
}

func TestAnomalies(t *testing.T) {
	r, mock := newMockReporting(t)
	nodeID := uuid.New()
	updated := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`'high_drift' AS kind`).
		WithArgs(0.5, 20).
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "node_id", "kind", "drift_score", "updated_at"}).
			AddRow("acme", nodeID.String(), "high_drift", 0.72, updated).
			AddRow("acme", uuid.NewString(), "expired_tombstone", 0.0, updated))

	rows, err := r.Anomalies(context.Background(), 0.5, 20)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, nodeID, rows[0].NodeID)
	assert.Equal(t, "high_drift", rows[0].Kind)
	assert.InDelta(t, 0.72, rows[0].DriftScore, 1e-9)
	assert.Equal(t, "expired_tombstone", rows[1].Kind)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnomaliesDefaultsLimit(t *testing.T) {
	r, mock := newMockReporting(t)

	mock.ExpectQuery(`'high_drift' AS kind`).
		WithArgs(0.3, defaultListLimit).
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "node_id", "kind", "drift_score", "updated_at"}))

	_, err := r.Anomalies(context.Background(), 0.3, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
