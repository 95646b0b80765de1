package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

func TestAnomaliesAppliesDefaults(t *testing.T) {
	repo := &memReporting{anomalies: []ports.AnomalyRow{{TenantID: "acme", Kind: "drift_spike"}}}
	svc := NewReportingService(repo, nil, observability.NewCollector(), zap.NewNop())

	rows, err := svc.Anomalies(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.InDelta(t, 0.5, repo.lastDrift, 1e-9)
	assert.Equal(t, 100, repo.lastLimit)

	_, err = svc.Anomalies(context.Background(), 0.8, 25)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, repo.lastDrift, 1e-9)
	assert.Equal(t, 25, repo.lastLimit)
}

func TestPublishGaugesCoverageAndRefresh(t *testing.T) {
	refreshedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &memReporting{
		coverage: []ports.CoverageRow{
			{TenantID: "acme", Total: 10, Embedded: 5, MaxStalenessSeconds: 3600},
			{TenantID: "beta", Total: 0, Embedded: 0},
		},
		refreshes: []ports.ClassRefreshRow{
			{TenantID: "acme", ClassName: "Document", LastRefreshed: refreshedAt},
		},
	}
	metrics := observability.NewCollector()
	svc := NewReportingService(repo, nil, metrics, zap.NewNop())

	svc.PublishGauges(context.Background())

	assert.InDelta(t, 0.5, testutil.ToFloat64(metrics.EmbeddingCoverage.WithLabelValues("acme")), 1e-9)
	assert.InDelta(t, 3600, testutil.ToFloat64(metrics.EmbeddingMaxStaleness.WithLabelValues("acme")), 1e-9)
	assert.Zero(t, testutil.ToFloat64(metrics.EmbeddingCoverage.WithLabelValues("beta")),
		"empty tenant reads as zero coverage, not a division blowup")
	assert.InDelta(t, float64(refreshedAt.Unix()),
		testutil.ToFloat64(metrics.LastRefreshTimestamp.WithLabelValues("Document", "acme")), 1e-9)
}

func TestPublishGaugesDeadLetterDepth(t *testing.T) {
	queue := newStubQueue()
	ctx := context.Background()
	_, err := queue.Enqueue(ctx, s3Ref,
		[]connector.ChangeItem{{URI: "s3://bucket/live.txt", Operation: connector.OpUpsert, TenantID: "acme"}})
	require.NoError(t, err)
	require.NoError(t, queue.DeadLetter(ctx, s3Ref,
		connector.ChangeItem{URI: "s3://bucket/dead.txt", Operation: connector.OpUpsert, TenantID: "acme"}, "poison"))

	metrics := observability.NewCollector()
	svc := NewReportingService(&memReporting{}, queue, metrics, zap.NewNop())

	svc.PublishGauges(ctx)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.DLQDepth.WithLabelValues("s3", "acme")), 1e-9)
}

func TestPublishGaugesCoverageFailureSkipped(t *testing.T) {
	refreshedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &memReporting{
		coverageErr: assert.AnError,
		refreshes:   []ports.ClassRefreshRow{{TenantID: "acme", ClassName: "Document", LastRefreshed: refreshedAt}},
	}
	metrics := observability.NewCollector()
	svc := NewReportingService(repo, nil, metrics, zap.NewNop())

	svc.PublishGauges(context.Background())
	assert.InDelta(t, float64(refreshedAt.Unix()),
		testutil.ToFloat64(metrics.LastRefreshTimestamp.WithLabelValues("Document", "acme")), 1e-9,
		"one failing query does not stop the others")
}
