package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

const (
	defaultAnomalyDrift = 0.5
	defaultAnomalyLimit = 100
)

// ReportingService serves the anomaly report and keeps the fleet-level
// gauges current: embedding coverage and staleness per tenant, last
// refresh per class, and dead letter depth per queue.
type ReportingService struct {
	reporting ports.ReportingRepository
	queue     ports.IngestQueue
	metrics   *observability.Collector
	logger    *zap.Logger
}

// NewReportingService wires the reporting reads. queue may be nil when
// the process runs no workers.
func NewReportingService(
	reporting ports.ReportingRepository,
	queue ports.IngestQueue,
	metrics *observability.Collector,
	logger *zap.Logger,
) *ReportingService {
	return &ReportingService{reporting: reporting, queue: queue, metrics: metrics, logger: logger}
}

// Anomalies returns nodes in suspect states: drift spikes past the
// threshold, refreshes stuck beyond their policy, tombstones past
// grace.
func (s *ReportingService) Anomalies(ctx context.Context, driftThreshold float64, limit int) ([]ports.AnomalyRow, error) {
	if driftThreshold <= 0 {
		driftThreshold = defaultAnomalyDrift
	}
	if limit <= 0 {
		limit = defaultAnomalyLimit
	}
	return s.reporting.Anomalies(ctx, driftThreshold, limit)
}

// PublishGauges recomputes the aggregate gauges. Failures are logged
// and skipped; a stale gauge beats a dead scheduler cycle.
func (s *ReportingService) PublishGauges(ctx context.Context) {
	if rows, err := s.reporting.Coverage(ctx); err != nil {
		s.logger.Warn("coverage gauge refresh failed", zap.Error(err))
	} else {
		for _, row := range rows {
			ratio := 0.0
			if row.Total > 0 {
				ratio = float64(row.Embedded) / float64(row.Total)
			}
			s.metrics.EmbeddingCoverage.WithLabelValues(row.TenantID).Set(ratio)
			s.metrics.EmbeddingMaxStaleness.WithLabelValues(row.TenantID).Set(row.MaxStalenessSeconds)
		}
	}

	if rows, err := s.reporting.LastRefreshByClass(ctx); err != nil {
		s.logger.Warn("last refresh gauge refresh failed", zap.Error(err))
	} else {
		for _, row := range rows {
			s.metrics.LastRefreshTimestamp.
				WithLabelValues(row.ClassName, row.TenantID).
				Set(float64(row.LastRefreshed.Unix()))
		}
	}

	s.publishQueueDepths(ctx)
}

func (s *ReportingService) publishQueueDepths(ctx context.Context) {
	if s.queue == nil {
		return
	}
	refs, err := s.queue.ActiveQueues(ctx)
	if err != nil {
		s.logger.Warn("queue discovery failed for depth gauges", zap.Error(err))
		return
	}
	for _, ref := range refs {
		depth, err := s.queue.DLQDepth(ctx, ref)
		if err != nil {
			continue
		}
		s.metrics.DLQDepth.WithLabelValues(ref.Provider, ref.TenantID).Set(float64(depth))
	}
}
