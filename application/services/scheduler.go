package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

const (
	schedulerJobID   = "refresh_cycle"
	schedulerJobKind = "interval"

	// A cycle that outlives this is wedged on I/O; cut it loose.
	cycleTimeout = 5 * time.Minute

	fallbackTick = 5 * time.Second
)

// SchedulerOptions are the runtime-tunable scheduler knobs.
type SchedulerOptions struct {
	Tick      time.Duration
	BatchSize int
}

// Scheduler is the single background refresh loop: it wakes on a short
// tick and refreshes due nodes in bounded per-tenant batches. It is not
// a worker pool; ingestion concurrency lives in the queue workers.
type Scheduler struct {
	refresh   *RefreshService
	nodes     ports.NodeRepository
	reporting *ReportingService
	opts      func() SchedulerOptions
	metrics   *observability.Collector
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewScheduler wires the refresh loop. Call Start to run it. reporting
// may be nil; gauges simply go unpublished.
func NewScheduler(
	refresh *RefreshService,
	nodes ports.NodeRepository,
	reporting *ReportingService,
	opts func() SchedulerOptions,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		refresh:   refresh,
		nodes:     nodes,
		reporting: reporting,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start launches the loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.logger.Info("refresh scheduler started",
		zap.Duration("tick", s.opts().Tick),
		zap.Int("batch_size", s.opts().BatchSize))
}

// Stop cancels the loop and waits for any running cycle to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("refresh scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		tick := s.opts().Tick
		if tick <= 0 {
			tick = fallbackTick
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(tick):
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one pass over every tenant's due nodes. Exported
// so admin paths and tests can drive a cycle directly.
func (s *Scheduler) RunCycle(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	if !s.lastRun.IsZero() {
		s.metrics.ScheduleInterRun.WithLabelValues(schedulerJobID).
			Observe(now.Sub(s.lastRun).Seconds())
	}
	s.lastRun = now
	s.mu.Unlock()
	s.metrics.ScheduleRuns.WithLabelValues(schedulerJobID, schedulerJobKind).Inc()

	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	tenants, err := s.nodes.Tenants(ctx)
	if err != nil {
		s.logger.Error("scheduler tenant scan failed", zap.Error(err))
		return
	}

	total := 0
	batch := s.opts().BatchSize
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return
		}
		report, err := s.refresh.RefreshDue(ctx, tenant, batch, false, schedulerActorID, auth.ActorTypeSystem)
		if err != nil {
			s.logger.Error("refresh cycle failed",
				zap.String("tenant_id", tenant), zap.Error(err))
			continue
		}
		total += report.Requested
		if report.Requested > 0 {
			s.logger.Info("refresh cycle",
				zap.String("tenant_id", tenant),
				zap.Int("due", report.Requested),
				zap.Int("refreshed", report.Refreshed),
				zap.Int("errors", report.Errors))
		}
	}
	s.metrics.RefreshCycleNodes.Observe(float64(total))

	if s.reporting != nil {
		s.reporting.PublishGauges(ctx)
	}
}
