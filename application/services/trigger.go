package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// Run modes for trigger metrics.
const (
	TriggerModeFull     = "full"
	TriggerModeTargeted = "targeted"
)

// defaultTriggerThreshold applies when a trigger spec omits its own.
const defaultTriggerThreshold = 0.85

// fullScanBatch bounds how many trigger-bearing nodes one full scan
// evaluates.
const fullScanBatch = 1000

// Trigger events are appended by the engine itself, not a caller.
const (
	triggerActorID   = "trigger_engine"
	triggerActorType = "trigger"
)

// TriggerEngine matches node embeddings against stored pattern vectors
// and appends trigger_fired events when similarity crosses the
// trigger's threshold.
type TriggerEngine struct {
	nodes    ports.NodeRepository
	patterns ports.PatternRepository
	events   ports.EventRepository
	metrics  *observability.Collector
	logger   *zap.Logger
}

// NewTriggerEngine wires the trigger engine.
func NewTriggerEngine(
	nodes ports.NodeRepository,
	patterns ports.PatternRepository,
	events ports.EventRepository,
	metrics *observability.Collector,
	logger *zap.Logger,
) *TriggerEngine {
	return &TriggerEngine{
		nodes:    nodes,
		patterns: patterns,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run evaluates every trigger-bearing node of the tenant. Full scans
// are expensive; only admin paths call this.
func (e *TriggerEngine) Run(ctx context.Context, tenantID string) (int, error) {
	start := time.Now()
	defer func() {
		e.metrics.TriggerRunLatency.WithLabelValues(TriggerModeFull).
			Observe(time.Since(start).Seconds())
	}()

	nodes, err := e.nodes.TriggerCandidates(ctx, tenantID, fullScanBatch)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, n := range nodes {
		count, err := e.evaluate(ctx, n, TriggerModeFull)
		fired += count
		if err != nil {
			e.logger.Error("trigger evaluation failed",
				zap.String("tenant_id", tenantID),
				zap.String("node_id", n.ID.String()),
				zap.Error(err))
		}
	}
	return fired, nil
}

// RunFor evaluates triggers for specific nodes. This is the hot path
// invoked after every refresh.
func (e *TriggerEngine) RunFor(ctx context.Context, tenantID string, nodeIDs []uuid.UUID) (int, error) {
	start := time.Now()
	defer func() {
		e.metrics.TriggerRunLatency.WithLabelValues(TriggerModeTargeted).
			Observe(time.Since(start).Seconds())
	}()

	fired := 0
	for _, id := range nodeIDs {
		node, err := e.nodes.Get(ctx, tenantID, id)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				continue
			}
			return fired, err
		}
		count, err := e.evaluate(ctx, node, TriggerModeTargeted)
		fired += count
		if err != nil {
			e.logger.Error("trigger evaluation failed",
				zap.String("tenant_id", tenantID),
				zap.String("node_id", id.String()),
				zap.Error(err))
		}
	}
	return fired, nil
}

// evaluate matches one node against its declared triggers. Missing
// patterns are skipped silently.
func (e *TriggerEngine) evaluate(ctx context.Context, node *graph.Node, mode string) (int, error) {
	if len(node.Embedding) == 0 || len(node.Triggers) == 0 {
		return 0, nil
	}

	fired := 0
	for _, spec := range node.Triggers {
		pattern, err := e.patterns.Get(ctx, node.TenantID, spec.Name)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				continue
			}
			return fired, err
		}

		threshold := spec.Threshold
		if threshold <= 0 {
			threshold = defaultTriggerThreshold
		}
		similarity := graph.Cosine(node.Embedding, pattern.Embedding)
		if similarity < threshold {
			continue
		}

		event := graph.NewEvent(node.TenantID, node.ID, graph.EventTriggerFired,
			map[string]any{"trigger": spec.Name, "similarity": similarity},
			triggerActorID, triggerActorType)
		if err := e.events.Append(ctx, event); err != nil {
			return fired, err
		}
		e.metrics.TriggersFired.WithLabelValues(spec.Name, mode).Inc()
		fired++

		e.logger.Info("trigger fired",
			zap.String("tenant_id", node.TenantID),
			zap.String("node_id", node.ID.String()),
			zap.String("trigger", spec.Name),
			zap.Float64("similarity", similarity),
			zap.Float64("threshold", threshold))
	}
	return fired, nil
}
