package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// Actors stamped on refresh events.
const (
	schedulerActorID = "scheduler"
	adminActorID     = "admin"
)

// Refresh result labels.
const (
	refreshResultOK    = "ok"
	refreshResultError = "error"
)

// Due-sweep paging: batch size used when the caller passes none, and
// the cap on candidates examined per sweep to keep it cooperative.
const (
	defaultDueBatch = 100
	dueScanFactor   = 10
)

// RefreshOutcome summarizes one node refresh.
type RefreshOutcome struct {
	NodeID       uuid.UUID `json:"node_id"`
	DriftScore   float64   `json:"drift_score"`
	EventEmitted bool      `json:"event_emitted"`
	Error        string    `json:"error,omitempty"`
}

// RefreshReport aggregates a refresh batch.
type RefreshReport struct {
	Requested int              `json:"requested"`
	Refreshed int              `json:"refreshed"`
	Errors    int              `json:"errors"`
	Results   []RefreshOutcome `json:"results"`
}

// RefreshService re-embeds nodes and applies the drift gate: a
// refreshed event is written only when drift crosses the node's
// threshold or the refresh was requested manually.
type RefreshService struct {
	nodes    ports.NodeRepository
	events   ports.EventRepository
	encoder  ports.Encoder
	loader   ports.PayloadLoader
	triggers *TriggerEngine
	metrics  *observability.Collector
	logger   *zap.Logger
}

// NewRefreshService wires the refresh pipeline.
func NewRefreshService(
	nodes ports.NodeRepository,
	events ports.EventRepository,
	encoder ports.Encoder,
	loader ports.PayloadLoader,
	triggers *TriggerEngine,
	metrics *observability.Collector,
	logger *zap.Logger,
) *RefreshService {
	return &RefreshService{
		nodes:    nodes,
		events:   events,
		encoder:  encoder,
		loader:   loader,
		triggers: triggers,
		metrics:  metrics,
		logger:   logger,
	}
}

// RefreshNode re-embeds one node: load text, encode, measure drift,
// persist, gate the event, and hand the node to the trigger engine.
func (s *RefreshService) RefreshNode(ctx context.Context, node *graph.Node, manual bool, actorID, actorType string) (*RefreshOutcome, error) {
	start := time.Now()
	outcome := &RefreshOutcome{NodeID: node.ID}

	text, err := s.loadText(ctx, node)
	if err != nil {
		return s.fail(outcome, start, err)
	}

	embedding, err := s.encoder.EncodeOne(ctx, text)
	if err != nil {
		return s.fail(outcome, start, err)
	}

	drift := 0.0
	if len(node.Embedding) > 0 {
		drift = graph.Drift(node.Embedding, embedding)
	}
	outcome.DriftScore = drift

	now := time.Now().UTC()
	if err := s.nodes.UpdateEmbedding(ctx, node.TenantID, node.ID, embedding, drift, now, s.encoder.Model()); err != nil {
		return s.fail(outcome, start, err)
	}

	threshold := node.RefreshPolicy.Threshold()
	if drift >= threshold || manual {
		event := graph.NewEvent(node.TenantID, node.ID, graph.EventRefreshed,
			graph.RefreshedPayload(drift, threshold, manual), actorID, actorType)
		if err := s.events.Append(ctx, event); err != nil {
			return s.fail(outcome, start, err)
		}
		outcome.EventEmitted = true
	}

	if _, err := s.triggers.RunFor(ctx, node.TenantID, []uuid.UUID{node.ID}); err != nil {
		s.logger.Warn("post-refresh trigger pass failed",
			zap.String("tenant_id", node.TenantID),
			zap.String("node_id", node.ID.String()),
			zap.Error(err))
	}

	s.metrics.NodeRefreshLatency.WithLabelValues(refreshResultOK).Observe(time.Since(start).Seconds())
	s.metrics.NodesRefreshed.WithLabelValues(refreshResultOK).Inc()
	return outcome, nil
}

// RefreshByIDs force-refreshes an explicit node list regardless of due
// state. Admin path: events carry the admin actor and manual_trigger.
func (s *RefreshService) RefreshByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) (*RefreshReport, error) {
	report := &RefreshReport{Requested: len(ids), Results: []RefreshOutcome{}}
	for _, id := range ids {
		node, err := s.nodes.Get(ctx, tenantID, id)
		if err != nil {
			report.Errors++
			report.Results = append(report.Results, RefreshOutcome{NodeID: id, Error: err.Error()})
			continue
		}
		outcome, err := s.RefreshNode(ctx, node, true, adminActorID, auth.ActorTypeUser)
		report.Results = append(report.Results, *outcome)
		if err != nil {
			report.Errors++
			continue
		}
		report.Refreshed++
	}
	return report, nil
}

// RefreshDue refreshes the tenant's due nodes up to batchSize.
// Candidates are walked oldest-first in pages, so long-interval nodes
// that are not yet due cannot crowd a due node out of the sweep.
func (s *RefreshService) RefreshDue(ctx context.Context, tenantID string, batchSize int, manual bool, actorID, actorType string) (*RefreshReport, error) {
	if batchSize <= 0 {
		batchSize = defaultDueBatch
	}

	now := time.Now().UTC()
	report := &RefreshReport{Results: []RefreshOutcome{}}
	var cursor *time.Time
	scanned := 0
	for report.Requested < batchSize && scanned < batchSize*dueScanFactor {
		page, err := s.nodes.DueCandidates(ctx, tenantID, cursor, batchSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		scanned += len(page)

		for _, node := range page {
			if report.Requested == batchSize {
				break
			}
			if !node.RefreshPolicy.IsDue(node.LastRefreshed, now) {
				continue
			}
			report.Requested++
			outcome, err := s.RefreshNode(ctx, node, manual, actorID, actorType)
			report.Results = append(report.Results, *outcome)
			if err != nil {
				report.Errors++
				continue
			}
			report.Refreshed++
		}

		if len(page) < batchSize {
			break
		}
		// NULLS FIRST ordering: a nil tail means the whole page was
		// never-refreshed rows. The due ones now carry a timestamp, so
		// refetching from the start advances; if none were due it
		// never will.
		tail := page[len(page)-1].LastRefreshed
		if tail == nil && report.Requested == 0 {
			break
		}
		cursor = tail
	}
	return report, nil
}

// loadText resolves the node's content: inline props.text first, then
// the payload_ref loaders.
func (s *RefreshService) loadText(ctx context.Context, node *graph.Node) (string, error) {
	text := node.Text()
	if text == "" {
		if ref := node.PayloadRef(); ref != "" && s.loader != nil {
			loaded, err := s.loader.Load(ctx, node.TenantID, ref)
			if err != nil {
				return "", err
			}
			text = loaded
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", pkgerrors.NewValidationError("node has no text or payload_ref to refresh")
	}
	return text, nil
}

func (s *RefreshService) fail(outcome *RefreshOutcome, start time.Time, err error) (*RefreshOutcome, error) {
	outcome.Error = err.Error()
	s.metrics.NodeRefreshLatency.WithLabelValues(refreshResultError).Observe(time.Since(start).Seconds())
	s.metrics.NodesRefreshed.WithLabelValues(refreshResultError).Inc()
	return outcome, err
}
