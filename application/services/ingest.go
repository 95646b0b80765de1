package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// Outcome labels for processed queue messages.
const (
	IngestOutcomeOK      = "ok"
	IngestOutcomeSkipped = "skipped"
)

const fetchMaxAttempts = 4

// IngestService turns queued change items into graph nodes: fetch,
// hash-check, chunk, embed, upsert, link. Errors come back classified
// so the worker can decide between retry and dead letter.
type IngestService struct {
	nodes    ports.NodeRepository
	edges    ports.EdgeRepository
	catalog  ports.ConnectorCatalog
	sources  ports.SourceResolver
	throttle ports.IngestThrottle
	encoder  ports.Encoder
	chunker  *Chunker
	grace    time.Duration
	metrics  *observability.Collector
	logger   *zap.Logger
}

// NewIngestService wires the ingestion pipeline. grace is the
// tombstone window applied to deleted documents.
func NewIngestService(
	nodes ports.NodeRepository,
	edges ports.EdgeRepository,
	catalog ports.ConnectorCatalog,
	sources ports.SourceResolver,
	throttle ports.IngestThrottle,
	encoder ports.Encoder,
	chunker *Chunker,
	grace time.Duration,
	metrics *observability.Collector,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		nodes:    nodes,
		edges:    edges,
		catalog:  catalog,
		sources:  sources,
		throttle: throttle,
		encoder:  encoder,
		chunker:  chunker,
		grace:    grace,
		metrics:  metrics,
		logger:   logger,
	}
}

// Process handles one change item and reports the outcome label.
func (s *IngestService) Process(ctx context.Context, ref ports.QueueRef, item *connector.ChangeItem) (string, error) {
	if item == nil {
		return "", pkgerrors.NewValidationError("change item cannot be nil")
	}
	if item.Operation == connector.OpDeleted {
		return s.processDelete(ctx, ref, item)
	}
	return s.processUpsert(ctx, ref, item)
}

func (s *IngestService) processUpsert(ctx context.Context, ref ports.QueueRef, item *connector.ChangeItem) (string, error) {
	cfg, err := s.catalog.Enabled(ctx, ref.TenantID, ref.Provider)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return "", pkgerrors.NewPermanentConnectorError("connector not registered or disabled", err)
		}
		return "", err
	}
	src, err := s.sources.Resolve(ctx, cfg)
	if err != nil {
		return "", err
	}

	if ok, err := s.throttle.AllowAPICall(ctx, ref.TenantID); err == nil && !ok {
		return "", pkgerrors.NewTransientConnectorError("provider api quota exhausted", nil)
	}

	fetched, err := s.fetchWithRetry(ctx, src, item.URI)
	if err != nil {
		return "", err
	}

	if ok, err := s.throttle.AllowDocument(ctx, ref.TenantID, int64(len(fetched.Text))); err == nil && !ok {
		return "", pkgerrors.NewTransientConnectorError("ingestion quota exhausted", nil)
	}

	externalID := connector.ExternalID(ref.Provider, ref.TenantID, item.URI)
	hash := connector.ContentHash(fetched.Text)

	parent, err := s.nodes.GetByExternalID(ctx, ref.TenantID, externalID)
	if err != nil {
		if !pkgerrors.IsNotFound(err) {
			return "", err
		}
		parent = nil
	}

	if parent != nil && !parent.IsDeleted() && parent.Props[graph.PropContentHash] == hash {
		s.metrics.IngestSkippedUnchanged.WithLabelValues(ref.Provider).Inc()
		return IngestOutcomeSkipped, nil
	}

	chunks, err := s.chunker.Split(fetched.Text)
	if err != nil {
		return "", err
	}
	embeddings, err := s.encoder.Encode(ctx, chunks)
	if err != nil {
		return "", err
	}

	parent, err = s.upsertParent(ctx, parent, ref, item, fetched, externalID, hash)
	if err != nil {
		return "", err
	}
	if err := s.replaceChunks(ctx, parent, chunks, embeddings, fetched.Title); err != nil {
		return "", err
	}

	s.logger.Info("document ingested",
		zap.String("tenant_id", ref.TenantID),
		zap.String("provider", ref.Provider),
		zap.String("external_id", externalID),
		zap.Int("chunks", len(chunks)))
	return IngestOutcomeOK, nil
}

// processDelete tombstones the parent document and its chunks with the
// configured grace window. A document the graph never saw is a skip.
func (s *IngestService) processDelete(ctx context.Context, ref ports.QueueRef, item *connector.ChangeItem) (string, error) {
	externalID := connector.ExternalID(ref.Provider, ref.TenantID, item.URI)
	parent, err := s.nodes.GetByExternalID(ctx, ref.TenantID, externalID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return IngestOutcomeSkipped, nil
		}
		return "", err
	}

	graceUntil := time.Now().UTC().Add(s.grace)
	if err := s.nodes.SoftDelete(ctx, ref.TenantID, parent.ID, graceUntil); err != nil {
		return "", err
	}
	chunks, err := s.nodes.ListByParent(ctx, ref.TenantID, parent.ID)
	if err != nil {
		return "", err
	}
	for _, chunk := range chunks {
		if chunk.IsDeleted() {
			continue
		}
		if err := s.nodes.SoftDelete(ctx, ref.TenantID, chunk.ID, graceUntil); err != nil && !pkgerrors.IsNotFound(err) {
			return "", err
		}
	}

	s.logger.Info("document tombstoned",
		zap.String("tenant_id", ref.TenantID),
		zap.String("external_id", externalID),
		zap.Int("chunks", len(chunks)),
		zap.Time("grace_until", graceUntil))
	return IngestOutcomeOK, nil
}

// fetchWithRetry retries transient fetch failures with exponential
// backoff. Permanent failures abort immediately.
func (s *IngestService) fetchWithRetry(ctx context.Context, src connector.Source, uri string) (connector.FetchResult, error) {
	return backoff.Retry(ctx, func() (connector.FetchResult, error) {
		res, err := src.FetchText(ctx, uri)
		if err != nil && pkgerrors.IsPermanentConnector(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(newFetchBackOff()),
		backoff.WithMaxTries(fetchMaxAttempts),
	)
}

func newFetchBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// upsertParent creates or updates the parent Document node. A
// tombstoned parent revives when its source reappears.
func (s *IngestService) upsertParent(ctx context.Context, existing *graph.Node, ref ports.QueueRef, item *connector.ChangeItem, fetched connector.FetchResult, externalID, hash string) (*graph.Node, error) {
	props := map[string]any{
		graph.PropExternalID:  externalID,
		graph.PropSourceURI:   item.URI,
		graph.PropContentHash: hash,
		graph.PropIsParent:    true,
	}
	if fetched.Title != "" {
		props[graph.PropTitle] = fetched.Title
	}
	if item.ETag != "" {
		props[graph.PropETag] = item.ETag
	}

	if existing == nil {
		node, err := graph.NewNode(ref.TenantID, []string{graph.ClassDocument}, props)
		if err != nil {
			return nil, err
		}
		node.Metadata = fetched.Metadata
		if err := s.nodes.Create(ctx, node); err != nil {
			return nil, err
		}
		return node, nil
	}

	classes := make([]string, 0, len(existing.Classes))
	for _, c := range existing.Classes {
		if c != graph.ClassDeleted {
			classes = append(classes, c)
		}
	}
	existing.Classes = classes
	if existing.Props == nil {
		existing.Props = map[string]any{}
	}
	for k, v := range props {
		existing.Props[k] = v
	}
	delete(existing.Props, graph.PropDeletionGraceUntil)
	if fetched.Metadata != nil {
		existing.Metadata = fetched.Metadata
	}
	if err := s.nodes.Update(ctx, existing, existing.Version); err != nil {
		return nil, err
	}
	return existing, nil
}

// replaceChunks swaps the parent's chunk family for the new split.
// Content changed, so the old chunks are dead weight either way.
func (s *IngestService) replaceChunks(ctx context.Context, parent *graph.Node, chunks []string, embeddings [][]float32, title string) error {
	old, err := s.nodes.ListByParent(ctx, parent.TenantID, parent.ID)
	if err != nil {
		return err
	}
	for _, stale := range old {
		if err := s.nodes.HardDelete(ctx, parent.TenantID, stale.ID); err != nil && !pkgerrors.IsNotFound(err) {
			return err
		}
	}

	now := time.Now().UTC()
	parentExternal := parent.ExternalID()
	for i, text := range chunks {
		props := map[string]any{
			graph.PropText:       text,
			graph.PropParentID:   parent.ID.String(),
			graph.PropChunkIndex: i,
			graph.PropExternalID: fmt.Sprintf("%s#chunk-%d", parentExternal, i),
		}
		if title != "" {
			props[graph.PropTitle] = title
		}
		chunk, err := graph.NewNode(parent.TenantID, []string{graph.ClassChunk, graph.ClassDocument}, props)
		if err != nil {
			return err
		}
		if i < len(embeddings) {
			chunk.Embedding = embeddings[i]
			chunk.LastRefreshed = &now
		}
		if err := s.nodes.Create(ctx, chunk); err != nil {
			return err
		}

		edge, err := graph.NewEdge(parent.TenantID, chunk.ID, graph.RelDerivedFrom, parent.ID, nil)
		if err != nil {
			return err
		}
		if err := s.edges.Create(ctx, edge); err != nil {
			return err
		}
	}
	return nil
}
