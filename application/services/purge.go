package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const defaultPurgeBatch = 100

// PurgeReport counts what one purge pass touched.
type PurgeReport struct {
	DryRun     bool `json:"dry_run"`
	Candidates int  `json:"candidates"`
	Parents    int  `json:"parents_removed"`
	Chunks     int  `json:"chunks_removed"`
	Errors     int  `json:"errors"`
}

// PurgeService hard-removes tombstoned nodes whose grace period has
// passed. Until then a tombstone can still be revived by re-ingestion.
type PurgeService struct {
	nodes  ports.NodeRepository
	logger *zap.Logger
}

// NewPurgeService wires the purger.
func NewPurgeService(nodes ports.NodeRepository, logger *zap.Logger) *PurgeService {
	return &PurgeService{nodes: nodes, logger: logger}
}

// Purge scans past-grace tombstones and removes them. An empty
// tenantID covers every tenant; dry-run only counts candidates.
func (s *PurgeService) Purge(ctx context.Context, tenantID string, batchSize int, dryRun bool) (*PurgeReport, error) {
	if batchSize <= 0 {
		batchSize = defaultPurgeBatch
	}

	tombstones, err := s.nodes.ExpiredTombstones(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		return nil, err
	}
	if tenantID != "" {
		kept := tombstones[:0]
		for _, t := range tombstones {
			if t.TenantID == tenantID {
				kept = append(kept, t)
			}
		}
		tombstones = kept
	}

	report := &PurgeReport{DryRun: dryRun, Candidates: len(tombstones)}
	if dryRun {
		return report, nil
	}

	removed := map[uuid.UUID]bool{}
	for _, t := range tombstones {
		if removed[t.NodeID] {
			continue
		}
		if err := s.purgeOne(ctx, t, removed, report); err != nil {
			report.Errors++
			s.logger.Error("purge failed",
				zap.String("tenant_id", t.TenantID),
				zap.String("node_id", t.NodeID.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("purge pass complete",
		zap.Int("candidates", report.Candidates),
		zap.Int("parents_removed", report.Parents),
		zap.Int("chunks_removed", report.Chunks),
		zap.Int("errors", report.Errors))
	return report, nil
}

// purgeOne removes one tombstone. A parent takes its chunk family
// along; they were tombstoned together and share the grace deadline.
func (s *PurgeService) purgeOne(ctx context.Context, t ports.Tombstone, removed map[uuid.UUID]bool, report *PurgeReport) error {
	node, err := s.nodes.Get(ctx, t.TenantID, t.NodeID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			removed[t.NodeID] = true
			return nil
		}
		return err
	}

	if node.IsParent() {
		chunks, err := s.nodes.ListByParent(ctx, t.TenantID, node.ID)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			if removed[chunk.ID] {
				continue
			}
			if err := s.nodes.HardDelete(ctx, t.TenantID, chunk.ID); err != nil && !pkgerrors.IsNotFound(err) {
				return err
			}
			removed[chunk.ID] = true
			report.Chunks++
		}
	}

	if err := s.nodes.HardDelete(ctx, t.TenantID, node.ID); err != nil && !pkgerrors.IsNotFound(err) {
		return err
	}
	removed[node.ID] = true
	if node.IsChunk() {
		report.Chunks++
	} else {
		report.Parents++
	}
	return nil
}
