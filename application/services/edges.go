package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
)

// EdgeService manages typed relations and the derivation lineage view.
type EdgeService struct {
	edges ports.EdgeRepository
}

// NewEdgeService wires the edge surface.
func NewEdgeService(edges ports.EdgeRepository) *EdgeService {
	return &EdgeService{edges: edges}
}

// Create links src to dst under rel. Both endpoints must be visible in
// the tenant's graph.
func (s *EdgeService) Create(ctx context.Context, tenantID string, src uuid.UUID, rel string, dst uuid.UUID, props map[string]any) (*graph.Edge, error) {
	edge, err := graph.NewEdge(tenantID, src, rel, dst, props)
	if err != nil {
		return nil, err
	}
	if err := s.edges.Create(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

// Lineage returns the node's ancestors over DERIVED_FROM, nearest
// first. Depth 1 is the immediate parent.
func (s *EdgeService) Lineage(ctx context.Context, tenantID string, id uuid.UUID, maxDepth int) ([]graph.LineageEntry, error) {
	return s.edges.Lineage(ctx, tenantID, id, maxDepth)
}
