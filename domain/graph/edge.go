package graph

import (
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// RelDerivedFrom marks lineage: a chunk points at the document it was
// cut from. Lineage traversal walks these edges child to parent.
const RelDerivedFrom = "DERIVED_FROM"

// Edge is a directed, typed relation between two nodes of one tenant.
type Edge struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Src       uuid.UUID      `json:"src"`
	Rel       string         `json:"rel"`
	Dst       uuid.UUID      `json:"dst"`
	Props     map[string]any `json:"props,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LineageEntry is one ancestor on a node's derivation chain. Depth 1
// is the immediate parent.
type LineageEntry struct {
	ID      uuid.UUID `json:"id"`
	Depth   int       `json:"depth"`
	Classes []string  `json:"classes"`
}

// NewEdge builds an edge in a valid state.
func NewEdge(tenantID string, src uuid.UUID, rel string, dst uuid.UUID, props map[string]any) (*Edge, error) {
	if tenantID == "" {
		return nil, pkgerrors.NewValidationError("tenant_id cannot be empty")
	}
	if rel == "" {
		return nil, pkgerrors.NewValidationError("rel cannot be empty")
	}
	if src == uuid.Nil || dst == uuid.Nil {
		return nil, pkgerrors.NewValidationError("src and dst are required")
	}

	return &Edge{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Src:       src,
		Rel:       rel,
		Dst:       dst,
		Props:     props,
		CreatedAt: time.Now().UTC(),
	}, nil
}
