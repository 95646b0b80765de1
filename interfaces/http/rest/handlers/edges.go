package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
)

type edgeService interface {
	Create(ctx context.Context, tenantID string, src uuid.UUID, rel string, dst uuid.UUID, props map[string]any) (*graph.Edge, error)
	Lineage(ctx context.Context, tenantID string, id uuid.UUID, maxDepth int) ([]graph.LineageEntry, error)
}

// EdgeHandler serves typed relationships and ancestry walks.
type EdgeHandler struct {
	edges  edgeService
	logger *zap.Logger
}

func NewEdgeHandler(edges edgeService, logger *zap.Logger) *EdgeHandler {
	return &EdgeHandler{edges: edges, logger: logger}
}

type createEdgeRequest struct {
	Src   string         `json:"src"`
	Rel   string         `json:"rel"`
	Dst   string         `json:"dst"`
	Props map[string]any `json:"props,omitempty"`
}

func (h *EdgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEdgeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	src, err := parseUUID(req.Src, "src")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	dst, err := parseUUID(req.Dst, "dst")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	edge, err := h.edges.Create(r.Context(), auth.TenantFromContext(r.Context()), src, req.Rel, dst, req.Props)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, edge)
}

// Lineage walks derived_from ancestry up to max_depth hops.
func (h *EdgeHandler) Lineage(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "node id")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	ancestors, err := h.edges.Lineage(r.Context(), auth.TenantFromContext(r.Context()), id, queryInt(r, "max_depth", 5))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if ancestors == nil {
		ancestors = []graph.LineageEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ancestors": ancestors})
}
