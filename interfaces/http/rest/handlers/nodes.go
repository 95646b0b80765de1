package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

type nodeService interface {
	Create(ctx context.Context, tenantID string, in services.NodeInput) (*graph.Node, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*graph.Node, error)
	List(ctx context.Context, tenantID string, opts ports.NodeListOptions) ([]*graph.Node, error)
	Update(ctx context.Context, tenantID string, id uuid.UUID, in services.NodeInput, expectedVersion int) (*graph.Node, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID, hard bool) error
	Versions(ctx context.Context, tenantID string, id uuid.UUID, limit int) ([]*graph.NodeVersion, error)
	Events(ctx context.Context, tenantID string, nodeID uuid.UUID, eventType string, limit int) ([]*graph.Event, error)
}

// NodeHandler serves node CRUD plus the version and event histories.
type NodeHandler struct {
	nodes  nodeService
	logger *zap.Logger
}

func NewNodeHandler(nodes nodeService, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{nodes: nodes, logger: logger}
}

func (h *NodeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.NodeInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	node, err := h.nodes.Create(r.Context(), auth.TenantFromContext(r.Context()), in)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": node.ID.String()})
}

func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "node id")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	node, err := h.nodes.Get(r.Context(), auth.TenantFromContext(r.Context()), id)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := ports.NodeListOptions{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if classes := r.URL.Query().Get("classes"); classes != "" {
		opts.Classes = strings.Split(classes, ",")
	}

	nodes, err := h.nodes.List(r.Context(), auth.TenantFromContext(r.Context()), opts)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if nodes == nil {
		nodes = []*graph.Node{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

type updateNodeRequest struct {
	services.NodeInput
	ExpectedVersion int `json:"expected_version"`
}

func (h *NodeHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "node id")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	var req updateNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if req.ExpectedVersion <= 0 {
		respondError(h.logger, w, r, pkgerrors.NewValidationError("expected_version must be a positive integer"))
		return
	}

	node, err := h.nodes.Update(r.Context(), auth.TenantFromContext(r.Context()), id, req.NodeInput, req.ExpectedVersion)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

func (h *NodeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "node id")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	if err := h.nodes.Delete(r.Context(), auth.TenantFromContext(r.Context()), id, queryBool(r, "hard")); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NodeHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "node id")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	versions, err := h.nodes.Versions(r.Context(), auth.TenantFromContext(r.Context()), id, queryInt(r, "limit", 20))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if versions == nil {
		versions = []*graph.NodeVersion{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// Events lists audit entries for one node; node_id is required.
func (h *NodeHandler) Events(w http.ResponseWriter, r *http.Request) {
	rawID := r.URL.Query().Get("node_id")
	if rawID == "" {
		respondError(h.logger, w, r, pkgerrors.NewValidationError("node_id query parameter is required"))
		return
	}
	nodeID, err := parseUUID(rawID, "node_id")
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	events, err := h.nodes.Events(r.Context(), auth.TenantFromContext(r.Context()),
		nodeID, r.URL.Query().Get("event_type"), queryInt(r, "limit", 50))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if events == nil {
		events = []*graph.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}
