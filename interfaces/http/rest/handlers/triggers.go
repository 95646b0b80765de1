package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
)

type patternService interface {
	Upsert(ctx context.Context, tenantID string, in services.PatternInput) (*graph.Pattern, error)
	Get(ctx context.Context, tenantID, name string) (*graph.Pattern, error)
	List(ctx context.Context, tenantID string) ([]*graph.Pattern, error)
	Delete(ctx context.Context, tenantID, name string) error
}

// TriggerHandler manages the named trigger patterns nodes match
// against after each embedding change.
type TriggerHandler struct {
	patterns patternService
	logger   *zap.Logger
}

func NewTriggerHandler(patterns patternService, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{patterns: patterns, logger: logger}
}

func (h *TriggerHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var in services.PatternInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	pattern, err := h.patterns.Upsert(r.Context(), auth.TenantFromContext(r.Context()), in)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, pattern)
}

func (h *TriggerHandler) Get(w http.ResponseWriter, r *http.Request) {
	pattern, err := h.patterns.Get(r.Context(), auth.TenantFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pattern)
}

func (h *TriggerHandler) List(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.patterns.List(r.Context(), auth.TenantFromContext(r.Context()))
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if patterns == nil {
		patterns = []*graph.Pattern{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func (h *TriggerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.patterns.Delete(r.Context(), auth.TenantFromContext(r.Context()), chi.URLParam(r, "name")); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
