package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

type searchService interface {
	Search(ctx context.Context, tenantID, query string, o services.SearchOptions) (*services.SearchResult, error)
}

// SearchHandler serves vector, hybrid, and weighted retrieval.
type SearchHandler struct {
	retrieval searchService
	logger    *zap.Logger
}

func NewSearchHandler(retrieval searchService, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{retrieval: retrieval, logger: logger}
}

type searchFilters struct {
	Classes        []string       `json:"classes,omitempty"`
	Props          map[string]any `json:"props,omitempty"`
	IncludeDeleted bool           `json:"include_deleted,omitempty"`
}

type searchRequest struct {
	Query            string         `json:"query"`
	TopK             int            `json:"top_k,omitempty"`
	UseHybrid        bool           `json:"use_hybrid,omitempty"`
	UseWeightedScore bool           `json:"use_weighted_score,omitempty"`
	Filters          *searchFilters `json:"filters,omitempty"`
}

type searchHit struct {
	Node       *graph.Node `json:"node"`
	Similarity float64     `json:"similarity"`
}

type searchResponse struct {
	Results   []searchHit `json:"results"`
	ScoreType string      `json:"score_type"`
	Mode      string      `json:"mode"`
	Reranked  bool        `json:"reranked"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if req.Query == "" {
		respondError(h.logger, w, r, pkgerrors.NewValidationError("query cannot be empty"))
		return
	}

	opts := services.SearchOptions{
		TopK:             req.TopK,
		UseHybrid:        req.UseHybrid,
		UseWeightedScore: req.UseWeightedScore,
	}
	if req.Filters != nil {
		opts.Filter = ports.SearchFilter{
			Classes:        req.Filters.Classes,
			Props:          req.Filters.Props,
			IncludeDeleted: req.Filters.IncludeDeleted,
		}
	}

	result, err := h.retrieval.Search(r.Context(), auth.TenantFromContext(r.Context()), req.Query, opts)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	hits := make([]searchHit, 0, len(result.Results))
	for _, sn := range result.Results {
		hits = append(hits, searchHit{Node: sn.Node, Similarity: sn.Similarity})
	}
	respondJSON(w, http.StatusOK, searchResponse{
		Results:   hits,
		ScoreType: result.ScoreType,
		Mode:      result.Mode,
		Reranked:  result.Reranked,
	})
}
