package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/services"
)

type fakeSearchService struct {
	result   *services.SearchResult
	err      error
	gotQuery string
	gotOpts  services.SearchOptions
}

func (f *fakeSearchService) Search(_ context.Context, _, query string, o services.SearchOptions) (*services.SearchResult, error) {
	f.gotQuery, f.gotOpts = query, o
	return f.result, f.err
}

func TestSearch(t *testing.T) {
	node := testNode(t)
	svc := &fakeSearchService{result: &services.SearchResult{
		Results:   []services.ScoredNode{{Node: node, Similarity: 0.87}},
		ScoreType: "rrf",
		Mode:      "hybrid",
	}}
	h := NewSearchHandler(svc, zap.NewNop())

	body := `{"query":"python postgresql","top_k":5,"use_hybrid":true,
		"filters":{"classes":["Resume"],"props":{"location":"NYC"}}}`
	req := asTenant(httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body)), "acme")
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "python postgresql", svc.gotQuery)
	assert.Equal(t, 5, svc.gotOpts.TopK)
	assert.True(t, svc.gotOpts.UseHybrid)
	assert.Equal(t, []string{"Resume"}, svc.gotOpts.Filter.Classes)
	assert.Equal(t, "NYC", svc.gotOpts.Filter.Props["location"])

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, node.ID, resp.Results[0].Node.ID)
	assert.InDelta(t, 0.87, resp.Results[0].Similarity, 1e-9)
	assert.Equal(t, "rrf", resp.ScoreType)
	assert.Equal(t, "hybrid", resp.Mode)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	h := NewSearchHandler(&fakeSearchService{}, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":""}`)), "acme")
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEmptyResultsIsArray(t *testing.T) {
	svc := &fakeSearchService{result: &services.SearchResult{ScoreType: "cosine", Mode: "vector"}}
	h := NewSearchHandler(svc, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"nothing"}`)), "acme")
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}
