package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
)

type fakeEdgeService struct {
	edge      *graph.Edge
	ancestors []graph.LineageEntry
	err       error

	gotTenant string
	gotRel    string
	gotDepth  int
}

func (f *fakeEdgeService) Create(_ context.Context, tenantID string, _ uuid.UUID, rel string, _ uuid.UUID, _ map[string]any) (*graph.Edge, error) {
	f.gotTenant, f.gotRel = tenantID, rel
	return f.edge, f.err
}

func (f *fakeEdgeService) Lineage(_ context.Context, tenantID string, _ uuid.UUID, maxDepth int) ([]graph.LineageEntry, error) {
	f.gotTenant, f.gotDepth = tenantID, maxDepth
	return f.ancestors, f.err
}

func TestEdgeCreate(t *testing.T) {
	src, dst := uuid.New(), uuid.New()
	edge, err := graph.NewEdge("acme", src, graph.RelDerivedFrom, dst, nil)
	require.NoError(t, err)
	svc := &fakeEdgeService{edge: edge}
	h := NewEdgeHandler(svc, zap.NewNop())

	body := `{"src":"` + src.String() + `","rel":"DERIVED_FROM","dst":"` + dst.String() + `"}`
	req := asTenant(httptest.NewRequest(http.MethodPost, "/edges", strings.NewReader(body)), "acme")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "acme", svc.gotTenant)
	assert.Equal(t, "DERIVED_FROM", svc.gotRel)
	assert.Contains(t, rec.Body.String(), src.String())
}

func TestEdgeCreateRejectsBadUUID(t *testing.T) {
	h := NewEdgeHandler(&fakeEdgeService{}, zap.NewNop())

	body := `{"src":"not-a-uuid","rel":"MENTIONS","dst":"` + uuid.NewString() + `"}`
	req := asTenant(httptest.NewRequest(http.MethodPost, "/edges", strings.NewReader(body)), "acme")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "src")
}

func TestEdgeLineageOrdersAncestors(t *testing.T) {
	parent, grandparent := uuid.New(), uuid.New()
	svc := &fakeEdgeService{ancestors: []graph.LineageEntry{
		{ID: parent, Depth: 1},
		{ID: grandparent, Depth: 2},
	}}
	h := NewEdgeHandler(svc, zap.NewNop())

	id := uuid.NewString()
	req := asTenant(httptest.NewRequest(http.MethodGet, "/lineage/"+id+"?max_depth=5", nil), "acme")
	req = withURLParam(req, "id", id)
	rec := httptest.NewRecorder()
	h.Lineage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.gotDepth)

	var resp struct {
		Ancestors []graph.LineageEntry `json:"ancestors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Ancestors, 2)
	assert.Equal(t, parent, resp.Ancestors[0].ID)
	assert.Equal(t, 1, resp.Ancestors[0].Depth)
	assert.Equal(t, grandparent, resp.Ancestors[1].ID)
	assert.Equal(t, 2, resp.Ancestors[1].Depth)
}

func TestEdgeLineageEmptyIsArray(t *testing.T) {
	h := NewEdgeHandler(&fakeEdgeService{}, zap.NewNop())

	id := uuid.NewString()
	req := asTenant(httptest.NewRequest(http.MethodGet, "/lineage/"+id, nil), "acme")
	req = withURLParam(req, "id", id)
	rec := httptest.NewRecorder()
	h.Lineage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ancestors":[]}`, rec.Body.String())
}

func TestEdgeLineageRejectsBadID(t *testing.T) {
	h := NewEdgeHandler(&fakeEdgeService{}, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodGet, "/lineage/nope", nil), "acme")
	req = withURLParam(req, "id", "nope")
	rec := httptest.NewRecorder()
	h.Lineage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
