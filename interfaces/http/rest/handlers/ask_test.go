package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/services"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

type fakeAskService struct {
	result *services.AskResult
	tokens []string
	err    error
}

func (f *fakeAskService) Ask(_ context.Context, _, _ string, _ int) (*services.AskResult, error) {
	return f.result, f.err
}

func (f *fakeAskService) AskStream(_ context.Context, _, _ string, _ int, onToken func(string) error) (*services.AskResult, error) {
	if f.err != nil && len(f.tokens) == 0 {
		return nil, f.err
	}
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return nil, err
		}
	}
	return f.result, f.err
}

func TestAsk(t *testing.T) {
	svc := &fakeAskService{result: &services.AskResult{
		Answer:     "Paris [1]",
		Citations:  []services.Citation{{Index: 1, Title: "geo"}},
		Confidence: 0.9,
		Metadata:   services.AskMetadata{GatingScore: 0.82, GatingScoreType: "cosine", CitedNodes: 1},
	}}
	h := NewAskHandler(svc, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"capital of France?"}`)), "acme")
	rec := httptest.NewRecorder()
	h.Ask(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"answer":"Paris [1]"`)
	assert.Contains(t, rec.Body.String(), `"gating_score":0.82`)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	h := NewAskHandler(&fakeAskService{}, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"  "}`)), "acme")
	rec := httptest.NewRecorder()
	h.Ask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskStreamFraming(t *testing.T) {
	svc := &fakeAskService{
		tokens: []string{"The answer", " is", " Paris.\nSee [1]."},
		result: &services.AskResult{Answer: "The answer is Paris.\nSee [1]."},
	}
	h := NewAskHandler(svc, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodPost, "/ask/stream", strings.NewReader(`{"question":"q"}`)), "acme")
	rec := httptest.NewRecorder()
	h.Stream(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: The answer\n\n"), "first frame carries first token: %q", body)
	// A token with an embedded newline spans two data lines in one event.
	assert.Contains(t, body, "data:  is Paris.\ndata: See [1].\n\n")
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestAskStreamErrorBeforeFirstToken(t *testing.T) {
	svc := &fakeAskService{err: pkgerrors.NewDependencyError("llm", errors.New("down"))}
	h := NewAskHandler(svc, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodPost, "/ask/stream", strings.NewReader(`{"question":"q"}`)), "acme")
	rec := httptest.NewRecorder()
	h.Stream(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "DEPENDENCY")
}

func TestAskStreamErrorMidStreamKeepsStatus(t *testing.T) {
	svc := &fakeAskService{
		tokens: []string{"partial"},
		err:    errors.New("connection reset"),
	}
	h := NewAskHandler(svc, zap.NewNop())

	req := asTenant(httptest.NewRequest(http.MethodPost, "/ask/stream", strings.NewReader(`{"question":"q"}`)), "acme")
	rec := httptest.NewRecorder()
	h.Stream(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "data: partial\n\n")
	assert.NotContains(t, body, "[DONE]")
}
