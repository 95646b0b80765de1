package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

type askService interface {
	Ask(ctx context.Context, tenantID, question string, topK int) (*services.AskResult, error)
	AskStream(ctx context.Context, tenantID, question string, topK int, onToken func(string) error) (*services.AskResult, error)
}

// AskHandler serves grounded question answering, buffered and streamed.
type AskHandler struct {
	ask    askService
	logger *zap.Logger
}

func NewAskHandler(ask askService, logger *zap.Logger) *AskHandler {
	return &AskHandler{ask: ask, logger: logger}
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	req, err := h.parse(r)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	result, err := h.ask.Ask(r.Context(), auth.TenantFromContext(r.Context()), req.Question, req.TopK)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Stream answers over server-sent events: one data frame per token,
// then a terminal [DONE] frame. Errors after the first frame can only
// be logged; the status line is already on the wire.
func (h *AskHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := h.parse(r)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(h.logger, w, r, pkgerrors.NewInternalError("streaming unsupported by server", nil))
		return
	}

	streamed := false
	onToken := func(token string) error {
		if !streamed {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			streamed = true
		}
		if err := writeSSE(w, token); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	_, err = h.ask.AskStream(r.Context(), auth.TenantFromContext(r.Context()), req.Question, req.TopK, onToken)
	if err != nil {
		if !streamed {
			respondError(h.logger, w, r, err)
			return
		}
		h.logger.Warn("answer stream aborted", zap.Error(err))
		return
	}

	if !streamed {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeSSE frames one token as an SSE event. Embedded newlines become
// additional data lines so the event survives framing intact.
func writeSSE(w http.ResponseWriter, token string) error {
	for _, line := range strings.Split(token, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

func (h *AskHandler) parse(r *http.Request) (*askRequest, error) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, pkgerrors.NewValidationError("question cannot be empty")
	}
	return &req, nil
}
