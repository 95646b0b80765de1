// Package handlers implements the HTTP endpoints over the application
// services. Handlers parse and validate the wire shapes, delegate to a
// service, and render results; tenant identity always comes from the
// request context planted by the auth middleware.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/interfaces/http/rest/middleware"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// errorBody is the stable error response shape.
type errorBody struct {
	Detail    string `json:"detail"`
	ErrorType string `json:"error_type,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps err onto its HTTP status and renders the error
// body. Internals never leak: plain errors become a generic 500.
func respondError(logger *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status := pkgerrors.StatusOf(err)
	etype := string(pkgerrors.TypeOf(err))

	detail := "Internal server error"
	var app *pkgerrors.AppError
	if errors.As(err, &app) {
		detail = app.Message
	}

	middleware.TagErrorType(r.Context(), etype)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("endpoint", middleware.RoutePattern(r)),
			zap.Int("status", status),
			zap.Error(err))
	}
	respondJSON(w, status, errorBody{Detail: detail, ErrorType: etype})
}

// decodeJSON fills v from the request body. Oversized bodies map to
// 413, everything else malformed to 400.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return bodyError(err)
	}
	return nil
}

// decodeJSONOptional is decodeJSON for endpoints where an empty body
// means "use defaults".
func decodeJSONOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return bodyError(err)
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		app := pkgerrors.NewValidationError("request body too large")
		app.HTTPStatus = http.StatusRequestEntityTooLarge
		return app
	}
	if errors.Is(err, io.EOF) {
		return pkgerrors.NewValidationError("request body is empty")
	}
	return pkgerrors.NewValidationError("invalid request body: " + err.Error())
}

func parseUUID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, pkgerrors.NewValidationError(field + " is not a valid UUID")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func queryBool(r *http.Request, name string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && b
}
