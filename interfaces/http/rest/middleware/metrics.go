package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

type errorTypeKey struct{}

type errorTypeHolder struct{ v string }

// TagErrorType records the classification of an error response so the
// metrics middleware can label api_errors_total precisely. Without a
// tag the label falls back to a status-derived type.
func TagErrorType(ctx context.Context, errorType string) {
	if h, ok := ctx.Value(errorTypeKey{}).(*errorTypeHolder); ok {
		h.v = errorType
	}
}

// Metrics counts every request and error response. Endpoint labels use
// the matched route template, never the raw path, so cardinality stays
// bounded.
func Metrics(m *observability.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			holder := &errorTypeHolder{}
			r = r.WithContext(context.WithValue(r.Context(), errorTypeKey{}, holder))

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			endpoint := RoutePattern(r)
			status := strconv.Itoa(ww.Status())
			m.APIRequests.WithLabelValues(endpoint, r.Method, status).Inc()
			if ww.Status() >= 400 {
				etype := holder.v
				if etype == "" {
					etype = statusErrorType(ww.Status())
				}
				m.APIErrors.WithLabelValues(endpoint, status, etype).Inc()
			}
		})
	}
}

// RoutePattern returns the chi route template matched so far, or
// "unmatched" for requests no route claimed.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func statusErrorType(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return string(pkgerrors.ErrorTypeAuth)
	case http.StatusForbidden:
		return string(pkgerrors.ErrorTypeScope)
	case http.StatusNotFound:
		return string(pkgerrors.ErrorTypeNotFound)
	case http.StatusConflict:
		return string(pkgerrors.ErrorTypeConflict)
	case http.StatusTooManyRequests:
		return string(pkgerrors.ErrorTypeRateLimited)
	case http.StatusServiceUnavailable:
		return string(pkgerrors.ErrorTypeDependency)
	}
	if status < 500 {
		return string(pkgerrors.ErrorTypeValidation)
	}
	return string(pkgerrors.ErrorTypeInternal)
}

// writeError renders the stable error body and tags the request for
// the error metrics.
func writeError(w http.ResponseWriter, r *http.Request, status int, detail string, etype pkgerrors.ErrorType) {
	TagErrorType(r.Context(), string(etype))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"detail":     detail,
		"error_type": string(etype),
	})
}

func detailOf(err error) string {
	var app *pkgerrors.AppError
	if errors.As(err, &app) {
		return app.Message
	}
	return "Internal server error"
}
