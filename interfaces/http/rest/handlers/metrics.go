package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// MetricsHandler exposes liveness and the two metric renderings: a
// JSON snapshot for humans and the Prometheus exposition for scrapers.
type MetricsHandler struct {
	collector  *observability.Collector
	exposition http.Handler
	logger     *zap.Logger
}

func NewMetricsHandler(collector *observability.Collector, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		collector:  collector,
		exposition: promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}),
		logger:     logger,
	}
}

func (h *MetricsHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.collector.Snapshot()
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *MetricsHandler) Prometheus(w http.ResponseWriter, r *http.Request) {
	h.exposition.ServeHTTP(w, r)
}
