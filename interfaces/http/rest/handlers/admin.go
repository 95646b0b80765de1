package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/connectors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// adminRefreshBatch caps how many due nodes one manual sweep touches.
const adminRefreshBatch = 50

type refreshService interface {
	RefreshByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) (*services.RefreshReport, error)
	RefreshDue(ctx context.Context, tenantID string, batchSize int, manual bool, actorID, actorType string) (*services.RefreshReport, error)
}

type reportingService interface {
	Anomalies(ctx context.Context, driftThreshold float64, limit int) ([]ports.AnomalyRow, error)
}

type triggerService interface {
	Run(ctx context.Context, tenantID string) (int, error)
}

// MigrateFunc applies pending schema migrations and reports the
// version movement.
type MigrateFunc func(ctx context.Context) (fromVersion, toVersion int64, err error)

// SecuritySettings is the sanitized runtime posture reported by the
// security limits endpoint.
type SecuritySettings struct {
	RateLimits      map[string]auth.EndpointLimit
	Concurrency     map[string]int
	SNSVerification bool
}

// AdminHandler serves the operator endpoints: migrations, manual
// refresh sweeps, trigger scans, drift anomaly reports, and the
// security posture.
type AdminHandler struct {
	refresh   refreshService
	reporting reportingService
	triggers  triggerService
	migrate   MigrateFunc
	limits    *connectors.AccessLimits
	security  SecuritySettings
	logger    *zap.Logger
}

func NewAdminHandler(refresh refreshService, reporting reportingService, triggers triggerService,
	migrate MigrateFunc, limits *connectors.AccessLimits, security SecuritySettings, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		refresh:   refresh,
		reporting: reporting,
		triggers:  triggers,
		migrate:   migrate,
		limits:    limits,
		security:  security,
		logger:    logger,
	}
}

func (h *AdminHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	if h.migrate == nil {
		respondError(h.logger, w, r, pkgerrors.NewConfigError("migrations are not wired"))
		return
	}

	from, to, err := h.migrate(r.Context())
	if err != nil {
		respondError(h.logger, w, r, pkgerrors.NewInternalError("migration failed", err))
		return
	}
	h.logger.Info("migrations applied", zap.Int64("from_version", from), zap.Int64("to_version", to))
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"from_version": from,
		"to_version":   to,
	})
}

// Refresh re-embeds the posted node IDs, or sweeps due nodes when the
// body is empty.
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var rawIDs []string
	if err := decodeJSONOptional(r, &rawIDs); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	rc, _ := auth.FromContext(r.Context())
	tenantID := auth.TenantFromContext(r.Context())

	var report *services.RefreshReport
	var err error
	if len(rawIDs) == 0 {
		actorID, actorType := "admin", auth.ActorTypeUser
		if rc != nil {
			actorID, actorType = rc.ActorID, rc.ActorType
		}
		report, err = h.refresh.RefreshDue(r.Context(), tenantID, adminRefreshBatch, true, actorID, actorType)
	} else {
		ids := make([]uuid.UUID, 0, len(rawIDs))
		for _, raw := range rawIDs {
			id, perr := parseUUID(raw, "node id")
			if perr != nil {
				respondError(h.logger, w, r, perr)
				return
			}
			ids = append(ids, id)
		}
		report, err = h.refresh.RefreshByIDs(r.Context(), tenantID, ids)
	}
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// TriggerScan evaluates every trigger-bearing node of the tenant
// against its patterns. Targeted evaluation already runs after each
// refresh; this sweep catches nodes whose patterns changed since.
func (h *AdminHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	tenantID := auth.TenantFromContext(r.Context())

	fired, err := h.triggers.Run(r.Context(), tenantID)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	h.logger.Info("trigger scan complete",
		zap.String("tenant_id", tenantID), zap.Int("fired", fired))
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"fired":  fired,
	})
}

type anomaliesRequest struct {
	DriftThreshold float64 `json:"drift_threshold,omitempty"`
	Limit          int     `json:"limit,omitempty"`
}

type anomalyEntry struct {
	TenantID   string    `json:"tenant_id"`
	NodeID     uuid.UUID `json:"node_id"`
	Kind       string    `json:"kind"`
	DriftScore float64   `json:"drift_score"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h *AdminHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	var req anomaliesRequest
	if err := decodeJSONOptional(r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	rows, err := h.reporting.Anomalies(r.Context(), req.DriftThreshold, req.Limit)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	anomalies := make([]anomalyEntry, 0, len(rows))
	for _, row := range rows {
		anomalies = append(anomalies, anomalyEntry{
			TenantID:   row.TenantID,
			NodeID:     row.NodeID,
			Kind:       row.Kind,
			DriftScore: row.DriftScore,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

type limitEntry struct {
	Rate  int `json:"rate"`
	Burst int `json:"burst"`
}

type securityLimitsResponse struct {
	FileAccess  *connectors.AccessLimits `json:"file_access,omitempty"`
	RateLimits  map[string]limitEntry    `json:"rate_limits"`
	Concurrency map[string]int           `json:"concurrency"`
	Webhook     webhookPosture           `json:"webhook"`
}

type webhookPosture struct {
	SNSVerification bool `json:"sns_verification"`
}

// SecurityLimits reports the effective access and throttling posture
// so operators can audit it without reading deploy config.
func (h *AdminHandler) SecurityLimits(w http.ResponseWriter, r *http.Request) {
	rates := make(map[string]limitEntry, len(h.security.RateLimits))
	for endpoint, l := range h.security.RateLimits {
		rates[endpoint] = limitEntry{Rate: l.Rate, Burst: l.Burst}
	}
	concurrency := h.security.Concurrency
	if concurrency == nil {
		concurrency = map[string]int{}
	}

	respondJSON(w, http.StatusOK, securityLimitsResponse{
		FileAccess:  h.limits,
		RateLimits:  rates,
		Concurrency: concurrency,
		Webhook:     webhookPosture{SNSVerification: h.security.SNSVerification},
	})
}
