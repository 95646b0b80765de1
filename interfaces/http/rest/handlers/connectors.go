package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/connectors"
	redisinfra "github.com/ArpitMishra17/active-graph-kg/infrastructure/redis"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
)

type connectorAdmin interface {
	Register(ctx context.Context, tenantID, provider string, settings map[string]any) (*connector.Config, error)
	SetEnabled(ctx context.Context, tenantID, provider string, enabled bool) error
	Delete(ctx context.Context, tenantID, provider string) error
	Backfill(ctx context.Context, tenantID, provider string) (*services.BackfillReport, error)
	List(ctx context.Context, tenantID string) ([]*connector.Config, error)
}

type rotationService interface {
	RotateKeys(ctx context.Context, opts services.RotationOptions) (*services.RotationReport, error)
}

type purgeService interface {
	Purge(ctx context.Context, tenantID string, batchSize int, dryRun bool) (*services.PurgeReport, error)
}

type cacheHealth interface {
	Health() redisinfra.SubscriberHealth
}

// ConnectorHandler serves connector registration and lifecycle plus
// the adjacent maintenance endpoints: key rotation, tombstone purge,
// and config cache health.
type ConnectorHandler struct {
	admin      connectorAdmin
	rotation   rotationService
	purge      purgeService
	subscriber cacheHealth
	logger     *zap.Logger
}

func NewConnectorHandler(admin connectorAdmin, rotation rotationService, purge purgeService,
	subscriber *redisinfra.Subscriber, logger *zap.Logger) *ConnectorHandler {
	h := &ConnectorHandler{
		admin:    admin,
		rotation: rotation,
		purge:    purge,
		logger:   logger,
	}
	if subscriber != nil {
		h.subscriber = subscriber
	}
	return h
}

// connectorView is a Config rendered for clients: secrets replaced by
// placeholders, ciphertext never included.
type connectorView struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Provider   string         `json:"provider"`
	Settings   map[string]any `json:"settings"`
	Enabled    bool           `json:"enabled"`
	KeyVersion int            `json:"key_version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func viewOf(cfg *connector.Config) connectorView {
	return connectorView{
		ID:         cfg.ID,
		TenantID:   cfg.TenantID,
		Provider:   cfg.Provider,
		Settings:   connectors.SanitizeSettings(cfg.Settings),
		Enabled:    cfg.Enabled,
		KeyVersion: cfg.KeyVersion,
		CreatedAt:  cfg.CreatedAt,
		UpdatedAt:  cfg.UpdatedAt,
	}
}

type registerConnectorRequest struct {
	TenantID string         `json:"tenant_id,omitempty"`
	Settings map[string]any `json:"settings"`
}

func (h *ConnectorHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerConnectorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	if req.TenantID == "" {
		req.TenantID = auth.TenantFromContext(r.Context())
	}

	cfg, err := h.admin.Register(r.Context(), req.TenantID, chi.URLParam(r, "provider"), req.Settings)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(cfg))
}

func (h *ConnectorHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = auth.TenantFromContext(r.Context())
	}

	cfgs, err := h.admin.List(r.Context(), tenantID)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	views := make([]connectorView, 0, len(cfgs))
	for _, cfg := range cfgs {
		views = append(views, viewOf(cfg))
	}
	respondJSON(w, http.StatusOK, map[string]any{"connectors": views})
}

func (h *ConnectorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *ConnectorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *ConnectorHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	tenantID, provider := h.target(r)
	if err := h.admin.SetEnabled(r.Context(), tenantID, provider, enabled); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	status := "disabled"
	if enabled {
		status = "enabled"
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"provider":  provider,
		"tenant_id": tenantID,
	})
}

func (h *ConnectorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, provider := h.target(r)
	if err := h.admin.Delete(r.Context(), tenantID, provider); err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backfill walks the connector's source and enqueues everything it
// lists, so a fresh registration catches up without waiting for
// change notifications.
func (h *ConnectorHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	tenantID, provider := h.target(r)
	report, err := h.admin.Backfill(r.Context(), tenantID, provider)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type rotateKeysRequest struct {
	DryRun    bool     `json:"dry_run,omitempty"`
	Providers []string `json:"providers,omitempty"`
	Tenants   []string `json:"tenants,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
}

func (h *ConnectorHandler) RotateKeys(w http.ResponseWriter, r *http.Request) {
	var req rotateKeysRequest
	if err := decodeJSONOptional(r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	report, err := h.rotation.RotateKeys(r.Context(), services.RotationOptions{
		DryRun:    req.DryRun,
		Providers: req.Providers,
		Tenants:   req.Tenants,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type purgeRequest struct {
	TenantID  string `json:"tenant_id,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

func (h *ConnectorHandler) PurgeDeleted(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeJSONOptional(r, &req); err != nil {
		respondError(h.logger, w, r, err)
		return
	}

	report, err := h.purge.Purge(r.Context(), req.TenantID, req.BatchSize, req.DryRun)
	if err != nil {
		respondError(h.logger, w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// CacheHealth reports the config invalidation subscriber's state. A
// nil subscriber renders as disconnected rather than an error so
// probes stay green when pub/sub is disabled.
func (h *ConnectorHandler) CacheHealth(w http.ResponseWriter, r *http.Request) {
	var health redisinfra.SubscriberHealth
	if h.subscriber != nil {
		health = h.subscriber.Health()
	}
	respondJSON(w, http.StatusOK, health)
}

func (h *ConnectorHandler) target(r *http.Request) (tenantID, provider string) {
	tenantID = r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = auth.TenantFromContext(r.Context())
	}
	return tenantID, chi.URLParam(r, "provider")
}
