package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
)

// One backfill request drains at most this many listing pages; the
// saved cursor lets the next request resume.
const maxBackfillPages = 16

// BackfillReport summarizes one backfill request.
type BackfillReport struct {
	Provider string `json:"provider"`
	Listed   int    `json:"listed"`
	Enqueued int    `json:"enqueued"`
	Pages    int    `json:"pages"`
	Complete bool   `json:"complete"`
}

// ConnectorAdminService owns the write side of connector registrations:
// secrets are sealed before they reach storage, and every change is
// broadcast so other processes evict their config caches.
type ConnectorAdminService struct {
	configs   ports.ConnectorConfigRepository
	cursors   ports.ConnectorCursorRepository
	cipher    ports.SettingsCipher
	catalog   ports.ConnectorCatalog
	sources   ports.SourceResolver
	queue     ports.IngestQueue
	publisher ports.ConfigChangePublisher
	logger    *zap.Logger
}

// NewConnectorAdminService wires the connector admin surface. publisher
// may be nil in single-process deployments.
func NewConnectorAdminService(
	configs ports.ConnectorConfigRepository,
	cursors ports.ConnectorCursorRepository,
	cipher ports.SettingsCipher,
	catalog ports.ConnectorCatalog,
	sources ports.SourceResolver,
	queue ports.IngestQueue,
	publisher ports.ConfigChangePublisher,
	logger *zap.Logger,
) *ConnectorAdminService {
	return &ConnectorAdminService{
		configs:   configs,
		cursors:   cursors,
		cipher:    cipher,
		catalog:   catalog,
		sources:   sources,
		queue:     queue,
		publisher: publisher,
		logger:    logger,
	}
}

// Register validates the provider settings, seals the secret fields
// under the active KEK, and stores the registration enabled. Settings
// in the returned config are ciphertext.
func (s *ConnectorAdminService) Register(ctx context.Context, tenantID, provider string, settings map[string]any) (*connector.Config, error) {
	normalized, err := connector.NormalizeSettings(provider, settings)
	if err != nil {
		return nil, err
	}
	sealed, keyVersion, err := s.cipher.EncryptSettings(normalized)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cfg := &connector.Config{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Provider:   provider,
		Settings:   sealed,
		Enabled:    true,
		KeyVersion: keyVersion,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	s.notify(ctx, tenantID, provider, ports.ConfigOpUpsert)
	s.logger.Info("connector registered",
		zap.String("tenant_id", tenantID),
		zap.String("provider", provider),
		zap.Int("key_version", keyVersion))
	return cfg, nil
}

// SetEnabled flips the registration's enabled flag.
func (s *ConnectorAdminService) SetEnabled(ctx context.Context, tenantID, provider string, enabled bool) error {
	if err := s.configs.SetEnabled(ctx, tenantID, provider, enabled); err != nil {
		return err
	}
	s.notify(ctx, tenantID, provider, ports.ConfigOpUpsert)
	s.logger.Info("connector toggled",
		zap.String("tenant_id", tenantID),
		zap.String("provider", provider),
		zap.Bool("enabled", enabled))
	return nil
}

// Delete removes the registration and its cached copies.
func (s *ConnectorAdminService) Delete(ctx context.Context, tenantID, provider string) error {
	if err := s.configs.Delete(ctx, tenantID, provider); err != nil {
		return err
	}
	s.notify(ctx, tenantID, provider, ports.ConfigOpDelete)
	s.logger.Info("connector deleted",
		zap.String("tenant_id", tenantID),
		zap.String("provider", provider))
	return nil
}

// Backfill lists changes from the provider starting at the saved
// cursor and seeds the tenant's ingestion queue. The cursor is saved
// after every page, so an interrupted backfill resumes where it
// stopped rather than re-listing.
func (s *ConnectorAdminService) Backfill(ctx context.Context, tenantID, provider string) (*BackfillReport, error) {
	cfg, err := s.catalog.Enabled(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	src, err := s.sources.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	state, err := s.cursors.GetCursor(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	cursor, _ := state["cursor"].(string)

	report := &BackfillReport{Provider: provider}
	ref := ports.QueueRef{Provider: provider, TenantID: tenantID}
	for report.Pages < maxBackfillPages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		items, next, err := src.ListChanges(ctx, cursor)
		if err != nil {
			return report, err
		}
		report.Pages++
		report.Listed += len(items)

		for i := range items {
			items[i].TenantID = tenantID
		}
		if len(items) > 0 {
			accepted, err := s.queue.Enqueue(ctx, ref, items)
			report.Enqueued += accepted
			if err != nil {
				return report, err
			}
		}

		cursor = next
		if err := s.cursors.PutCursor(ctx, tenantID, provider, map[string]any{"cursor": cursor}); err != nil {
			return report, err
		}
		if next == "" {
			report.Complete = true
			break
		}
	}

	s.logger.Info("backfill pass complete",
		zap.String("tenant_id", tenantID),
		zap.String("provider", provider),
		zap.Int("listed", report.Listed),
		zap.Int("enqueued", report.Enqueued),
		zap.Bool("complete", report.Complete))
	return report, nil
}

// List returns the tenant's registrations with settings still sealed.
func (s *ConnectorAdminService) List(ctx context.Context, tenantID string) ([]*connector.Config, error) {
	return s.configs.List(ctx, tenantID)
}

func (s *ConnectorAdminService) notify(ctx context.Context, tenantID, provider, op string) {
	s.catalog.Invalidate(tenantID, provider)
	if s.publisher == nil {
		return
	}
	change := ports.ConfigChange{TenantID: tenantID, Provider: provider, Operation: op}
	if err := s.publisher.PublishConfigChange(ctx, change); err != nil {
		s.logger.Warn("config change publish failed",
			zap.String("tenant_id", tenantID),
			zap.String("provider", provider),
			zap.String("operation", op),
			zap.Error(err))
	}
}
