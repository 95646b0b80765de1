package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

const defaultRotationBatch = 500

// RotationOptions narrows one rotation pass. Empty slices mean no
// filter.
type RotationOptions struct {
	DryRun    bool
	Providers []string
	Tenants   []string
	BatchSize int
}

// RotationReport summarizes one rotation pass.
type RotationReport struct {
	DryRun        bool `json:"dry_run"`
	ActiveVersion int  `json:"active_version"`
	Candidates    int  `json:"candidates"`
	Rotated       int  `json:"rotated"`
	Errors        int  `json:"errors"`
}

// RotationService re-encrypts connector settings that were sealed under
// a retired KEK version. Rows already on the active version are never
// candidates, so a pass converges and a second pass finds nothing.
type RotationService struct {
	configs   ports.ConnectorConfigRepository
	cipher    ports.SettingsCipher
	publisher ports.ConfigChangePublisher
	metrics   *observability.Collector
	logger    *zap.Logger
}

// NewRotationService wires the rotator. publisher may be nil when no
// cross-process cache needs invalidating.
func NewRotationService(
	configs ports.ConnectorConfigRepository,
	cipher ports.SettingsCipher,
	publisher ports.ConfigChangePublisher,
	metrics *observability.Collector,
	logger *zap.Logger,
) *RotationService {
	return &RotationService{
		configs:   configs,
		cipher:    cipher,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// RotateKeys finds registrations on stale key versions and rewraps
// their secrets under the active KEK. Dry run reports candidates
// without writing.
func (s *RotationService) RotateKeys(ctx context.Context, opts RotationOptions) (*RotationReport, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultRotationBatch
	}

	active := s.cipher.ActiveVersion()
	report := &RotationReport{DryRun: opts.DryRun, ActiveVersion: active}

	candidates, err := s.configs.RotationCandidates(ctx, active, batch)
	if err != nil {
		return nil, err
	}
	candidates = filterCandidates(candidates, opts.Providers, opts.Tenants)
	report.Candidates = len(candidates)

	if opts.DryRun {
		s.logger.Info("key rotation dry run",
			zap.Int("active_version", active),
			zap.Int("candidates", report.Candidates))
		return report, nil
	}

	for _, cfg := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.rotateOne(ctx, cfg, active); err != nil {
			report.Errors++
			s.metrics.ConnectorRotation.WithLabelValues("error").Inc()
			s.logger.Error("key rotation failed",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("provider", cfg.Provider),
				zap.Int("from_version", cfg.KeyVersion),
				zap.Error(err))
			continue
		}
		report.Rotated++
		s.metrics.ConnectorRotation.WithLabelValues("ok").Inc()
	}

	s.metrics.ConnectorRotationBatch.Observe(float64(report.Rotated))
	s.logger.Info("key rotation pass complete",
		zap.Int("active_version", active),
		zap.Int("candidates", report.Candidates),
		zap.Int("rotated", report.Rotated),
		zap.Int("errors", report.Errors))
	return report, nil
}

// rotateOne decrypts with the row's recorded version and writes back
// under the active one. The repository guards on fromVersion, so a
// concurrent registration update makes this a no-op instead of a
// double-encrypt.
func (s *RotationService) rotateOne(ctx context.Context, cfg *connector.Config, active int) error {
	plain, err := s.cipher.DecryptSettings(cfg.Settings, cfg.KeyVersion)
	if err != nil {
		return err
	}
	sealed, _, err := s.cipher.EncryptSettings(plain)
	if err != nil {
		return err
	}
	if err := s.configs.Reencrypt(ctx, cfg.TenantID, cfg.Provider, sealed, cfg.KeyVersion, active); err != nil {
		return err
	}
	if s.publisher != nil {
		change := ports.ConfigChange{TenantID: cfg.TenantID, Provider: cfg.Provider, Operation: ports.ConfigOpUpsert}
		if err := s.publisher.PublishConfigChange(ctx, change); err != nil {
			s.logger.Warn("config change publish failed after rotation",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("provider", cfg.Provider),
				zap.Error(err))
		}
	}
	return nil
}

func filterCandidates(candidates []*connector.Config, providers, tenants []string) []*connector.Config {
	if len(providers) == 0 && len(tenants) == 0 {
		return candidates
	}
	allowed := func(set []string, v string) bool {
		if len(set) == 0 {
			return true
		}
		for _, s := range set {
			if s == v {
				return true
			}
		}
		return false
	}
	kept := candidates[:0]
	for _, cfg := range candidates {
		if allowed(providers, cfg.Provider) && allowed(tenants, cfg.TenantID) {
			kept = append(kept, cfg)
		}
	}
	return kept
}
