package connectors

import (
	"context"
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// DefaultCatalogTTL bounds staleness when an invalidation notice is
// missed. Pub/sub eviction is the fast path; the TTL is the backstop.
const DefaultCatalogTTL = 5 * time.Minute

// Catalog serves decrypted connector configs to the ingestion path,
// caching positive lookups per (tenant, provider).
type Catalog struct {
	repo    ports.ConnectorConfigRepository
	cipher  ports.SettingsCipher
	cache   *cache.Cache
	metrics *observability.Collector
	logger  *zap.Logger
}

var _ ports.ConnectorCatalog = (*Catalog)(nil)

// NewCatalog builds a catalog over repo. A non-positive ttl selects
// DefaultCatalogTTL.
func NewCatalog(repo ports.ConnectorConfigRepository, cipher ports.SettingsCipher, ttl time.Duration, metrics *observability.Collector, logger *zap.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{
		repo:    repo,
		cipher:  cipher,
		cache:   cache.New(ttl, 2*ttl),
		metrics: metrics,
		logger:  logger,
	}
}

// Enabled returns the decrypted registration when it exists and is
// enabled, NotFound otherwise. Only enabled registrations are cached,
// so re-enabling takes effect on the next lookup.
func (c *Catalog) Enabled(ctx context.Context, tenantID, provider string) (*connector.Config, error) {
	key := catalogKey(tenantID, provider)
	if cached, ok := c.cache.Get(key); ok {
		c.metrics.ConnectorConfigCache.WithLabelValues("hit").Inc()
		return cloneConfig(cached.(*connector.Config)), nil
	}
	c.metrics.ConnectorConfigCache.WithLabelValues("miss").Inc()

	cfg, err := c.repo.Get(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("enabled %s connector for tenant %s", provider, tenantID))
	}

	settings, err := c.cipher.DecryptSettings(cfg.Settings, cfg.KeyVersion)
	if err != nil {
		return nil, err
	}
	decrypted := *cfg
	decrypted.Settings = settings

	c.cache.SetDefault(key, &decrypted)
	return cloneConfig(&decrypted), nil
}

// Warm primes the cache with every enabled registration so the first
// ingest after a restart skips the read-and-decrypt round trip. A row
// that fails decryption is skipped here; the ingestion path will
// surface it when a change for that connector arrives.
func (c *Catalog) Warm(ctx context.Context) (int, error) {
	configs, err := c.repo.ListEnabled(ctx)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, cfg := range configs {
		settings, err := c.cipher.DecryptSettings(cfg.Settings, cfg.KeyVersion)
		if err != nil {
			c.logger.Warn("connector skipped during cache warm",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("provider", cfg.Provider),
				zap.Error(err))
			continue
		}
		decrypted := *cfg
		decrypted.Settings = settings
		c.cache.SetDefault(catalogKey(cfg.TenantID, cfg.Provider), &decrypted)
		warmed++
	}
	return warmed, nil
}

// Invalidate evicts the cached entry. Local writes call it directly;
// writes in other processes arrive through HandleConfigChange.
func (c *Catalog) Invalidate(tenantID, provider string) {
	c.cache.Delete(catalogKey(tenantID, provider))
	c.metrics.ConnectorConfigInvalidate.Inc()
	c.logger.Debug("connector config cache invalidated",
		zap.String("tenant_id", tenantID),
		zap.String("provider", provider))
}

// HandleConfigChange adapts the catalog to the pub/sub subscriber.
func (c *Catalog) HandleConfigChange(change ports.ConfigChange) {
	c.Invalidate(change.TenantID, change.Provider)
}

func catalogKey(tenantID, provider string) string {
	return tenantID + "/" + provider
}

// cloneConfig keeps callers from mutating the cached settings map.
func cloneConfig(cfg *connector.Config) *connector.Config {
	out := *cfg
	out.Settings = make(map[string]any, len(cfg.Settings))
	for k, v := range cfg.Settings {
		out.Settings[k] = v
	}
	return &out
}
