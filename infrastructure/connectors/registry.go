package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// sourceCacheTTL bounds how long a built provider client is reused.
const sourceCacheTTL = 10 * time.Minute

type builderFunc func(ctx context.Context, cfg *connector.Config) (connector.Source, error)

// Registry resolves a decrypted registration to its provider client.
// Clients are cached by a hash of the settings so webhook bursts do
// not rebuild SDK clients per message; any settings change hashes
// differently and yields a fresh client.
type Registry struct {
	builders map[string]builderFunc
	cache    *cache.Cache
	logger   *zap.Logger
}

var _ ports.SourceResolver = (*Registry)(nil)

// NewRegistry builds the registry with every shipped provider.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		builders: map[string]builderFunc{
			connector.ProviderS3:    newS3Source,
			connector.ProviderGCS:   newGCSSource,
			connector.ProviderDrive: newDriveSource,
		},
		cache:  cache.New(sourceCacheTTL, 2*sourceCacheTTL),
		logger: logger,
	}
}

// Resolve returns the provider client for cfg. An unknown provider is
// a permanent failure: retrying will never make a client appear.
func (r *Registry) Resolve(ctx context.Context, cfg *connector.Config) (connector.Source, error) {
	build, ok := r.builders[cfg.Provider]
	if !ok {
		return nil, pkgerrors.NewPermanentConnectorError(
			fmt.Sprintf("connector provider %q is not supported", cfg.Provider), nil)
	}

	key := r.clientKey(cfg)
	if key != "" {
		if cached, ok := r.cache.Get(key); ok {
			return cached.(connector.Source), nil
		}
	}

	src, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if key != "" {
		r.cache.SetDefault(key, src)
	}
	return src, nil
}

// clientKey fingerprints the registration settings. An empty key skips
// caching rather than risking a stale client under the wrong config.
func (r *Registry) clientKey(cfg *connector.Config) string {
	sum, err := hashstructure.Hash(cfg.Settings, hashstructure.FormatV2, nil)
	if err != nil {
		r.logger.Warn("connector settings not hashable, client cache skipped",
			zap.String("provider", cfg.Provider), zap.Error(err))
		return ""
	}
	return fmt.Sprintf("%s/%s/%d", cfg.TenantID, cfg.Provider, sum)
}
