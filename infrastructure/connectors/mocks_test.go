package connectors

import (
	"context"
	"fmt"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// fakeConfigRepo is an in-memory ConnectorConfigRepository that counts
// reads so tests can observe cache behavior.
type fakeConfigRepo struct {
	configs  map[string]*connector.Config
	getCalls int
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: make(map[string]*connector.Config)}
}

func (f *fakeConfigRepo) put(cfg *connector.Config) {
	f.configs[cfg.TenantID+"/"+cfg.Provider] = cfg
}

func (f *fakeConfigRepo) Upsert(_ context.Context, cfg *connector.Config) error {
	f.put(cfg)
	return nil
}

func (f *fakeConfigRepo) Get(_ context.Context, tenantID, provider string) (*connector.Config, error) {
	f.getCalls++
	cfg, ok := f.configs[tenantID+"/"+provider]
	if !ok {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("%s connector for tenant %s", provider, tenantID))
	}
	copied := *cfg
	return &copied, nil
}

func (f *fakeConfigRepo) List(_ context.Context, tenantID string) ([]*connector.Config, error) {
	var out []*connector.Config
	for _, cfg := range f.configs {
		if cfg.TenantID == tenantID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeConfigRepo) ListEnabled(context.Context) ([]*connector.Config, error) {
	var out []*connector.Config
	for _, cfg := range f.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeConfigRepo) SetEnabled(_ context.Context, tenantID, provider string, enabled bool) error {
	cfg, ok := f.configs[tenantID+"/"+provider]
	if !ok {
		return pkgerrors.NewNotFoundError("connector config")
	}
	cfg.Enabled = enabled
	return nil
}

func (f *fakeConfigRepo) Delete(_ context.Context, tenantID, provider string) error {
	delete(f.configs, tenantID+"/"+provider)
	return nil
}

func (f *fakeConfigRepo) RotationCandidates(_ context.Context, activeVersion, _ int) ([]*connector.Config, error) {
	var out []*connector.Config
	for _, cfg := range f.configs {
		if cfg.KeyVersion != activeVersion {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (f *fakeConfigRepo) Reencrypt(_ context.Context, tenantID, provider string, settings map[string]any, fromVersion, toVersion int) error {
	cfg, ok := f.configs[tenantID+"/"+provider]
	if !ok {
		return pkgerrors.NewNotFoundError("connector config")
	}
	if cfg.KeyVersion != fromVersion {
		return pkgerrors.NewConflictError("key version moved")
	}
	cfg.Settings = settings
	cfg.KeyVersion = toVersion
	return nil
}

// staticCatalog serves one fixed config for every lookup.
type staticCatalog struct {
	cfg *connector.Config
	err error
}

func (s *staticCatalog) Enabled(context.Context, string, string) (*connector.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg, nil
}

func (s *staticCatalog) Invalidate(string, string) {}

// staticResolver serves one fixed source.
type staticResolver struct {
	src connector.Source
}

func (s *staticResolver) Resolve(context.Context, *connector.Config) (connector.Source, error) {
	return s.src, nil
}

// textSource serves canned text and records the last fetched URI.
type textSource struct {
	text    string
	lastURI string
}

func (t *textSource) Stat(context.Context, string) (connector.Stats, error) {
	return connector.Stats{Exists: true}, nil
}

func (t *textSource) FetchText(_ context.Context, uri string) (connector.FetchResult, error) {
	t.lastURI = uri
	return connector.FetchResult{Text: t.text}, nil
}

func (t *textSource) ListChanges(context.Context, string) ([]connector.ChangeItem, string, error) {
	return nil, "", nil
}

func (t *textSource) Provider() string { return connector.ProviderS3 }
