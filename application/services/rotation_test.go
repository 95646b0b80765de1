package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

func staleConfig(tenantID, provider string, keyVersion int) *connector.Config {
	return &connector.Config{
		TenantID:   tenantID,
		Provider:   provider,
		Settings:   map[string]any{"bucket": "b", "_sealed": keyVersion},
		Enabled:    true,
		KeyVersion: keyVersion,
	}
}

func newRotation(configs *memConfigs, cipher *stubCipher, publisher ports.ConfigChangePublisher) *RotationService {
	return NewRotationService(configs, cipher, publisher, observability.NewCollector(), zap.NewNop())
}

func TestRotateKeysRewrapsStaleRows(t *testing.T) {
	stale := staleConfig("acme", "s3", 1)
	current := staleConfig("beta", "gcs", 3)
	configs := newMemConfigs(stale, current)
	cipher := &stubCipher{active: 3}
	publisher := &stubPublisher{}

	svc := newRotation(configs, cipher, publisher)
	report, err := svc.RotateKeys(context.Background(), RotationOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.ActiveVersion)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Rotated)
	assert.Zero(t, report.Errors)

	assert.Equal(t, []int{1}, cipher.decSeen, "decrypted with the row's recorded version")
	assert.Equal(t, 3, stale.KeyVersion)
	assert.Equal(t, 3, stale.Settings["_sealed"])

	require.Len(t, publisher.changes, 1)
	assert.Equal(t, ports.ConfigOpUpsert, publisher.changes[0].Operation)
	assert.Equal(t, "acme", publisher.changes[0].TenantID)

	// Converged: nothing left on a retired version.
	again, err := svc.RotateKeys(context.Background(), RotationOptions{})
	require.NoError(t, err)
	assert.Zero(t, again.Candidates)
}

func TestRotateKeysDryRun(t *testing.T) {
	stale := staleConfig("acme", "s3", 1)
	configs := newMemConfigs(stale)
	publisher := &stubPublisher{}

	svc := newRotation(configs, &stubCipher{active: 2}, publisher)
	report, err := svc.RotateKeys(context.Background(), RotationOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Candidates)
	assert.Zero(t, report.Rotated)
	assert.Equal(t, 1, stale.KeyVersion, "dry run writes nothing")
	assert.Empty(t, publisher.changes)
}

func TestRotateKeysFilters(t *testing.T) {
	s3acme := staleConfig("acme", "s3", 1)
	gcsbeta := staleConfig("beta", "gcs", 1)
	configs := newMemConfigs(s3acme, gcsbeta)

	svc := newRotation(configs, &stubCipher{active: 2}, &stubPublisher{})
	report, err := svc.RotateKeys(context.Background(), RotationOptions{Providers: []string{"s3"}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 2, s3acme.KeyVersion)
	assert.Equal(t, 1, gcsbeta.KeyVersion)

	report, err = svc.RotateKeys(context.Background(), RotationOptions{Tenants: []string{"nobody"}})
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Equal(t, 1, gcsbeta.KeyVersion)
}

func TestRotateKeysDecryptFailureCounted(t *testing.T) {
	stale := staleConfig("acme", "s3", 1)
	configs := newMemConfigs(stale)
	publisher := &stubPublisher{}

	svc := newRotation(configs, &stubCipher{active: 2, decErr: assert.AnError}, publisher)
	report, err := svc.RotateKeys(context.Background(), RotationOptions{})
	require.NoError(t, err, "per-row failures do not abort the pass")

	assert.Equal(t, 1, report.Errors)
	assert.Zero(t, report.Rotated)
	assert.Equal(t, 1, stale.KeyVersion)
	assert.Empty(t, publisher.changes)
}

func TestRotateKeysWithoutPublisher(t *testing.T) {
	stale := staleConfig("acme", "s3", 1)
	configs := newMemConfigs(stale)

	svc := newRotation(configs, &stubCipher{active: 2}, nil)
	report, err := svc.RotateKeys(context.Background(), RotationOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rotated)
}

func TestRotateKeysPublishFailureStillRotates(t *testing.T) {
	stale := staleConfig("acme", "s3", 1)
	configs := newMemConfigs(stale)

	svc := newRotation(configs, &stubCipher{active: 2}, &stubPublisher{err: assert.AnError})
	report, err := svc.RotateKeys(context.Background(), RotationOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rotated)
	assert.Zero(t, report.Errors, "a deaf cache listener does not undo the rewrap")
	assert.Equal(t, 2, stale.KeyVersion)
}
