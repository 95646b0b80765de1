package ports

import (
	"context"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
)

// SettingsCipher seals and opens the secret-valued fields of connector
// settings. Encryption always uses the active key; decryption tries the
// version the row was sealed with and falls back to every loaded key.
type SettingsCipher interface {
	// EncryptSettings returns a copy with secret fields encrypted and
	// the key version they were sealed under.
	EncryptSettings(settings map[string]any) (map[string]any, int, error)
	// DecryptSettings returns a copy with secret fields in the clear.
	DecryptSettings(settings map[string]any, keyVersion int) (map[string]any, error)
	// ActiveVersion is the key version new writes are sealed under.
	ActiveVersion() int
}

// ConnectorCatalog serves decrypted connector configs to the ingestion
// path, caching reads and honoring invalidation notices.
type ConnectorCatalog interface {
	// Enabled returns the decrypted config for (tenant, provider) when
	// the registration exists and is enabled. NotFound otherwise.
	Enabled(ctx context.Context, tenantID, provider string) (*connector.Config, error)
	// Invalidate evicts the cached entry for (tenant, provider).
	Invalidate(tenantID, provider string)
}

// SourceResolver builds the provider client bound to a decrypted
// connector config.
type SourceResolver interface {
	Resolve(ctx context.Context, cfg *connector.Config) (connector.Source, error)
}

// PayloadLoader resolves a node's payload_ref to its text content.
// Implementations enforce the file basedir allowlist, the URL
// allowlist, and size caps.
type PayloadLoader interface {
	Load(ctx context.Context, tenantID, ref string) (string, error)
}
