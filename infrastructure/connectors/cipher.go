// Package connectors holds the provider-facing infrastructure for
// document ingestion: the settings cipher, the cached config catalog,
// the provider registry with its S3, GCS, and Drive clients, SNS
// webhook verification, and payload reference loading.
package connectors

import (
	"fmt"
	"sort"

	"github.com/fernet/fernet-go"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// secretFields are the settings keys sealed at rest. Everything else
// in a registration is stored in the clear.
var secretFields = map[string]struct{}{
	"access_key_id":     {},
	"secret_access_key": {},
	"api_key":           {},
	"password":          {},
	"token":             {},
	"credentials":       {},
}

// Redacted replaces secret values in logs and API responses.
const Redacted = "***REDACTED***"

// IsSecretField reports whether a settings key holds a secret value.
func IsSecretField(key string) bool {
	_, ok := secretFields[key]
	return ok
}

// SanitizeSettings returns a copy of settings safe to log or echo to
// callers. Secret values are replaced whether they are sealed or not.
func SanitizeSettings(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		if IsSecretField(k) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}

// FernetCipher seals secret settings fields with versioned fernet
// KEKs. Writes always use the active key; reads try the version the
// row was sealed under and fall back to every loaded key, which is
// what lets rotation proceed without a flag day.
type FernetCipher struct {
	keys    map[int]*fernet.Key
	active  int
	metrics *observability.Collector
	logger  *zap.Logger
}

var _ ports.SettingsCipher = (*FernetCipher)(nil)

// NewFernetCipher parses the configured KEK ring. A missing or
// undecodable key is a startup failure, not something to discover on
// the first connector write.
func NewFernetCipher(keks map[int]string, activeVersion int, metrics *observability.Collector, logger *zap.Logger) (*FernetCipher, error) {
	if len(keks) == 0 {
		return nil, pkgerrors.NewConfigError("no connector KEKs configured; set CONNECTOR_KEK_V1")
	}
	keys := make(map[int]*fernet.Key, len(keks))
	for version, raw := range keks {
		key, err := fernet.DecodeKey(raw)
		if err != nil {
			return nil, pkgerrors.NewConfigError(fmt.Sprintf("CONNECTOR_KEK_V%d is not a valid fernet key", version))
		}
		keys[version] = key
	}
	if _, ok := keys[activeVersion]; !ok {
		return nil, pkgerrors.NewConfigError(fmt.Sprintf("active KEK version %d is not loaded; set CONNECTOR_KEK_V%d", activeVersion, activeVersion))
	}
	return &FernetCipher{keys: keys, active: activeVersion, metrics: metrics, logger: logger}, nil
}

// ActiveVersion is the key version new writes are sealed under.
func (c *FernetCipher) ActiveVersion() int { return c.active }

// EncryptSettings seals secret string fields under the active key and
// reports the version used. Non-secret and non-string values pass
// through untouched.
func (c *FernetCipher) EncryptSettings(settings map[string]any) (map[string]any, int, error) {
	key := c.keys[c.active]
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		plain, ok := v.(string)
		if !IsSecretField(k) || !ok || plain == "" {
			out[k] = v
			continue
		}
		tok, err := fernet.EncryptAndSign([]byte(plain), key)
		if err != nil {
			return nil, 0, pkgerrors.NewInternalError(fmt.Sprintf("encrypt connector field %s", k), err)
		}
		out[k] = string(tok)
	}
	return out, c.active, nil
}

// DecryptSettings opens secret fields, trying keyVersion first and
// then the rest of the ring. Failures are counted per field; the
// returned error never carries ciphertext.
func (c *FernetCipher) DecryptSettings(settings map[string]any, keyVersion int) (map[string]any, error) {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		sealed, ok := v.(string)
		if !IsSecretField(k) || !ok || sealed == "" {
			out[k] = v
			continue
		}
		plain, ok := c.open(sealed, keyVersion)
		if !ok {
			c.metrics.ConnectorDecryptFailures.WithLabelValues(k).Inc()
			c.logger.Error("connector field failed every decryption key",
				zap.String("field", k),
				zap.Int("key_version", keyVersion))
			return nil, pkgerrors.NewConfigError(fmt.Sprintf("connector field %s cannot be decrypted with any loaded KEK", k))
		}
		out[k] = plain
	}
	return out, nil
}

// open tries the hinted version first, then the rest of the ring in
// version order.
func (c *FernetCipher) open(sealed string, hint int) (string, bool) {
	if key, ok := c.keys[hint]; ok {
		if msg := fernet.VerifyAndDecrypt([]byte(sealed), 0, []*fernet.Key{key}); msg != nil {
			return string(msg), true
		}
	}
	for _, version := range c.versions() {
		if version == hint {
			continue
		}
		if msg := fernet.VerifyAndDecrypt([]byte(sealed), 0, []*fernet.Key{c.keys[version]}); msg != nil {
			return string(msg), true
		}
	}
	return "", false
}

func (c *FernetCipher) versions() []int {
	out := make([]int, 0, len(c.keys))
	for v := range c.keys {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
