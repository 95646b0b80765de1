package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// secretFieldNames are log field keys whose values are never emitted.
var secretFieldNames = map[string]struct{}{
	"access_key_id":     {},
	"secret_access_key": {},
	"api_key":           {},
	"password":          {},
	"token":             {},
	"credentials":       {},
	"secret_key":        {},
	"authorization":     {},
}

const redactedPlaceholder = "***REDACTED***"

// NewLogger builds the process logger. Production gets JSON output,
// everything else gets the console encoder.
func NewLogger(environment, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	return cfg.Build(zap.AddCaller())
}

// SecretField returns a zap field with the value replaced when the key
// names a credential. Callers use it instead of zap.String whenever the
// value originates from connector configuration or auth headers.
func SecretField(key, value string) zap.Field {
	if IsSecretField(key) {
		return zap.String(key, redactedPlaceholder)
	}
	return zap.String(key, value)
}

// IsSecretField reports whether a field key names credential material.
func IsSecretField(key string) bool {
	_, ok := secretFieldNames[strings.ToLower(key)]
	return ok
}

// SanitizeMap returns a copy of m with credential values redacted.
// Used before logging connector configuration payloads.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSecretField(k) {
			out[k] = redactedPlaceholder
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = SanitizeMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
