package connector

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

var validate = newSchemaValidator()

// newSchemaValidator reports field errors under their JSON names so
// messages match what the caller actually sent.
func newSchemaValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Polling bounds shared by all providers.
const (
	DefaultPollIntervalSeconds = 900
	MinPollIntervalSeconds     = 60
	MaxPollIntervalSeconds     = 3600
)

// DefaultS3Region applies when a registration omits the region.
const DefaultS3Region = "us-east-1"

// S3Config is the validated settings shape for the s3 provider.
type S3Config struct {
	Bucket              string `json:"bucket" validate:"required"`
	Prefix              string `json:"prefix"`
	Region              string `json:"region"`
	AccessKeyID         string `json:"access_key_id" validate:"required,min=16"`
	SecretAccessKey     string `json:"secret_access_key" validate:"required,min=32"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" validate:"min=60,max=3600"`
	Enabled             bool   `json:"enabled"`
}

// GCSConfig is the validated settings shape for the gcs provider.
type GCSConfig struct {
	Bucket                 string `json:"bucket" validate:"required"`
	Prefix                 string `json:"prefix"`
	ServiceAccountJSONPath string `json:"service_account_json_path" validate:"required"`
	PollIntervalSeconds    int    `json:"poll_interval_seconds" validate:"min=60,max=3600"`
	Enabled                bool   `json:"enabled"`
}

// DriveConfig is the validated settings shape for the drive provider.
type DriveConfig struct {
	FolderID               string `json:"folder_id" validate:"required"`
	ServiceAccountJSONPath string `json:"service_account_json_path" validate:"required"`
	PollIntervalSeconds    int    `json:"poll_interval_seconds" validate:"min=60,max=3600"`
	Enabled                bool   `json:"enabled"`
}

// Quota caps per-tenant ingestion volume.
type Quota struct {
	MaxDocsPerDay      int   `json:"max_docs_per_day" validate:"min=1"`
	MaxStorageBytes    int64 `json:"max_storage_bytes" validate:"min=1024"`
	MaxAPICallsPerHour int   `json:"max_api_calls_per_hour" validate:"min=1"`
}

// DefaultQuota returns the shipped per-tenant limits.
func DefaultQuota() Quota {
	return Quota{
		MaxDocsPerDay:      10000,
		MaxStorageBytes:    10 * 1024 * 1024 * 1024,
		MaxAPICallsPerHour: 5000,
	}
}

// ParseS3Config validates raw registration settings for s3, applying
// defaults for omitted fields. Unknown fields are dropped.
func ParseS3Config(raw map[string]any) (S3Config, error) {
	var cfg S3Config
	merged := withDefaults(raw, map[string]any{
		"region":                DefaultS3Region,
		"poll_interval_seconds": DefaultPollIntervalSeconds,
		"enabled":               true,
	})
	if err := decodeSettings(merged, &cfg); err != nil {
		return S3Config{}, err
	}
	if err := validate.Struct(cfg); err != nil {
		return S3Config{}, invalidSettings(ProviderS3, err)
	}
	return cfg, nil
}

// ParseGCSConfig validates raw registration settings for gcs.
func ParseGCSConfig(raw map[string]any) (GCSConfig, error) {
	var cfg GCSConfig
	merged := withDefaults(raw, map[string]any{
		"poll_interval_seconds": DefaultPollIntervalSeconds,
		"enabled":               true,
	})
	if err := decodeSettings(merged, &cfg); err != nil {
		return GCSConfig{}, err
	}
	if err := validate.Struct(cfg); err != nil {
		return GCSConfig{}, invalidSettings(ProviderGCS, err)
	}
	return cfg, nil
}

// ParseDriveConfig validates raw registration settings for drive.
func ParseDriveConfig(raw map[string]any) (DriveConfig, error) {
	var cfg DriveConfig
	merged := withDefaults(raw, map[string]any{
		"poll_interval_seconds": DefaultPollIntervalSeconds,
		"enabled":               true,
	})
	if err := decodeSettings(merged, &cfg); err != nil {
		return DriveConfig{}, err
	}
	if err := validate.Struct(cfg); err != nil {
		return DriveConfig{}, invalidSettings(ProviderDrive, err)
	}
	return cfg, nil
}

// ParseQuota validates raw quota overrides, falling back to defaults
// for omitted fields.
func ParseQuota(raw map[string]any) (Quota, error) {
	def := DefaultQuota()
	merged := withDefaults(raw, map[string]any{
		"max_docs_per_day":       def.MaxDocsPerDay,
		"max_storage_bytes":      def.MaxStorageBytes,
		"max_api_calls_per_hour": def.MaxAPICallsPerHour,
	})
	var q Quota
	if err := decodeSettings(merged, &q); err != nil {
		return Quota{}, err
	}
	if err := validate.Struct(q); err != nil {
		return Quota{}, invalidSettings("quota", err)
	}
	return q, nil
}

// NormalizeSettings validates raw settings for the named provider and
// returns the canonical map to persist: defaults applied, unknown keys
// dropped. The result still carries plaintext secrets; encryption
// happens on the way to storage.
func NormalizeSettings(provider string, raw map[string]any) (map[string]any, error) {
	switch provider {
	case ProviderS3:
		cfg, err := ParseS3Config(raw)
		if err != nil {
			return nil, err
		}
		return toSettingsMap(cfg)
	case ProviderGCS:
		cfg, err := ParseGCSConfig(raw)
		if err != nil {
			return nil, err
		}
		return toSettingsMap(cfg)
	case ProviderDrive:
		cfg, err := ParseDriveConfig(raw)
		if err != nil {
			return nil, err
		}
		return toSettingsMap(cfg)
	default:
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("unknown connector provider %q", provider))
	}
}

func withDefaults(raw, defaults map[string]any) map[string]any {
	merged := make(map[string]any, len(raw)+len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range raw {
		merged[k] = v
	}
	return merged
}

func decodeSettings(raw map[string]any, out any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return pkgerrors.NewValidationError("connector config is not valid JSON")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return pkgerrors.NewValidationError(fmt.Sprintf("connector config has wrong field types: %v", err))
	}
	return nil
}

func toSettingsMap(cfg any) (map[string]any, error) {
	buf, err := json.Marshal(cfg)
	if err != nil {
		return nil, pkgerrors.NewInternalError("marshal connector settings", err)
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, pkgerrors.NewInternalError("decode connector settings", err)
	}
	return m, nil
}

func invalidSettings(provider string, err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, formatFieldError(fe))
		}
		return pkgerrors.NewValidationError(fmt.Sprintf("invalid %s config: %s", provider, strings.Join(parts, "; ")))
	}
	return pkgerrors.NewValidationError(fmt.Sprintf("invalid %s config: %v", provider, err))
}

func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}
