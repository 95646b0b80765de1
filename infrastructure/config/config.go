// Package config loads service configuration from the environment,
// with an optional YAML tuning file that can be hot-reloaded at
// runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string
	LogLevel      string

	// Storage
	DatabaseURL string
	RedisURL    string
	RLSMode     string // auto | on | off

	// Authentication
	JWT JWTConfig

	// Request limits
	RateLimit RateLimitConfig

	// Embeddings + LLM
	Embedding EmbeddingConfig
	LLM       LLMConfig

	// Retrieval tuning (static defaults; see Tuning for hot-reload)
	Retrieval RetrievalConfig

	// Ingestion
	Chunking  ChunkingConfig
	Scheduler SchedulerConfig
	Webhook   WebhookConfig
	Files     FileAccessConfig
	// IngestWorkers sizes the in-process queue consumer pool. Zero
	// disables it; the worker binary runs its own pool.
	IngestWorkers int

	// Connector secret encryption
	KEKs             map[int]string
	ActiveKEKVersion int

	// Trigger patterns share one namespace when true (legacy behavior).
	PatternsGlobal bool

	// CORS
	CORS CORSConfig

	// Observability
	EnableTracing bool
	OTLPEndpoint  string

	// Optional YAML tuning overrides, hot-reloaded when set.
	ConfigFile string
}

// JWTConfig carries the token validation settings.
type JWTConfig struct {
	Enabled      bool
	Algorithm    string
	SecretKey    string
	PublicKeyPEM string
	Audience     string
	Issuer       string
	DevTenant    string
}

// RateLimitConfig carries limiter policies resolved from env overrides.
type RateLimitConfig struct {
	Enabled      bool
	TrustProxy   bool
	RealIPHeader string
	Limits       map[string]auth.EndpointLimit
	Concurrency  map[string]int
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Backend      string // ollama | openai | hash
	Model        string
	Dimension    int
	OllamaURL    string
	OpenAIAPIKey string
	MaxChars     int
	BatchSize    int
}

// LLMConfig selects the answer-generation backend.
type LLMConfig struct {
	Backend         string // ollama | openai | anthropic
	Model           string
	OllamaURL       string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// RetrievalConfig tunes search fusion and ask gating.
type RetrievalConfig struct {
	HybridRRFEnabled bool
	RerankerEnabled  bool
	RerankTopN       int
	DecayLambda      float64
	DriftBeta        float64
	// ExtremelyLowSimThreshold gates /ask; zero means the per-score-type
	// default applies.
	ExtremelyLowSimThreshold float64
}

// ChunkingConfig tunes document splitting.
type ChunkingConfig struct {
	Size                int
	Overlap             int
	ExtractionMaxInput  int
	DeletionGracePeriod time.Duration
}

// SchedulerConfig tunes the refresh loop.
type SchedulerConfig struct {
	Enabled   bool
	Tick      time.Duration
	BatchSize int
}

// WebhookConfig tunes webhook ingress verification.
type WebhookConfig struct {
	VerifySNS      bool
	TopicAllowlist map[string][]string
	CertCacheTTL   time.Duration
	HTTPTimeout    time.Duration
	GCSSecret      string
}

// FileAccessConfig confines payload_ref resolution.
type FileAccessConfig struct {
	BaseDirs     []string
	URLAllowlist []string
}

// CORSConfig drives the chi CORS middleware.
type CORSConfig struct {
	Enabled          bool
	Origins          []string
	AllowCredentials bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("ACTIVEKG_DSN", "postgres://localhost:5432/activekg?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RLSMode:     strings.ToLower(getEnv("RLS_MODE", "auto")),

		JWT: JWTConfig{
			Enabled:      getEnvBool("JWT_ENABLED", false),
			Algorithm:    getEnv("JWT_ALGORITHM", "HS256"),
			SecretKey:    getEnv("JWT_SECRET_KEY", ""),
			PublicKeyPEM: strings.ReplaceAll(getEnv("JWT_PUBLIC_KEY", ""), `\n`, "\n"),
			Audience:     getEnv("JWT_AUDIENCE", auth.DefaultAudience),
			Issuer:       getEnv("JWT_ISSUER", ""),
			DevTenant:    getEnv("ACTIVEKG_DEV_TENANT", "default"),
		},

		RateLimit: RateLimitConfig{
			Enabled:      getEnvBool("RATE_LIMIT_ENABLED", true),
			TrustProxy:   getEnvBool("TRUST_PROXY", false),
			RealIPHeader: getEnv("REAL_IP_HEADER", "X-Forwarded-For"),
			Limits:       loadRateLimits(),
			Concurrency:  loadConcurrency(),
		},

		Embedding: EmbeddingConfig{
			Backend:      getEnv("EMBEDDINGS_BACKEND", "ollama"),
			Model:        getEnv("EMBED_MODEL", "nomic-embed-text"),
			Dimension:    getEnvInt("EMBED_DIM", 768),
			OllamaURL:    getEnv("OLLAMA_URL", "http://localhost:11434"),
			OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
			MaxChars:     getEnvInt("EMBED_MAX_CHARS", 8000),
			BatchSize:    getEnvInt("EMBED_BATCH_SIZE", 32),
		},

		LLM: LLMConfig{
			Backend:         getEnv("LLM_BACKEND", "ollama"),
			Model:           getEnv("LLM_MODEL", "llama3.2"),
			OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		},

		Retrieval: RetrievalConfig{
			HybridRRFEnabled:         getEnvBool("HYBRID_RRF_ENABLED", true),
			RerankerEnabled:          getEnvBool("RERANKER_ENABLED", false),
			RerankTopN:               getEnvInt("RERANK_TOP_N", 50),
			DecayLambda:              getEnvFloat("DECAY_LAMBDA", 0.01),
			DriftBeta:                getEnvFloat("DRIFT_BETA", 0.5),
			ExtremelyLowSimThreshold: getEnvFloat("EXTREMELY_LOW_SIM_THRESHOLD", 0),
		},

		Chunking: ChunkingConfig{
			Size:                getEnvInt("CHUNK_SIZE", 1000),
			Overlap:             getEnvInt("CHUNK_OVERLAP", 200),
			ExtractionMaxInput:  getEnvInt("EXTRACTION_MAX_INPUT_CHARS", 12000),
			DeletionGracePeriod: time.Duration(getEnvInt("DELETION_GRACE_SECONDS", 86400)) * time.Second,
		},

		Scheduler: SchedulerConfig{
			Enabled:   getEnvBool("RUN_SCHEDULER", false),
			Tick:      time.Duration(getEnvInt("SCHEDULER_TICK_SECONDS", 5)) * time.Second,
			BatchSize: getEnvInt("REFRESH_BATCH_SIZE", 100),
		},

		Webhook: WebhookConfig{
			VerifySNS:    getEnvBool("WEBHOOK_VERIFY_SNS", true),
			CertCacheTTL: time.Duration(getEnvInt("WEBHOOK_CERT_CACHE_TTL", 3600)) * time.Second,
			HTTPTimeout:  time.Duration(getEnvInt("WEBHOOK_HTTP_TIMEOUT", 3)) * time.Second,
			GCSSecret:    getEnv("WEBHOOK_GCS_SECRET", ""),
		},

		Files: FileAccessConfig{
			BaseDirs:     splitList(getEnv("ACTIVEKG_FILE_BASEDIRS", "")),
			URLAllowlist: splitList(getEnv("ACTIVEKG_URL_ALLOWLIST", "")),
		},

		IngestWorkers: getEnvInt("INGEST_WORKERS", 2),

		KEKs:             loadKEKs(),
		ActiveKEKVersion: getEnvInt("CONNECTOR_KEK_ACTIVE_VERSION", 1),

		PatternsGlobal: getEnvBool("PATTERNS_GLOBAL", false),

		CORS: CORSConfig{
			Enabled:          getEnvBool("CORS_ENABLED", true),
			Origins:          splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
			AllowCredentials: getEnvBool("CORS_CREDENTIALS", true),
		},

		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:  getEnv("OTLP_ENDPOINT", "localhost:4317"),

		ConfigFile: getEnv("CONFIG_FILE", ""),
	}

	allowlist, err := loadTopicAllowlist()
	if err != nil {
		return nil, err
	}
	cfg.Webhook.TopicAllowlist = allowlist

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present.
func (c *Config) Validate() error {
	switch c.RLSMode {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("RLS_MODE must be auto, on, or off, got %q", c.RLSMode)
	}

	if c.JWT.Enabled {
		switch c.JWT.Algorithm {
		case "HS256":
			if c.JWT.SecretKey == "" {
				return fmt.Errorf("JWT_SECRET_KEY is required when JWT_ALGORITHM=HS256")
			}
		case "RS256":
			if c.JWT.PublicKeyPEM == "" {
				return fmt.Errorf("JWT_PUBLIC_KEY is required when JWT_ALGORITHM=RS256")
			}
		default:
			return fmt.Errorf("unsupported JWT_ALGORITHM %q", c.JWT.Algorithm)
		}
	}

	if c.IsProduction() && !c.JWT.Enabled {
		return fmt.Errorf("JWT_ENABLED=false is not allowed in production")
	}

	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)",
			c.Chunking.Overlap, c.Chunking.Size)
	}

	if len(c.KEKs) > 0 {
		if _, ok := c.KEKs[c.ActiveKEKVersion]; !ok {
			return fmt.Errorf("CONNECTOR_KEK_ACTIVE_VERSION=%d has no matching CONNECTOR_KEK_V%d",
				c.ActiveKEKVersion, c.ActiveKEKVersion)
		}
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive")
	}

	if c.IngestWorkers < 0 {
		return fmt.Errorf("INGEST_WORKERS must not be negative")
	}

	return nil
}

// IsDevelopment checks if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// rateLimitNames maps env suffixes to endpoint keys.
var rateLimitNames = map[string]string{
	"SEARCH":        "search",
	"ASK":           "ask",
	"ASK_STREAM":    "ask_stream",
	"ADMIN_REFRESH": "admin_refresh",
	"WEBHOOK_S3":    "webhook_s3",
	"WEBHOOK_GCS":   "webhook_gcs",
	"DEFAULT":       "default",
}

// loadRateLimits starts from the shipped policies and applies
// RATE_LIMIT_<NAME>_RATE / _BURST overrides.
func loadRateLimits() map[string]auth.EndpointLimit {
	limits := auth.DefaultLimits()
	for suffix, endpoint := range rateLimitNames {
		limit := limits[endpoint]
		limit.Rate = getEnvInt("RATE_LIMIT_"+suffix+"_RATE", limit.Rate)
		limit.Burst = getEnvInt("RATE_LIMIT_"+suffix+"_BURST", limit.Burst)
		limits[endpoint] = limit
	}
	return limits
}

// loadConcurrency applies CONCURRENCY_<NAME> overrides to the shipped
// in-flight caps.
func loadConcurrency() map[string]int {
	caps := auth.DefaultConcurrency()
	for suffix, endpoint := range rateLimitNames {
		if v := getEnvInt("CONCURRENCY_"+suffix, -1); v >= 0 {
			caps[endpoint] = v
		}
	}
	return caps
}

// loadKEKs collects CONNECTOR_KEK_V1..V9; the legacy CONNECTOR_KEK is
// treated as V1 when no versioned key is set.
func loadKEKs() map[int]string {
	keks := make(map[int]string)
	for v := 1; v <= 9; v++ {
		if key := os.Getenv(fmt.Sprintf("CONNECTOR_KEK_V%d", v)); key != "" {
			keks[v] = key
		}
	}
	if legacy := os.Getenv("CONNECTOR_KEK"); legacy != "" {
		if _, ok := keks[1]; !ok {
			keks[1] = legacy
		}
	}
	return keks
}

// loadTopicAllowlist parses WEBHOOK_TOPIC_ALLOWLIST, a JSON map of
// tenant id to TopicArn patterns. Empty means all topics are accepted.
func loadTopicAllowlist() (map[string][]string, error) {
	raw := os.Getenv("WEBHOOK_TOPIC_ALLOWLIST")
	if raw == "" {
		return nil, nil
	}
	var allowlist map[string][]string
	if err := json.Unmarshal([]byte(raw), &allowlist); err != nil {
		return nil, fmt.Errorf("WEBHOOK_TOPIC_ALLOWLIST is not a JSON map of tenant to patterns: %w", err)
	}
	return allowlist, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	value = strings.ToLower(value)
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
