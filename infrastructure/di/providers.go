// Package di wires the dependency graph both binaries boot from. The
// providers run the ordered startup effects as they build: migrations
// before the store, RLS detection before tenant-scoped queries, the
// KEK ring before anything that touches connector secrets.
package di

import (
	"context"
	"time"

	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/connectors"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/embedding"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/llm"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/postgres"
	redisinfra "github.com/ArpitMishra17/active-graph-kg/infrastructure/redis"
	"github.com/ArpitMishra17/active-graph-kg/interfaces/http/rest/handlers"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// SuperSet is the provider set both injectors build from.
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideCollector,
	ProvideTracerProvider,
	ProvideSettingsCipher,
	ProvidePool,
	ProvideMigrations,
	ProvideStore,
	ProvideNodeRepository,
	ProvideEdgeRepository,
	ProvideEventRepository,
	ProvideSearchRepository,
	ProvidePatternRepository,
	ProvideConnectorStore,
	ProvideConnectorConfigRepository,
	ProvideConnectorCursorRepository,
	ProvideReportingRepository,
	ProvideRedis,
	ProvideIngestQueue,
	ProvideWebhookDeduper,
	ProvideConfigChangePublisher,
	ProvideIngestThrottle,
	ProvideCatalog,
	ProvideConnectorCatalog,
	ProvideSubscriber,
	ProvideSourceResolver,
	ProvideSNSVerifier,
	ProvidePayloadRefLoader,
	ProvideTuningWatcher,
	ProvideTuningSource,
	ProvideRetrievalOptions,
	ProvideChunkOptions,
	ProvideSchedulerOptions,
	ProvideEncoder,
	ProvideChatStreamer,
	ProvideReranker,
	ProvideNodeService,
	ProvideEdgeService,
	ProvideRetrievalService,
	ProvideAskService,
	ProvidePatternService,
	ProvideTriggerEngine,
	ProvideRefreshService,
	ProvideChunker,
	ProvideIngestService,
	ProvideReportingService,
	ProvideConnectorAdminService,
	ProvideRotationService,
	ProvidePurgeService,
	ProvideScheduler,
	ProvideWorkers,
	ProvideMigrateFunc,
	wire.Struct(new(Container), "*"),
)

// ProvideLogger creates the process logger.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Environment, cfg.LogLevel)
}

// ProvideCollector creates the metrics collector.
func ProvideCollector() *observability.Collector {
	return observability.NewCollector()
}

// ProvideTracerProvider installs the OTLP tracer when tracing is
// enabled. Disabled tracing yields a nil provider.
func ProvideTracerProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, error) {
	if !cfg.EnableTracing {
		return nil, nil
	}
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "activekg",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return tp, nil
}

// ProvideSettingsCipher parses the KEK ring. An unusable ring fails the
// boot here instead of on the first connector write.
func ProvideSettingsCipher(cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) (ports.SettingsCipher, error) {
	return connectors.NewFernetCipher(cfg.KEKs, cfg.ActiveKEKVersion, metrics, logger)
}

// ProvidePool opens the pgx connection pool.
func ProvidePool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	return postgres.NewPool(ctx, cfg.DatabaseURL, logger)
}

// ProvideMigrations applies pending schema migrations. Every boot runs
// them; the admin migrate endpoint reruns them on demand.
func ProvideMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*postgres.MigrationResult, error) {
	return postgres.Migrate(ctx, pool, logger)
}

// ProvideStore resolves the RLS mode against the live schema, opens the
// tenant-scoped store, and ensures the ANN index. The migration result
// parameter orders this after the schema is current.
func ProvideStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, _ *postgres.MigrationResult, metrics *observability.Collector, logger *zap.Logger) (*postgres.Store, error) {
	rlsEnabled, err := postgres.SetupRLS(ctx, pool, cfg.RLSMode, logger)
	if err != nil {
		return nil, err
	}
	store := postgres.NewStore(pool, rlsEnabled, cfg.Embedding.Dimension, logger, metrics)
	if err := store.EnsureVectorIndex(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvideNodeRepository creates the node repository.
func ProvideNodeRepository(store *postgres.Store) ports.NodeRepository {
	return postgres.NewNodeStore(store)
}

// ProvideEdgeRepository creates the edge repository.
func ProvideEdgeRepository(store *postgres.Store) ports.EdgeRepository {
	return postgres.NewEdgeStore(store)
}

// ProvideEventRepository creates the event repository.
func ProvideEventRepository(store *postgres.Store) ports.EventRepository {
	return postgres.NewEventStore(store)
}

// ProvideSearchRepository creates the search repository.
func ProvideSearchRepository(store *postgres.Store) ports.SearchRepository {
	return postgres.NewSearchStore(store)
}

// ProvidePatternRepository creates the trigger pattern repository.
func ProvidePatternRepository(store *postgres.Store) ports.PatternRepository {
	return postgres.NewPatternStore(store)
}

// ProvideConnectorStore creates the connector store, which backs both
// the config and the cursor repository.
func ProvideConnectorStore(store *postgres.Store) *postgres.ConnectorStore {
	return postgres.NewConnectorStore(store)
}

// ProvideConnectorConfigRepository exposes the connector store as the
// config repository.
func ProvideConnectorConfigRepository(cs *postgres.ConnectorStore) ports.ConnectorConfigRepository {
	return cs
}

// ProvideConnectorCursorRepository exposes the connector store as the
// cursor repository.
func ProvideConnectorCursorRepository(cs *postgres.ConnectorStore) ports.ConnectorCursorRepository {
	return cs
}

// ProvideReportingRepository creates the reporting reads.
func ProvideReportingRepository(pool *pgxpool.Pool, logger *zap.Logger) ports.ReportingRepository {
	return postgres.NewReporting(pool, logger)
}

// ProvideRedis opens the Redis client shared by the queue, the rate
// limiter, pub/sub, and the ingest throttle.
func ProvideRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	return redisinfra.NewClient(ctx, cfg.RedisURL, logger)
}

// ProvideIngestQueue creates the per-connector ingestion queue.
func ProvideIngestQueue(rdb redis.UniversalClient, logger *zap.Logger, metrics *observability.Collector) ports.IngestQueue {
	return redisinfra.NewQueue(rdb, logger, metrics)
}

// ProvideWebhookDeduper creates the webhook replay filter.
func ProvideWebhookDeduper(rdb redis.UniversalClient) ports.WebhookDeduper {
	return redisinfra.NewDeduper(rdb)
}

// ProvideConfigChangePublisher creates the config-change publisher.
func ProvideConfigChangePublisher(rdb redis.UniversalClient, logger *zap.Logger) ports.ConfigChangePublisher {
	return redisinfra.NewPublisher(rdb, logger)
}

// ProvideIngestThrottle creates the per-tenant ingestion quota check.
func ProvideIngestThrottle(rdb redis.UniversalClient, logger *zap.Logger) ports.IngestThrottle {
	return redisinfra.NewThrottle(rdb, connector.DefaultQuota(), logger)
}

// ProvideCatalog creates the decrypted connector config cache.
func ProvideCatalog(repo ports.ConnectorConfigRepository, cipher ports.SettingsCipher, metrics *observability.Collector, logger *zap.Logger) *connectors.Catalog {
	return connectors.NewCatalog(repo, cipher, 0, metrics, logger)
}

// ProvideConnectorCatalog exposes the catalog to the ingestion path.
func ProvideConnectorCatalog(catalog *connectors.Catalog) ports.ConnectorCatalog {
	return catalog
}

// ProvideSubscriber binds config-change notices to catalog eviction.
func ProvideSubscriber(rdb redis.UniversalClient, catalog *connectors.Catalog, logger *zap.Logger, metrics *observability.Collector) *redisinfra.Subscriber {
	return redisinfra.NewSubscriber(rdb, catalog.HandleConfigChange, logger, metrics)
}

// ProvideSourceResolver creates the provider client registry.
func ProvideSourceResolver(logger *zap.Logger) ports.SourceResolver {
	return connectors.NewRegistry(logger)
}

// ProvideSNSVerifier creates the SNS signature verifier.
func ProvideSNSVerifier(cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) *connectors.SNSVerifier {
	return connectors.NewSNSVerifier(cfg.Webhook, metrics, logger)
}

// ProvidePayloadRefLoader creates the payload_ref loader.
func ProvidePayloadRefLoader(cfg *config.Config, catalog ports.ConnectorCatalog, resolver ports.SourceResolver, logger *zap.Logger) *connectors.PayloadRefLoader {
	return connectors.NewPayloadRefLoader(cfg.Files, catalog, resolver, logger)
}

// ProvideTuningWatcher creates the CONFIG_FILE hot-reload watcher, nil
// when no file is configured.
func ProvideTuningWatcher(cfg *config.Config, logger *zap.Logger) (*config.Watcher, error) {
	if cfg.ConfigFile == "" {
		return nil, nil
	}
	return config.NewWatcher(cfg.ConfigFile, config.TuningFromConfig(cfg), logger)
}

// ProvideTuningSource picks the watcher when one exists and a static
// snapshot of the environment config otherwise.
func ProvideTuningSource(watcher *config.Watcher, cfg *config.Config) config.TuningSource {
	if watcher != nil {
		return watcher
	}
	return config.NewStaticTuning(config.TuningFromConfig(cfg))
}

// ProvideRetrievalOptions derives the per-request retrieval knobs from
// the live tuning values.
func ProvideRetrievalOptions(src config.TuningSource) func() services.RetrievalOptions {
	return func() services.RetrievalOptions {
		t := src.Current().Retrieval
		return services.RetrievalOptions{
			HybridRRFEnabled:         t.HybridRRFEnabled,
			RerankerEnabled:          t.RerankerEnabled,
			RerankTopN:               t.RerankTopN,
			DecayLambda:              t.DecayLambda,
			DriftBeta:                t.DriftBeta,
			ExtremelyLowSimThreshold: t.ExtremelyLowSimThreshold,
		}
	}
}

// ProvideChunkOptions derives the per-document chunking knobs from the
// live tuning values.
func ProvideChunkOptions(src config.TuningSource) func() services.ChunkOptions {
	return func() services.ChunkOptions {
		t := src.Current().Chunking
		return services.ChunkOptions{Size: t.Size, Overlap: t.Overlap}
	}
}

// ProvideSchedulerOptions derives the per-cycle scheduler knobs from
// the live tuning values.
func ProvideSchedulerOptions(src config.TuningSource) func() services.SchedulerOptions {
	return func() services.SchedulerOptions {
		t := src.Current().Scheduler
		return services.SchedulerOptions{
			Tick:      time.Duration(t.TickSeconds) * time.Second,
			BatchSize: t.BatchSize,
		}
	}
}

// ProvideEncoder creates the embedding backend.
func ProvideEncoder(cfg *config.Config, logger *zap.Logger) (ports.Encoder, error) {
	return embedding.NewEncoder(cfg.Embedding, logger)
}

// ProvideChatStreamer creates the answer-generation backend.
func ProvideChatStreamer(cfg *config.Config, logger *zap.Logger) (ports.ChatStreamer, error) {
	return llm.NewStreamer(cfg.LLM, logger)
}

// ProvideReranker reports that no reranking backend ships yet.
// Retrieval keeps the base ranking when RERANKER_ENABLED is set
// without one.
func ProvideReranker() ports.Reranker {
	return nil
}

// ProvideNodeService creates the node CRUD service.
func ProvideNodeService(nodes ports.NodeRepository, events ports.EventRepository, encoder ports.Encoder, cfg *config.Config, logger *zap.Logger) *services.NodeService {
	return services.NewNodeService(nodes, events, encoder, cfg.Chunking.DeletionGracePeriod, logger)
}

// ProvideEdgeService creates the edge service.
func ProvideEdgeService(edges ports.EdgeRepository) *services.EdgeService {
	return services.NewEdgeService(edges)
}

// ProvideRetrievalService creates the search engine.
func ProvideRetrievalService(search ports.SearchRepository, encoder ports.Encoder, reranker ports.Reranker, opts func() services.RetrievalOptions, metrics *observability.Collector, logger *zap.Logger) *services.RetrievalService {
	return services.NewRetrievalService(search, encoder, reranker, opts, metrics, logger)
}

// ProvideAskService creates the cited QA service.
func ProvideAskService(retrieval *services.RetrievalService, streamer ports.ChatStreamer, cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) *services.AskService {
	return services.NewAskService(retrieval, streamer, cfg.Chunking.ExtractionMaxInput, metrics, logger)
}

// ProvidePatternService creates the trigger pattern service.
func ProvidePatternService(patterns ports.PatternRepository, encoder ports.Encoder, cfg *config.Config, logger *zap.Logger) *services.PatternService {
	return services.NewPatternService(patterns, encoder, cfg.PatternsGlobal, logger)
}

// ProvideTriggerEngine creates the similarity trigger engine.
func ProvideTriggerEngine(nodes ports.NodeRepository, patterns ports.PatternRepository, events ports.EventRepository, metrics *observability.Collector, logger *zap.Logger) *services.TriggerEngine {
	return services.NewTriggerEngine(nodes, patterns, events, metrics, logger)
}

// ProvideRefreshService creates the node refresh pipeline.
func ProvideRefreshService(nodes ports.NodeRepository, events ports.EventRepository, encoder ports.Encoder, loader *connectors.PayloadRefLoader, triggers *services.TriggerEngine, metrics *observability.Collector, logger *zap.Logger) *services.RefreshService {
	return services.NewRefreshService(nodes, events, encoder, loader, triggers, metrics, logger)
}

// ProvideChunker creates the document splitter.
func ProvideChunker(opts func() services.ChunkOptions) *services.Chunker {
	return services.NewChunker(opts)
}

// ProvideIngestService creates the document ingestion pipeline.
func ProvideIngestService(nodes ports.NodeRepository, edges ports.EdgeRepository, catalog ports.ConnectorCatalog, sources ports.SourceResolver, throttle ports.IngestThrottle, encoder ports.Encoder, chunker *services.Chunker, cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) *services.IngestService {
	return services.NewIngestService(nodes, edges, catalog, sources, throttle, encoder, chunker, cfg.Chunking.DeletionGracePeriod, metrics, logger)
}

// ProvideReportingService creates the coverage and anomaly reads.
func ProvideReportingService(reporting ports.ReportingRepository, queue ports.IngestQueue, metrics *observability.Collector, logger *zap.Logger) *services.ReportingService {
	return services.NewReportingService(reporting, queue, metrics, logger)
}

// ProvideConnectorAdminService creates the connector admin surface.
func ProvideConnectorAdminService(configs ports.ConnectorConfigRepository, cursors ports.ConnectorCursorRepository, cipher ports.SettingsCipher, catalog ports.ConnectorCatalog, sources ports.SourceResolver, queue ports.IngestQueue, publisher ports.ConfigChangePublisher, logger *zap.Logger) *services.ConnectorAdminService {
	return services.NewConnectorAdminService(configs, cursors, cipher, catalog, sources, queue, publisher, logger)
}

// ProvideRotationService creates the KEK rotation service.
func ProvideRotationService(configs ports.ConnectorConfigRepository, cipher ports.SettingsCipher, publisher ports.ConfigChangePublisher, metrics *observability.Collector, logger *zap.Logger) *services.RotationService {
	return services.NewRotationService(configs, cipher, publisher, metrics, logger)
}

// ProvidePurgeService creates the tombstone purger.
func ProvidePurgeService(nodes ports.NodeRepository, logger *zap.Logger) *services.PurgeService {
	return services.NewPurgeService(nodes, logger)
}

// ProvideScheduler creates the drift-gated refresh loop. Start is the
// container's call; RUN_SCHEDULER gates it.
func ProvideScheduler(refresh *services.RefreshService, nodes ports.NodeRepository, reporting *services.ReportingService, opts func() services.SchedulerOptions, metrics *observability.Collector, logger *zap.Logger) *services.Scheduler {
	return services.NewScheduler(refresh, nodes, reporting, opts, metrics, logger)
}

// ProvideWorkers builds the in-process ingestion pool. Zero workers is
// valid: the API can serve webhook ingress only and leave consumption
// to the worker binary.
func ProvideWorkers(queue ports.IngestQueue, ingest *services.IngestService, cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) []*services.Worker {
	workers := make([]*services.Worker, 0, cfg.IngestWorkers)
	for i := 0; i < cfg.IngestWorkers; i++ {
		workers = append(workers, services.NewWorker(queue, ingest, metrics, logger))
	}
	return workers
}

// ProvideMigrateFunc exposes on-demand migrations to the admin surface.
func ProvideMigrateFunc(pool *pgxpool.Pool, logger *zap.Logger) handlers.MigrateFunc {
	return func(ctx context.Context) (int64, int64, error) {
		res, err := postgres.Migrate(ctx, pool, logger)
		if err != nil {
			return 0, 0, err
		}
		return res.FromVersion, res.ToVersion, nil
	}
}
