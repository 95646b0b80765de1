package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "activekg"

var (
	latencyBuckets    = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	firstChunkBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	scoreBuckets      = []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9}
	citationBuckets   = []float64{0, 1, 2, 3, 5, 8, 13}
	interRunBuckets   = []float64{1, 5, 15, 60, 300, 900, 3600, 21600, 86400}
	cycleSizeBuckets  = []float64{1, 5, 10, 25, 50, 100, 250, 500}
	indexBuckets      = []float64{0.1, 0.5, 1, 5, 15, 60, 300}
	rotationBuckets   = []float64{0.05, 0.1, 0.5, 1, 5, 15, 60}
)

// Collector holds every Prometheus metric the service emits. All metrics
// live on a private registry so tests can build throwaway collectors
// without duplicate-registration panics.
type Collector struct {
	registry *prometheus.Registry

	// API surface
	APIRequests    *prometheus.CounterVec
	APIErrors      *prometheus.CounterVec
	APIRateLimited *prometheus.CounterVec

	// Retrieval and QA
	AskRequests          *prometheus.CounterVec
	SearchRequests       *prometheus.CounterVec
	GatingScore          *prometheus.HistogramVec
	CitedNodes           *prometheus.HistogramVec
	ZeroCitations        *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
	AskLatency           *prometheus.HistogramVec
	SearchLatency        *prometheus.HistogramVec
	AskFirstChunkLatency prometheus.Histogram
	RetrievalUpliftMRR   *prometheus.GaugeVec

	// Freshness
	EmbeddingCoverage     *prometheus.GaugeVec
	EmbeddingMaxStaleness *prometheus.GaugeVec
	LastRefreshTimestamp  *prometheus.GaugeVec

	// Triggers and scheduling
	TriggersFired      *prometheus.CounterVec
	TriggerRunLatency  *prometheus.HistogramVec
	ScheduleRuns       *prometheus.CounterVec
	ScheduleInterRun   *prometheus.HistogramVec
	NodeRefreshLatency *prometheus.HistogramVec
	NodesRefreshed     *prometheus.CounterVec
	RefreshCycleNodes  prometheus.Histogram
	VectorIndexBuild   *prometheus.HistogramVec

	// Security
	AccessViolations *prometheus.CounterVec

	// Ingestion
	IngestMessages           *prometheus.CounterVec
	IngestSkippedUnchanged   *prometheus.CounterVec
	DLQDepth                 *prometheus.GaugeVec
	WebhookSNSVerify         *prometheus.CounterVec
	WebhookReplay            prometheus.Counter
	WebhookTopicRejected     *prometheus.CounterVec
	WebhookSigVersionInvalid *prometheus.CounterVec

	// Connector configuration
	ConnectorConfigCache      *prometheus.CounterVec
	ConnectorDecryptFailures  *prometheus.CounterVec
	ConnectorRotation         *prometheus.CounterVec
	ConnectorRotationBatch    prometheus.Histogram
	ConnectorConfigInvalidate prometheus.Counter
	ConnectorPubSubMessages   prometheus.Counter
	ConnectorPubSubInvalid    *prometheus.CounterVec
	ConnectorPubSubReconnect  prometheus.Counter
	ConnectorPubSubShutdown   prometheus.Counter
}

// NewCollector creates the metric set on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "API requests by route template, method and status code",
	}, []string{"endpoint", "method", "status"})

	c.APIErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_errors_total",
		Help:      "API error responses by route template, status and error type",
	}, []string{"endpoint", "status", "error_type"})

	c.APIRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_rate_limited_total",
		Help:      "Requests rejected or waved through by the rate limiter",
	}, []string{"endpoint", "reason"})

	c.AskRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ask_requests_total",
		Help:      "QA requests by fusion score type and rejection outcome",
	}, []string{"score_type", "rejected"})

	c.SearchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_requests_total",
		Help:      "Search requests by mode and fusion score type",
	}, []string{"mode", "score_type"})

	c.GatingScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gating_score",
		Help:      "Top retrieval score observed by the answer gate",
		Buckets:   scoreBuckets,
	}, []string{"score_type"})

	c.CitedNodes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cited_nodes",
		Help:      "Number of nodes cited per answered question",
		Buckets:   citationBuckets,
	}, []string{"score_type"})

	c.ZeroCitations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "zero_citations_total",
		Help:      "Answers produced without any citation",
	}, []string{"score_type", "reason"})

	c.Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejections_total",
		Help:      "Questions rejected before answer generation",
	}, []string{"reason", "score_type"})

	c.AskLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ask_latency_seconds",
		Help:      "End-to-end QA latency",
		Buckets:   latencyBuckets,
	}, []string{"score_type", "reranked"})

	c.SearchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_latency_seconds",
		Help:      "End-to-end search latency",
		Buckets:   latencyBuckets,
	}, []string{"mode", "score_type", "reranked"})

	c.AskFirstChunkLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ask_first_chunk_latency_seconds",
		Help:      "Time until the first streamed answer token",
		Buckets:   firstChunkBuckets,
	})

	c.RetrievalUpliftMRR = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retrieval_uplift_mrr_percent",
		Help:      "MRR uplift of fused retrieval over vector-only, in percent",
	}, []string{"mode"})

	c.EmbeddingCoverage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "embedding_coverage_ratio",
		Help:      "Fraction of active nodes holding an embedding",
	}, []string{"tenant_id"})

	c.EmbeddingMaxStaleness = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "embedding_max_staleness_seconds",
		Help:      "Age of the oldest embedding among active nodes",
	}, []string{"tenant_id"})

	c.LastRefreshTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_refresh_timestamp",
		Help:      "Unix time of the latest completed refresh per class",
	}, []string{"class_name", "tenant_id"})

	c.TriggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_fired_total",
		Help:      "Trigger executions by pattern and run mode",
	}, []string{"pattern", "mode"})

	c.TriggerRunLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trigger_run_latency_seconds",
		Help:      "Latency of a trigger evaluation pass",
		Buckets:   latencyBuckets,
	}, []string{"mode"})

	c.ScheduleRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_runs_total",
		Help:      "Scheduler job executions by job and schedule kind",
	}, []string{"job_id", "kind"})

	c.ScheduleInterRun = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "schedule_inter_run_seconds",
		Help:      "Observed gap between consecutive runs of a job",
		Buckets:   interRunBuckets,
	}, []string{"job_id"})

	c.NodeRefreshLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "node_refresh_latency_seconds",
		Help:      "Latency of a single node refresh",
		Buckets:   latencyBuckets,
	}, []string{"result"})

	c.NodesRefreshed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nodes_refreshed_total",
		Help:      "Nodes refreshed by outcome",
	}, []string{"result"})

	c.RefreshCycleNodes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_cycle_nodes",
		Help:      "Nodes selected per refresh cycle",
		Buckets:   cycleSizeBuckets,
	})

	c.VectorIndexBuild = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "vector_index_build_seconds",
		Help:      "Duration of vector index builds",
		Buckets:   indexBuckets,
	}, []string{"type", "metric", "result"})

	c.AccessViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_violations_total",
		Help:      "Blocked cross-tenant or out-of-scope access attempts",
	}, []string{"type"})

	c.IngestMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_messages_total",
		Help:      "Queue messages processed by provider and outcome",
	}, []string{"provider", "result"})

	c.IngestSkippedUnchanged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_skipped_unchanged_total",
		Help:      "Messages skipped because content hash was unchanged",
	}, []string{"provider"})

	c.DLQDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dlq_depth",
		Help:      "Dead-letter queue depth",
	}, []string{"provider", "tenant_id"})

	c.WebhookSNSVerify = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_sns_verify_total",
		Help:      "SNS signature verification outcomes",
	}, []string{"result"})

	c.WebhookReplay = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_replay_total",
		Help:      "Webhook deliveries dropped as duplicates",
	})

	c.WebhookTopicRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_topic_rejected_total",
		Help:      "Webhook deliveries rejected by the topic allowlist",
	}, []string{"tenant"})

	c.WebhookSigVersionInvalid = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_sig_version_invalid_total",
		Help:      "Webhook deliveries carrying an unsupported signature version",
	}, []string{"version"})

	c.ConnectorConfigCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_config_cache_total",
		Help:      "Connector config cache lookups by outcome",
	}, []string{"result"})

	c.ConnectorDecryptFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_decrypt_failures_total",
		Help:      "Connector secret fields that failed every decryption key",
	}, []string{"field"})

	c.ConnectorRotation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_rotation_total",
		Help:      "Connector configs processed during key rotation",
	}, []string{"result"})

	c.ConnectorRotationBatch = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "connector_rotation_batch_seconds",
		Help:      "Duration of a key rotation batch",
		Buckets:   rotationBuckets,
	})

	c.ConnectorConfigInvalidate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_config_invalidate_total",
		Help:      "Connector config cache invalidations applied",
	})

	c.ConnectorPubSubMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_pubsub_messages_total",
		Help:      "Messages received on the config invalidation channel",
	})

	c.ConnectorPubSubInvalid = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_pubsub_invalid_total",
		Help:      "Invalidation messages discarded as malformed",
	}, []string{"reason"})

	c.ConnectorPubSubReconnect = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_pubsub_reconnect_total",
		Help:      "Reconnects of the config invalidation subscriber",
	})

	c.ConnectorPubSubShutdown = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connector_pubsub_shutdown_total",
		Help:      "Clean shutdowns of the config invalidation subscriber",
	})

	c.registry.MustRegister(
		c.APIRequests, c.APIErrors, c.APIRateLimited,
		c.AskRequests, c.SearchRequests, c.GatingScore, c.CitedNodes,
		c.ZeroCitations, c.Rejections, c.AskLatency, c.SearchLatency,
		c.AskFirstChunkLatency, c.RetrievalUpliftMRR,
		c.EmbeddingCoverage, c.EmbeddingMaxStaleness, c.LastRefreshTimestamp,
		c.TriggersFired, c.TriggerRunLatency, c.ScheduleRuns, c.ScheduleInterRun,
		c.NodeRefreshLatency, c.NodesRefreshed, c.RefreshCycleNodes,
		c.VectorIndexBuild, c.AccessViolations,
		c.IngestMessages, c.IngestSkippedUnchanged, c.DLQDepth,
		c.WebhookSNSVerify, c.WebhookReplay, c.WebhookTopicRejected,
		c.WebhookSigVersionInvalid,
		c.ConnectorConfigCache, c.ConnectorDecryptFailures, c.ConnectorRotation,
		c.ConnectorRotationBatch, c.ConnectorConfigInvalidate,
		c.ConnectorPubSubMessages, c.ConnectorPubSubInvalid,
		c.ConnectorPubSubReconnect, c.ConnectorPubSubShutdown,
	)

	return c
}

// Registry exposes the underlying registry for the exposition handlers.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
