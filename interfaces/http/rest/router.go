// Package rest assembles the HTTP surface: router, middleware chain,
// and endpoint wiring.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/connectors"
	redisinfra "github.com/ArpitMishra17/active-graph-kg/infrastructure/redis"
	"github.com/ArpitMishra17/active-graph-kg/interfaces/http/rest/handlers"
	"github.com/ArpitMishra17/active-graph-kg/interfaces/http/rest/middleware"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// webhookBodyLimit caps webhook ingress bodies at 1 MiB.
const webhookBodyLimit = 1 << 20

// Deps carries everything the HTTP surface is built from.
type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Collector
	Redis   redis.UniversalClient

	Nodes      *services.NodeService
	Edges      *services.EdgeService
	Retrieval  *services.RetrievalService
	Ask        *services.AskService
	Patterns   *services.PatternService
	Triggers   *services.TriggerEngine
	Refresh    *services.RefreshService
	Reporting  *services.ReportingService
	Connectors *services.ConnectorAdminService
	Rotation   *services.RotationService
	Purge      *services.PurgeService

	Migrate    handlers.MigrateFunc
	Queue      ports.IngestQueue
	Deduper    ports.WebhookDeduper
	SNS        *connectors.SNSVerifier
	Payloads   *connectors.PayloadRefLoader
	Subscriber *redisinfra.Subscriber
}

// Router configures the HTTP routes and cross-cutting middleware.
type Router struct {
	deps    Deps
	authn   *middleware.Authenticator
	limiter *middleware.Limiter
}

func NewRouter(deps Deps) (*Router, error) {
	authn, err := middleware.NewAuthenticator(deps.Config.JWT, deps.Logger)
	if err != nil {
		return nil, err
	}
	limiter := middleware.NewLimiter(deps.Config.RateLimit, deps.Redis, deps.Metrics, deps.Logger)
	return &Router{deps: deps, authn: authn, limiter: limiter}, nil
}

// Setup builds the handler tree.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Metrics(rt.deps.Metrics))
	router.Use(middleware.Logger(rt.deps.Logger))
	router.Use(chimiddleware.Recoverer)

	if rt.deps.Config.CORS.Enabled {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.deps.Config.CORS.Origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Webhook-Secret"},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: rt.deps.Config.CORS.AllowCredentials,
			MaxAge:           300,
		}))
	}

	requireScope := func(scope string) func(http.Handler) http.Handler {
		return middleware.RequireScope(scope, rt.deps.Metrics)
	}
	limit := rt.limiter.Limit

	system := handlers.NewMetricsHandler(rt.deps.Metrics, rt.deps.Logger)
	router.Group(func(r chi.Router) {
		r.Use(limit("default"))
		r.Get("/health", system.Health)
		r.Get("/metrics", system.Snapshot)
		r.Get("/prometheus", system.Prometheus)
	})

	webhooks := handlers.NewWebhookHandler(rt.deps.Queue, rt.deps.Deduper, rt.deps.SNS,
		rt.deps.Config.Webhook, rt.deps.Metrics, rt.deps.Logger)
	router.Route("/_webhooks", func(r chi.Router) {
		r.Use(middleware.MaxBytes(webhookBodyLimit))
		r.With(limit("webhook_s3")).Post("/s3", webhooks.S3)
		r.With(limit("webhook_gcs")).Post("/gcs", webhooks.GCS)
	})

	router.Group(func(r chi.Router) {
		r.Use(rt.authn.Middleware)

		nodes := handlers.NewNodeHandler(rt.deps.Nodes, rt.deps.Logger)
		r.With(requireScope(auth.ScopeNodesWrite), limit("default")).Post("/nodes", nodes.Create)
		r.With(requireScope(auth.ScopeNodesRead), limit("default")).Get("/nodes", nodes.List)
		r.With(requireScope(auth.ScopeNodesRead), limit("default")).Get("/nodes/{id}", nodes.Get)
		r.With(requireScope(auth.ScopeNodesWrite), limit("default")).Put("/nodes/{id}", nodes.Update)
		r.With(requireScope(auth.ScopeNodesWrite), limit("default")).Delete("/nodes/{id}", nodes.Delete)
		r.With(requireScope(auth.ScopeNodesRead), limit("default")).Get("/nodes/{id}/versions", nodes.Versions)
		r.With(requireScope(auth.ScopeNodesRead), limit("default")).Get("/events", nodes.Events)

		edges := handlers.NewEdgeHandler(rt.deps.Edges, rt.deps.Logger)
		r.With(requireScope(auth.ScopeNodesWrite), limit("default")).Post("/edges", edges.Create)
		r.With(requireScope(auth.ScopeNodesRead), limit("default")).Get("/lineage/{id}", edges.Lineage)

		search := handlers.NewSearchHandler(rt.deps.Retrieval, rt.deps.Logger)
		r.With(requireScope(auth.ScopeSearchRead), limit("search")).Post("/search", search.Search)

		ask := handlers.NewAskHandler(rt.deps.Ask, rt.deps.Logger)
		r.With(requireScope(auth.ScopeAskRead), limit("ask")).Post("/ask", ask.Ask)
		r.With(requireScope(auth.ScopeAskRead), limit("ask_stream")).Post("/ask/stream", ask.Stream)

		triggers := handlers.NewTriggerHandler(rt.deps.Patterns, rt.deps.Logger)
		r.With(requireScope(auth.ScopeNodesRead), limit("default")).Get("/triggers", triggers.List)
		r.With(requireScope(auth.ScopeNodesRead), limit("default")).Get("/triggers/{name}", triggers.Get)
		r.With(requireScope(auth.ScopeTriggersWrite), limit("default")).Post("/triggers", triggers.Upsert)
		r.With(requireScope(auth.ScopeTriggersWrite), limit("default")).Delete("/triggers/{name}", triggers.Delete)

		admin := handlers.NewAdminHandler(rt.deps.Refresh, rt.deps.Reporting, rt.deps.Triggers,
			rt.deps.Migrate, rt.accessLimits(), rt.securitySettings(), rt.deps.Logger)
		r.With(requireScope(auth.ScopeAdminMigrate), limit("default")).Post("/admin/migrate", admin.Migrate)
		r.With(requireScope(auth.ScopeAdminRefresh), limit("admin_refresh")).Post("/admin/refresh", admin.Refresh)
		r.With(requireScope(auth.ScopeAdminRefresh), limit("default")).Post("/admin/triggers/run", admin.TriggerScan)
		r.With(requireScope(auth.ScopeAdminRefresh), limit("default")).Post("/admin/anomalies", admin.Anomalies)
		r.With(requireScope(auth.ScopeAdminConnectors), limit("default")).Get("/_admin/security/limits", admin.SecurityLimits)

		conns := handlers.NewConnectorHandler(rt.deps.Connectors, rt.deps.Rotation, rt.deps.Purge,
			rt.deps.Subscriber, rt.deps.Logger)
		r.Route("/_admin/connectors", func(r chi.Router) {
			r.Use(requireScope(auth.ScopeAdminConnectors))
			r.Use(limit("default"))
			r.Get("/", conns.List)
			r.Post("/rotate_keys", conns.RotateKeys)
			r.Post("/purge_deleted", conns.PurgeDeleted)
			r.Get("/cache/health", conns.CacheHealth)
			r.Post("/{provider}/register", conns.Register)
			r.Post("/{provider}/enable", conns.Enable)
			r.Post("/{provider}/disable", conns.Disable)
			r.Post("/{provider}/backfill", conns.Backfill)
			r.Delete("/{provider}", conns.Delete)
		})
	})

	return router
}

func (rt *Router) securitySettings() handlers.SecuritySettings {
	return handlers.SecuritySettings{
		RateLimits:      rt.deps.Config.RateLimit.Limits,
		Concurrency:     rt.deps.Config.RateLimit.Concurrency,
		SNSVerification: rt.deps.Config.Webhook.VerifySNS,
	}
}

func (rt *Router) accessLimits() *connectors.AccessLimits {
	if rt.deps.Payloads == nil {
		return nil
	}
	l := rt.deps.Payloads.Limits()
	return &l
}
