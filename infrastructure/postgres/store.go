package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/pkg/auth"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

const (
	storeMaxAttempts = 4
	retryInitialWait = 50 * time.Millisecond
	retryMaxWait     = 2 * time.Second
)

// Store is the PostgreSQL implementation of the repository ports. One
// instance backs all of them.
type Store struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	metrics *observability.Collector
	rls     bool
	dim     int
}

// NewStore wires a Store over an open pool. dim is the process-wide
// embedding dimension; writes with any other dimension are rejected.
func NewStore(pool *pgxpool.Pool, rlsEnabled bool, dim int, logger *zap.Logger, metrics *observability.Collector) *Store {
	return &Store{
		pool:    pool,
		rls:     rlsEnabled,
		dim:     dim,
		logger:  logger,
		metrics: metrics,
	}
}

// RLSEnabled reports whether tenant isolation policies are enforced.
func (s *Store) RLSEnabled() bool { return s.rls }

// Pool exposes the underlying pool for health checks and migrations.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// The per-entity repositories share the Store's pool plumbing. The
// split keeps the method sets apart and matches how services consume
// them through their ports.
type (
	NodeStore      struct{ *Store }
	EdgeStore      struct{ *Store }
	EventStore     struct{ *Store }
	SearchStore    struct{ *Store }
	PatternStore   struct{ *Store }
	ConnectorStore struct{ *Store }
)

// NewNodeStore returns the node repository backed by s.
func NewNodeStore(s *Store) *NodeStore { return &NodeStore{s} }

// NewEdgeStore returns the edge repository backed by s.
func NewEdgeStore(s *Store) *EdgeStore { return &EdgeStore{s} }

// NewEventStore returns the event repository backed by s.
func NewEventStore(s *Store) *EventStore { return &EventStore{s} }

// NewSearchStore returns the search repository backed by s.
func NewSearchStore(s *Store) *SearchStore { return &SearchStore{s} }

// NewPatternStore returns the pattern repository backed by s.
func NewPatternStore(s *Store) *PatternStore { return &PatternStore{s} }

// NewConnectorStore returns the connector config and cursor
// repositories backed by s.
func NewConnectorStore(s *Store) *ConnectorStore { return &ConnectorStore{s} }

var (
	_ ports.NodeRepository            = (*NodeStore)(nil)
	_ ports.EdgeRepository            = (*EdgeStore)(nil)
	_ ports.EventRepository           = (*EventStore)(nil)
	_ ports.SearchRepository          = (*SearchStore)(nil)
	_ ports.PatternRepository         = (*PatternStore)(nil)
	_ ports.ConnectorConfigRepository = (*ConnectorStore)(nil)
	_ ports.ConnectorCursorRepository = (*ConnectorStore)(nil)
)

// withTenant runs fn in a transaction with the tenant bound to the
// session variable the row policies key on. The variable is set even
// when enforcement is off so behavior does not change when policies
// are installed later. Transient failures retry the whole transaction.
func (s *Store) withTenant(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	if tenantID == "" {
		return pkgerrors.NewValidationError("tenant_id cannot be empty")
	}
	return s.retry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx,
			`SELECT set_config('app.current_tenant_id', $1, true)`, tenantID); err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// withMaintenance runs fn without a tenant binding. The service role
// owns the tables, so policies do not filter it; these paths exist for
// the scheduler, the purger, and rotation, never for request handling.
func (s *Store) withMaintenance(ctx context.Context, fn func(pgx.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) retry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if isTransient(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(newRetryBackOff()),
		backoff.WithMaxTries(storeMaxAttempts),
	)
	return err
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialWait
	b.MaxInterval = retryMaxWait
	return b
}

// isTransient reports whether a database failure is worth retrying:
// dropped connections, serialization failures, deadlocks. Application
// errors are always permanent.
func isTransient(err error) bool {
	var app *pkgerrors.AppError
	if errors.As(err, &app) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected,
			pgerrcode.TooManyConnections,
			pgerrcode.CannotConnectNow,
			pgerrcode.AdminShutdown:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}
	return pgconn.SafeToRetry(err)
}

// asStorageError passes application errors through and wraps driver
// errors as storage failures.
func asStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var app *pkgerrors.AppError
	if errors.As(err, &app) {
		return app
	}
	return pkgerrors.NewStorageError(op+" failed", err)
}

// checkDim rejects embeddings that do not match the process dimension.
// Empty embeddings pass: nodes may exist before their first encoding.
func (s *Store) checkDim(embedding []float32) error {
	if len(embedding) > 0 && len(embedding) != s.dim {
		return pkgerrors.NewValidationError("embedding dimension mismatch").
			WithDetails(map[string]any{"want": s.dim, "got": len(embedding)})
	}
	return nil
}

// actorFrom derives the audit actor from the request identity, or the
// system actor on maintenance paths.
func actorFrom(ctx context.Context) (string, string) {
	if rc, ok := auth.FromContext(ctx); ok && rc.ActorID != "" {
		return rc.ActorID, rc.ActorType
	}
	return "system", auth.ActorTypeSystem
}

// Parameter adapters. pgx encodes maps and structs through its JSON
// codec; these keep NOT NULL columns away from nil values and wrap
// vectors in the pgvector type.

func vectorParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func jsonMapParam(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func policyParam(p *graph.RefreshPolicy) (any, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, pkgerrors.NewInternalError("encode refresh policy", err)
	}
	return raw, nil
}

func triggersParam(ts []graph.TriggerSpec) ([]byte, error) {
	if len(ts) == 0 {
		return []byte("[]"), nil
	}
	raw, err := json.Marshal(ts)
	if err != nil {
		return nil, pkgerrors.NewInternalError("encode triggers", err)
	}
	return raw, nil
}
