package postgres

import (
	"context"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// EnsureVectorIndex creates the ANN index on the embedding column if it
// is absent. HNSW is preferred; older pgvector builds fall back to
// IVFFlat. Build latency lands in the index histogram either way.
func (s *Store) EnsureVectorIndex(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_nodes_embedding_hnsw
		ON nodes USING hnsw (embedding vector_cosine_ops)`)
	elapsed := time.Since(start).Seconds()
	if err == nil {
		s.metrics.VectorIndexBuild.WithLabelValues("hnsw", "cosine", "ok").Observe(elapsed)
		s.logger.Info("vector index ready",
			zap.String("type", "hnsw"),
			zap.Float64("build_seconds", elapsed))
		return nil
	}
	s.metrics.VectorIndexBuild.WithLabelValues("hnsw", "cosine", "error").Observe(elapsed)
	s.logger.Warn("hnsw index unavailable, falling back to ivfflat", zap.Error(err))

	start = time.Now()
	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_nodes_embedding_ivfflat
		ON nodes USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`)
	elapsed = time.Since(start).Seconds()
	if err != nil {
		s.metrics.VectorIndexBuild.WithLabelValues("ivfflat", "cosine", "error").Observe(elapsed)
		return pkgerrors.NewStorageError("create vector index", err)
	}
	s.metrics.VectorIndexBuild.WithLabelValues("ivfflat", "cosine", "ok").Observe(elapsed)
	s.logger.Info("vector index ready",
		zap.String("type", "ivfflat"),
		zap.Float64("build_seconds", elapsed))
	return nil
}
