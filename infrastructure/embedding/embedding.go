// Package embedding encodes text into normalized vectors. A pipeline
// wraps the configured backend with truncation, batching, a circuit
// breaker, and L2 normalization so every caller sees the same
// contract regardless of backend.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// Backend names accepted by EMBED_BACKEND.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendHash   = "hash"
)

const (
	defaultBatchSize = 32
	defaultMaxChars  = 12000
)

// backend is one embedding provider. Implementations return raw
// vectors; the pipeline normalizes.
type backend interface {
	embed(ctx context.Context, texts []string) ([][]float32, error)
	model() string
}

// Encoder is the backend-agnostic embedding pipeline.
type Encoder struct {
	backend   backend
	breaker   *gobreaker.CircuitBreaker
	dim       int
	maxChars  int
	batchSize int
	logger    *zap.Logger
}

var _ ports.Encoder = (*Encoder)(nil)

// NewEncoder builds the pipeline for the configured backend.
func NewEncoder(cfg config.EmbeddingConfig, logger *zap.Logger) (*Encoder, error) {
	var (
		b   backend
		err error
	)
	switch cfg.Backend {
	case BackendOllama, "":
		b, err = newOllamaBackend(cfg)
	case BackendOpenAI:
		b, err = newOpenAIBackend(cfg)
	case BackendHash:
		b = newHashBackend(cfg.Model, cfg.Dimension)
	default:
		return nil, pkgerrors.NewConfigError(fmt.Sprintf("unknown embedding backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}

	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger.Info("embedding backend ready",
		zap.String("backend", b.model()),
		zap.Int("dimension", cfg.Dimension),
		zap.Int("batch_size", batchSize))

	return &Encoder{
		backend:   b,
		breaker:   newBreaker("embedding", logger),
		dim:       cfg.Dimension,
		maxChars:  maxChars,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Encode embeds texts in order: truncate, batch, call the backend
// through the breaker, normalize.
func (e *Encoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		prepared[i] = truncateRunes(t, e.maxChars)
	}

	out := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += e.batchSize {
		end := start + e.batchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		batch := prepared[start:end]

		res, err := e.breaker.Execute(func() (any, error) {
			return e.backend.embed(ctx, batch)
		})
		if err != nil {
			return nil, e.asDependencyError(err)
		}

		vecs := res.([][]float32)
		if len(vecs) != len(batch) {
			return nil, pkgerrors.NewDependencyError("embedding backend",
				fmt.Errorf("got %d vectors for %d texts", len(vecs), len(batch)))
		}
		for _, v := range vecs {
			if len(v) != e.dim {
				return nil, pkgerrors.NewConfigError(fmt.Sprintf(
					"embedding backend produced dimension %d, EMBED_DIM is %d", len(v), e.dim))
			}
			out = append(out, graph.Normalize(v))
		}
	}
	return out, nil
}

// EncodeOne embeds a single text.
func (e *Encoder) EncodeOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension is the width of produced vectors.
func (e *Encoder) Dimension() int { return e.dim }

// Model identifies the backing model.
func (e *Encoder) Model() string { return e.backend.model() }

func (e *Encoder) asDependencyError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewDependencyError("embedding backend", err)
	}
	var app *pkgerrors.AppError
	if errors.As(err, &app) {
		return app
	}
	return pkgerrors.NewDependencyError("embedding backend", err)
}

// truncateRunes caps s at max runes without splitting a sequence.
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := 0
	for i := range s {
		if runes == max {
			return s[:i]
		}
		runes++
	}
	return s
}
