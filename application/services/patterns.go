package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// PatternInput registers a named reference vector. Exactly one of Text
// and Embedding supplies the vector; Text goes through the encoder.
type PatternInput struct {
	Name        string    `json:"name"`
	Text        string    `json:"text,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Description string    `json:"description,omitempty"`
}

// PatternService manages the named vectors the trigger engine matches
// against. With the global flag set, writes land in the shared
// namespace every tenant's lookups fall back to.
type PatternService struct {
	patterns ports.PatternRepository
	encoder  ports.Encoder
	global   bool
	logger   *zap.Logger
}

// NewPatternService wires the pattern surface.
func NewPatternService(patterns ports.PatternRepository, encoder ports.Encoder, global bool, logger *zap.Logger) *PatternService {
	return &PatternService{patterns: patterns, encoder: encoder, global: global, logger: logger}
}

// Upsert stores the pattern under the tenant namespace, or the shared
// one when the service runs in global mode.
func (s *PatternService) Upsert(ctx context.Context, tenantID string, in PatternInput) (*graph.Pattern, error) {
	if in.Name == "" {
		return nil, pkgerrors.NewValidationError("pattern name cannot be empty")
	}

	var embedding []float32
	switch {
	case in.Text != "":
		vec, err := s.encoder.EncodeOne(ctx, in.Text)
		if err != nil {
			return nil, pkgerrors.NewDependencyError("embeddings", err)
		}
		embedding = vec
	case len(in.Embedding) > 0:
		if len(in.Embedding) != s.encoder.Dimension() {
			return nil, pkgerrors.NewValidationError("embedding dimension mismatch")
		}
		embedding = graph.Normalize(in.Embedding)
	default:
		return nil, pkgerrors.NewValidationError("pattern requires text or embedding")
	}

	pattern, err := graph.NewPattern(in.Name, s.namespace(tenantID), embedding, in.Description)
	if err != nil {
		return nil, err
	}
	if err := s.patterns.Upsert(ctx, pattern); err != nil {
		return nil, err
	}
	s.logger.Info("pattern saved",
		zap.String("name", in.Name),
		zap.String("tenant_id", pattern.TenantID))
	return pattern, nil
}

// Get returns the tenant's pattern by name, falling back to the shared
// namespace.
func (s *PatternService) Get(ctx context.Context, tenantID, name string) (*graph.Pattern, error) {
	return s.patterns.Get(ctx, tenantID, name)
}

// List returns the tenant's patterns plus the shared ones.
func (s *PatternService) List(ctx context.Context, tenantID string) ([]*graph.Pattern, error) {
	return s.patterns.List(ctx, tenantID)
}

// Delete removes the pattern from the namespace writes go to.
func (s *PatternService) Delete(ctx context.Context, tenantID, name string) error {
	if err := s.patterns.Delete(ctx, s.namespace(tenantID), name); err != nil {
		return err
	}
	s.logger.Info("pattern deleted", zap.String("name", name))
	return nil
}

func (s *PatternService) namespace(tenantID string) string {
	if s.global {
		return ""
	}
	return tenantID
}
