package graph

import (
	"time"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// TriggerSpec binds a node to a named pattern: when the node's
// embedding lands within threshold similarity of the pattern vector, a
// trigger_fired event is appended.
type TriggerSpec struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
}

// Pattern is a stored reference vector that triggers match against.
// TenantID is empty for globally shared patterns.
type Pattern struct {
	Name        string    `json:"name"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Embedding   []float32 `json:"-"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPattern builds a pattern in a valid state. The embedding must
// already be normalized.
func NewPattern(name, tenantID string, embedding []float32, description string) (*Pattern, error) {
	if name == "" {
		return nil, pkgerrors.NewValidationError("pattern name cannot be empty")
	}
	if len(embedding) == 0 {
		return nil, pkgerrors.NewValidationError("pattern embedding cannot be empty")
	}

	now := time.Now().UTC()
	return &Pattern{
		Name:        name,
		TenantID:    tenantID,
		Embedding:   embedding,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
