package graph

import (
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// Well-known class tags. Classes are free-form; these are the ones the
// engine itself assigns or dispatches on.
const (
	ClassDocument = "Document"
	ClassChunk    = "Chunk"
	ClassDeleted  = "Deleted"
)

// Conventional props keys. Everything else in Props passes through
// untouched.
const (
	PropText               = "text"
	PropTitle              = "title"
	PropExternalID         = "external_id"
	PropIsParent           = "is_parent"
	PropParentID           = "parent_id"
	PropETag               = "etag"
	PropDeletionGraceUntil = "deletion_grace_until"
	PropSourceURI          = "source_uri"
	PropContentType        = "content_type"
	PropContentHash        = "content_hash"
	PropChunkIndex         = "chunk_index"
	PropPayloadRef         = "payload_ref"
)

// Node is a unit of knowledge in a tenant's graph. Embedding, when set,
// is L2-normalized with the process-wide dimension.
type Node struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Classes       []string       `json:"classes"`
	Props         map[string]any `json:"props"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Embedding     []float32      `json:"-"`
	RefreshPolicy *RefreshPolicy `json:"refresh_policy,omitempty"`
	Triggers      []TriggerSpec  `json:"triggers,omitempty"`
	LastRefreshed *time.Time     `json:"last_refreshed,omitempty"`
	DriftScore    float64        `json:"drift_score"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewNode builds a node in a valid initial state.
func NewNode(tenantID string, classes []string, props map[string]any) (*Node, error) {
	if tenantID == "" {
		return nil, pkgerrors.NewValidationError("tenant_id cannot be empty")
	}
	if len(classes) == 0 {
		return nil, pkgerrors.NewValidationError("classes cannot be empty")
	}
	if props == nil {
		props = map[string]any{}
	}

	now := time.Now().UTC()
	return &Node{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Classes:   classes,
		Props:     props,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasClass reports whether the node carries the given class tag.
func (n *Node) HasClass(class string) bool {
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// IsDeleted reports whether the node is tombstoned.
func (n *Node) IsDeleted() bool {
	return n.HasClass(ClassDeleted)
}

// IsChunk reports whether the node is a derived chunk.
func (n *Node) IsChunk() bool {
	return n.HasClass(ClassChunk)
}

// Text returns props.text, or "" when absent.
func (n *Node) Text() string {
	return n.propString(PropText)
}

// Title returns props.title, or "" when absent.
func (n *Node) Title() string {
	return n.propString(PropTitle)
}

// ExternalID returns the connector identity key, or "" for API-born nodes.
func (n *Node) ExternalID() string {
	return n.propString(PropExternalID)
}

// ParentID returns props.parent_id for chunk nodes, or "" otherwise.
func (n *Node) ParentID() string {
	return n.propString(PropParentID)
}

// PayloadRef returns the external payload location used to re-extract
// text on refresh, or "" when the text is inline.
func (n *Node) PayloadRef() string {
	return n.propString(PropPayloadRef)
}

// IsParent reports whether the node is a chunked parent document.
func (n *Node) IsParent() bool {
	v, ok := n.Props[PropIsParent]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// DeletionGraceUntil returns the tombstone grace deadline, if set.
// The value is stored as RFC 3339 text in props.
func (n *Node) DeletionGraceUntil() (time.Time, bool) {
	raw := n.propString(PropDeletionGraceUntil)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MarkDeleted tombstones the node: the Deleted class is added and the
// grace deadline recorded. Purging happens later, after the deadline.
func (n *Node) MarkDeleted(graceUntil time.Time) {
	if !n.HasClass(ClassDeleted) {
		n.Classes = append(n.Classes, ClassDeleted)
	}
	if n.Props == nil {
		n.Props = map[string]any{}
	}
	n.Props[PropDeletionGraceUntil] = graceUntil.UTC().Format(time.RFC3339)
	n.Touch()
}

// SetEmbedding installs a freshly computed embedding and returns the
// drift against the previous one. Drift is 0.0 for a first embedding.
// The caller is responsible for passing a normalized vector.
func (n *Node) SetEmbedding(embedding []float32, at time.Time) float64 {
	drift := 0.0
	if len(n.Embedding) > 0 {
		drift = Drift(n.Embedding, embedding)
	}
	n.Embedding = embedding
	n.DriftScore = drift
	t := at.UTC()
	n.LastRefreshed = &t
	return drift
}

// Touch bumps the version and update timestamp. Call on every
// meaningful mutation.
func (n *Node) Touch() {
	n.Version++
	n.UpdatedAt = time.Now().UTC()
}

func (n *Node) propString(key string) string {
	if n.Props == nil {
		return ""
	}
	v, ok := n.Props[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
