package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// NodeInput is the write shape for node create and update. On update,
// nil fields keep their stored values.
type NodeInput struct {
	Classes       []string             `json:"classes"`
	Props         map[string]any       `json:"props"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
	RefreshPolicy *graph.RefreshPolicy `json:"refresh_policy,omitempty"`
	Triggers      []graph.TriggerSpec  `json:"triggers,omitempty"`
}

// NodeService handles API-born nodes: create with embed-on-write,
// optimistic updates, tombstoning with chunk cascade, and the version
// and event histories.
type NodeService struct {
	nodes   ports.NodeRepository
	events  ports.EventRepository
	encoder ports.Encoder
	grace   time.Duration
	logger  *zap.Logger
}

// NewNodeService wires the node CRUD surface. grace is how long a soft
// delete stays revivable before the purger may collect it.
func NewNodeService(
	nodes ports.NodeRepository,
	events ports.EventRepository,
	encoder ports.Encoder,
	grace time.Duration,
	logger *zap.Logger,
) *NodeService {
	return &NodeService{nodes: nodes, events: events, encoder: encoder, grace: grace, logger: logger}
}

// Create builds and persists a node. When props.text is present the
// embedding is computed inline; an encoder outage degrades to a node
// without an embedding rather than a failed create, and the refresh
// path picks it up later.
func (s *NodeService) Create(ctx context.Context, tenantID string, in NodeInput) (*graph.Node, error) {
	node, err := graph.NewNode(tenantID, in.Classes, in.Props)
	if err != nil {
		return nil, err
	}
	node.Metadata = in.Metadata
	node.RefreshPolicy = in.RefreshPolicy
	node.Triggers = in.Triggers
	if err := validateTriggers(node.Triggers); err != nil {
		return nil, err
	}

	if text := node.Text(); text != "" {
		vec, err := s.encoder.EncodeOne(ctx, text)
		if err != nil {
			s.logger.Warn("embedding failed on create, node stored without vector",
				zap.String("tenant_id", tenantID),
				zap.String("node_id", node.ID.String()),
				zap.Error(err))
		} else {
			node.SetEmbedding(vec, time.Now().UTC())
		}
	}

	if err := s.nodes.Create(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// Get returns one node under the tenant context.
func (s *NodeService) Get(ctx context.Context, tenantID string, id uuid.UUID) (*graph.Node, error) {
	return s.nodes.Get(ctx, tenantID, id)
}

// List pages through the tenant's live nodes.
func (s *NodeService) List(ctx context.Context, tenantID string, opts ports.NodeListOptions) ([]*graph.Node, error) {
	return s.nodes.List(ctx, tenantID, opts)
}

// Update replaces the provided fields and writes the node back guarded
// by expectedVersion. A text change re-embeds inline; like create, an
// encoder outage keeps the previous vector instead of failing the write.
func (s *NodeService) Update(ctx context.Context, tenantID string, id uuid.UUID, in NodeInput, expectedVersion int) (*graph.Node, error) {
	node, err := s.nodes.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	oldText := node.Text()
	if in.Classes != nil {
		node.Classes = in.Classes
	}
	if in.Props != nil {
		node.Props = in.Props
	}
	if in.Metadata != nil {
		node.Metadata = in.Metadata
	}
	if in.RefreshPolicy != nil {
		node.RefreshPolicy = in.RefreshPolicy
	}
	if in.Triggers != nil {
		if err := validateTriggers(in.Triggers); err != nil {
			return nil, err
		}
		node.Triggers = in.Triggers
	}
	if len(node.Classes) == 0 {
		return nil, pkgerrors.NewValidationError("classes cannot be empty")
	}

	if text := node.Text(); text != "" && text != oldText {
		vec, err := s.encoder.EncodeOne(ctx, text)
		if err != nil {
			s.logger.Warn("embedding failed on update, keeping previous vector",
				zap.String("tenant_id", tenantID),
				zap.String("node_id", id.String()),
				zap.Error(err))
		} else {
			node.SetEmbedding(vec, time.Now().UTC())
		}
	}

	if err := s.nodes.Update(ctx, node, expectedVersion); err != nil {
		return nil, err
	}
	return node, nil
}

// Delete tombstones the node, or removes it outright when hard is set.
// Either way a parent takes its derived chunks along.
func (s *NodeService) Delete(ctx context.Context, tenantID string, id uuid.UUID, hard bool) error {
	node, err := s.nodes.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	var chunks []*graph.Node
	if node.IsParent() {
		chunks, err = s.nodes.ListByParent(ctx, tenantID, node.ID)
		if err != nil {
			return err
		}
	}

	if hard {
		for _, chunk := range chunks {
			if err := s.nodes.HardDelete(ctx, tenantID, chunk.ID); err != nil && !pkgerrors.IsNotFound(err) {
				return err
			}
		}
		return s.nodes.HardDelete(ctx, tenantID, node.ID)
	}

	graceUntil := time.Now().UTC().Add(s.grace)
	if err := s.nodes.SoftDelete(ctx, tenantID, node.ID, graceUntil); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if chunk.IsDeleted() {
			continue
		}
		if err := s.nodes.SoftDelete(ctx, tenantID, chunk.ID, graceUntil); err != nil && !pkgerrors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// Versions returns the node's content snapshots, newest first.
func (s *NodeService) Versions(ctx context.Context, tenantID string, id uuid.UUID, limit int) ([]*graph.NodeVersion, error) {
	return s.nodes.ListVersions(ctx, tenantID, id, limit)
}

// Events returns the node's audit trail, newest first, optionally
// narrowed to one event type.
func (s *NodeService) Events(ctx context.Context, tenantID string, nodeID uuid.UUID, eventType string, limit int) ([]*graph.Event, error) {
	return s.events.ListByNode(ctx, tenantID, nodeID, eventType, limit)
}

func validateTriggers(triggers []graph.TriggerSpec) error {
	for _, t := range triggers {
		if t.Name == "" {
			return pkgerrors.NewValidationError("trigger name cannot be empty")
		}
		if t.Threshold < 0 || t.Threshold > 1 {
			return pkgerrors.NewValidationError("trigger threshold must be within [0, 1]")
		}
	}
	return nil
}
