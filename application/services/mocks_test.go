package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// stubEncoder returns canned vectors by exact text, falling back to a
// deterministic hash-derived unit vector. dim defaults to 3.
type stubEncoder struct {
	dim    int
	canned map[string][]float32
	err    error
	calls  []string
}

func (e *stubEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.EncodeOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *stubEncoder) EncodeOne(_ context.Context, text string) ([]float32, error) {
	e.calls = append(e.calls, text)
	if e.err != nil {
		return nil, e.err
	}
	if vec, ok := e.canned[text]; ok {
		return vec, nil
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, e.Dimension())
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)])
	}
	return graph.Normalize(vec), nil
}

func (e *stubEncoder) Dimension() int {
	if e.dim > 0 {
		return e.dim
	}
	return 3
}

func (e *stubEncoder) Model() string { return "stub-encoder" }

// stubStreamer emits canned tokens and records the prompt it saw.
type stubStreamer struct {
	tokens []string
	err    error
	prompt string
}

func (s *stubStreamer) Stream(_ context.Context, prompt string, onToken func(string) error) error {
	s.prompt = prompt
	if s.err != nil {
		return s.err
	}
	for _, tok := range s.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubStreamer) Model() string { return "stub-llm" }

// stubReranker returns fixed scores, one per input doc.
type stubReranker struct {
	scores []float64
	err    error
	calls  int
}

func (r *stubReranker) Rerank(_ context.Context, _ string, docs []string) ([]float64, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if len(r.scores) >= len(docs) {
		return r.scores[:len(docs)], nil
	}
	return r.scores, nil
}

// stubSearch serves canned hits and records the last topK asked for.
type stubSearch struct {
	vecHits []ports.VectorHit
	lexHits []ports.LexicalHit
	vecErr  error
	lexErr  error
	topK    int
}

var _ ports.SearchRepository = (*stubSearch)(nil)

func (s *stubSearch) VectorSearch(_ context.Context, _ string, _ []float32, topK int, _ ports.SearchFilter) ([]ports.VectorHit, error) {
	s.topK = topK
	if s.vecErr != nil {
		return nil, s.vecErr
	}
	if topK < len(s.vecHits) {
		return s.vecHits[:topK], nil
	}
	return s.vecHits, nil
}

func (s *stubSearch) LexicalSearch(_ context.Context, _ string, _ string, topK int, _ ports.SearchFilter) ([]ports.LexicalHit, error) {
	if s.lexErr != nil {
		return nil, s.lexErr
	}
	if topK < len(s.lexHits) {
		return s.lexHits[:topK], nil
	}
	return s.lexHits, nil
}

// memNodes is a map-backed NodeRepository honoring tenant scoping.
type memNodes struct {
	mu         sync.Mutex
	nodes      map[uuid.UUID]*graph.Node
	softDels   map[uuid.UUID]time.Time
	hardDels   []uuid.UUID
	tombstones []ports.Tombstone
	updateErr  error
}

func newMemNodes(nodes ...*graph.Node) *memNodes {
	m := &memNodes{
		nodes:    map[uuid.UUID]*graph.Node{},
		softDels: map[uuid.UUID]time.Time{},
	}
	for _, n := range nodes {
		m.nodes[n.ID] = n
	}
	return m
}

func (m *memNodes) Create(_ context.Context, node *graph.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.ID] = node
	return nil
}

func (m *memNodes) Get(_ context.Context, tenantID string, id uuid.UUID) (*graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || n.TenantID != tenantID {
		return nil, pkgerrors.NewNotFoundError("node")
	}
	return n, nil
}

func (m *memNodes) GetByExternalID(_ context.Context, tenantID, externalID string) (*graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nodes {
		if n.TenantID == tenantID && n.ExternalID() == externalID && !n.IsChunk() {
			return n, nil
		}
	}
	return nil, pkgerrors.NewNotFoundError("node")
}

func (m *memNodes) List(_ context.Context, tenantID string, _ ports.NodeListOptions) ([]*graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Node
	for _, n := range m.nodes {
		if n.TenantID == tenantID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNodes) ListByParent(_ context.Context, tenantID string, parentID uuid.UUID) ([]*graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Node
	for _, n := range m.nodes {
		if n.TenantID == tenantID && n.ParentID() == parentID.String() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i].Props[graph.PropChunkIndex]) < fmt.Sprint(out[j].Props[graph.PropChunkIndex])
	})
	return out, nil
}

func (m *memNodes) Update(_ context.Context, node *graph.Node, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.nodes[node.ID]
	if !ok {
		return pkgerrors.NewNotFoundError("node")
	}
	if stored.Version != expectedVersion {
		return pkgerrors.NewConflictError("version mismatch")
	}
	node.Version = expectedVersion + 1
	m.nodes[node.ID] = node
	return nil
}

func (m *memNodes) UpdateEmbedding(_ context.Context, tenantID string, id uuid.UUID, embedding []float32, drift float64, refreshedAt time.Time, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || n.TenantID != tenantID {
		return pkgerrors.NewNotFoundError("node")
	}
	n.Embedding = embedding
	n.DriftScore = drift
	at := refreshedAt
	n.LastRefreshed = &at
	return nil
}

func (m *memNodes) ListVersions(context.Context, string, uuid.UUID, int) ([]*graph.NodeVersion, error) {
	return nil, nil
}

func (m *memNodes) SoftDelete(_ context.Context, tenantID string, id uuid.UUID, graceUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || n.TenantID != tenantID {
		return pkgerrors.NewNotFoundError("node")
	}
	n.MarkDeleted(graceUntil)
	m.softDels[id] = graceUntil
	return nil
}

func (m *memNodes) HardDelete(_ context.Context, tenantID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok || n.TenantID != tenantID {
		return pkgerrors.NewNotFoundError("node")
	}
	delete(m.nodes, id)
	m.hardDels = append(m.hardDels, id)
	return nil
}

func (m *memNodes) DueCandidates(_ context.Context, tenantID string, after *time.Time, limit int) ([]*graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Node
	for _, n := range m.nodes {
		if n.TenantID != tenantID || n.RefreshPolicy == nil || n.IsDeleted() {
			continue
		}
		if after != nil && (n.LastRefreshed == nil || !n.LastRefreshed.After(*after)) {
			continue
		}
		out = append(out, n)
	}
	// Longest-unrefreshed first, never-refreshed ahead of everything.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastRefreshed, out[j].LastRefreshed
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memNodes) TriggerCandidates(_ context.Context, tenantID string, limit int) ([]*graph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Node
	for _, n := range m.nodes {
		if n.TenantID == tenantID && len(n.Triggers) > 0 && len(n.Embedding) > 0 && !n.IsDeleted() {
			out = append(out, n)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memNodes) ExpiredTombstones(context.Context, time.Time, int) ([]ports.Tombstone, error) {
	return m.tombstones, nil
}

func (m *memNodes) Tenants(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, n := range m.nodes {
		if !seen[n.TenantID] {
			seen[n.TenantID] = true
			out = append(out, n.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// memEvents records appended events.
type memEvents struct {
	mu     sync.Mutex
	events []*graph.Event
	err    error
}

func (m *memEvents) Append(_ context.Context, event *graph.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memEvents) ListByNode(_ context.Context, tenantID string, nodeID uuid.UUID, eventType string, _ int) ([]*graph.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Event
	for _, e := range m.events {
		if e.TenantID == tenantID && e.NodeID == nodeID && (eventType == "" || e.Type == eventType) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) byType(eventType string) []*graph.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memPatterns is a map-backed PatternRepository with global fallback.
type memPatterns struct {
	mu       sync.Mutex
	patterns map[string]*graph.Pattern
}

func newMemPatterns() *memPatterns {
	return &memPatterns{patterns: map[string]*graph.Pattern{}}
}

func patternKey(tenantID, name string) string { return tenantID + "\x00" + name }

func (m *memPatterns) Upsert(_ context.Context, p *graph.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[patternKey(p.TenantID, p.Name)] = p
	return nil
}

func (m *memPatterns) Get(_ context.Context, tenantID, name string) (*graph.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patterns[patternKey(tenantID, name)]; ok {
		return p, nil
	}
	if p, ok := m.patterns[patternKey("", name)]; ok {
		return p, nil
	}
	return nil, pkgerrors.NewNotFoundError("pattern")
}

func (m *memPatterns) List(_ context.Context, tenantID string) ([]*graph.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Pattern
	for _, p := range m.patterns {
		if p.TenantID == tenantID || p.TenantID == "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPatterns) Delete(_ context.Context, tenantID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := patternKey(tenantID, name)
	if _, ok := m.patterns[key]; !ok {
		return pkgerrors.NewNotFoundError("pattern")
	}
	delete(m.patterns, key)
	return nil
}

// memEdges records created edges.
type memEdges struct {
	mu    sync.Mutex
	edges []*graph.Edge
}

func (m *memEdges) Create(_ context.Context, edge *graph.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, edge)
	return nil
}

func (m *memEdges) ListBySrc(_ context.Context, tenantID string, src uuid.UUID, rel string) ([]*graph.Edge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*graph.Edge
	for _, e := range m.edges {
		if e.TenantID == tenantID && e.Src == src && (rel == "" || e.Rel == rel) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEdges) Delete(context.Context, string, uuid.UUID, string, uuid.UUID) error {
	return nil
}

func (m *memEdges) Lineage(context.Context, string, uuid.UUID, int) ([]graph.LineageEntry, error) {
	return nil, nil
}

// stubCatalog resolves configs by (tenant, provider) and records
// invalidations.
type stubCatalog struct {
	mu          sync.Mutex
	configs     map[string]*connector.Config
	invalidated []string
}

func newStubCatalog(cfgs ...*connector.Config) *stubCatalog {
	c := &stubCatalog{configs: map[string]*connector.Config{}}
	for _, cfg := range cfgs {
		c.configs[cfg.TenantID+"/"+cfg.Provider] = cfg
	}
	return c
}

func (c *stubCatalog) Enabled(_ context.Context, tenantID, provider string) (*connector.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[tenantID+"/"+provider]
	if !ok || !cfg.Enabled {
		return nil, pkgerrors.NewNotFoundError("connector config")
	}
	return cfg, nil
}

func (c *stubCatalog) Invalidate(tenantID, provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, tenantID+"/"+provider)
}

// stubSource is a scriptable connector.Source.
type stubSource struct {
	provider   string
	fetches    map[string]connector.FetchResult
	fetchErrs  []error // consumed per call before fetches apply
	attempts   int
	pages      [][]connector.ChangeItem
	cursors    []string
	page       int
	listServed []string
}

func (s *stubSource) Stat(context.Context, string) (connector.Stats, error) {
	return connector.Stats{Exists: true}, nil
}

func (s *stubSource) FetchText(_ context.Context, uri string) (connector.FetchResult, error) {
	s.attempts++
	if len(s.fetchErrs) > 0 {
		err := s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
		if err != nil {
			return connector.FetchResult{}, err
		}
	}
	res, ok := s.fetches[uri]
	if !ok {
		return connector.FetchResult{}, pkgerrors.NewPermanentConnectorError("object not found", nil)
	}
	return res, nil
}

func (s *stubSource) ListChanges(_ context.Context, cursor string) ([]connector.ChangeItem, string, error) {
	s.listServed = append(s.listServed, cursor)
	if s.page >= len(s.pages) {
		return nil, "", nil
	}
	items := s.pages[s.page]
	next := ""
	if s.page < len(s.cursors) {
		next = s.cursors[s.page]
	}
	s.page++
	return items, next, nil
}

func (s *stubSource) Provider() string { return s.provider }

// stubResolver hands back one canned source.
type stubResolver struct {
	source connector.Source
	err    error
}

func (r *stubResolver) Resolve(context.Context, *connector.Config) (connector.Source, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.source, nil
}

// stubThrottle scripts quota decisions.
type stubThrottle struct {
	allowAPI bool
	allowDoc bool
	apiErr   error
	docErr   error
}

func (t *stubThrottle) AllowDocument(context.Context, string, int64) (bool, error) {
	return t.allowDoc, t.docErr
}

func (t *stubThrottle) AllowAPICall(context.Context, string) (bool, error) {
	return t.allowAPI, t.apiErr
}

// stubQueue is an in-memory IngestQueue.
type stubQueue struct {
	mu         sync.Mutex
	enqueued   map[string][]connector.ChangeItem
	pending    []queuedItem
	dead       []deadItem
	enqueueErr error
}

type queuedItem struct {
	ref  ports.QueueRef
	item connector.ChangeItem
}

type deadItem struct {
	ref    ports.QueueRef
	item   connector.ChangeItem
	reason string
}

func newStubQueue() *stubQueue {
	return &stubQueue{enqueued: map[string][]connector.ChangeItem{}}
}

func (q *stubQueue) Enqueue(_ context.Context, ref ports.QueueRef, items []connector.ChangeItem) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return 0, q.enqueueErr
	}
	key := ref.Provider + "/" + ref.TenantID
	q.enqueued[key] = append(q.enqueued[key], items...)
	for _, it := range items {
		q.pending = append(q.pending, queuedItem{ref: ref, item: it})
	}
	return len(items), nil
}

func (q *stubQueue) Dequeue(_ context.Context, _ []ports.QueueRef, _ time.Duration) (ports.QueueRef, *connector.ChangeItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return ports.QueueRef{}, nil, nil
	}
	head := q.pending[0]
	q.pending = q.pending[1:]
	item := head.item
	return head.ref, &item, nil
}

func (q *stubQueue) DeadLetter(_ context.Context, ref ports.QueueRef, item connector.ChangeItem, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, deadItem{ref: ref, item: item, reason: reason})
	return nil
}

func (q *stubQueue) ActiveQueues(context.Context) ([]ports.QueueRef, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := map[string]bool{}
	var out []ports.QueueRef
	for _, p := range q.pending {
		key := p.ref.Provider + "/" + p.ref.TenantID
		if !seen[key] {
			seen[key] = true
			out = append(out, p.ref)
		}
	}
	return out, nil
}

func (q *stubQueue) Depth(context.Context, ports.QueueRef) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *stubQueue) DLQDepth(context.Context, ports.QueueRef) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dead)), nil
}

func (q *stubQueue) deadLetters() []deadItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]deadItem, len(q.dead))
	copy(out, q.dead)
	return out
}

// stubCipher marks settings sealed with the active version instead of
// real cryptography.
type stubCipher struct {
	active   int
	encErr   error
	decErr   error
	decSeen  []int
	sealMark string
}

func (c *stubCipher) EncryptSettings(settings map[string]any) (map[string]any, int, error) {
	if c.encErr != nil {
		return nil, 0, c.encErr
	}
	out := map[string]any{}
	for k, v := range settings {
		out[k] = v
	}
	mark := c.sealMark
	if mark == "" {
		mark = "sealed"
	}
	out["_"+mark] = c.active
	return out, c.active, nil
}

func (c *stubCipher) DecryptSettings(settings map[string]any, keyVersion int) (map[string]any, error) {
	c.decSeen = append(c.decSeen, keyVersion)
	if c.decErr != nil {
		return nil, c.decErr
	}
	out := map[string]any{}
	for k, v := range settings {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (c *stubCipher) ActiveVersion() int { return c.active }

// memConfigs is a map-backed ConnectorConfigRepository.
type memConfigs struct {
	mu      sync.Mutex
	configs map[string]*connector.Config
}

func newMemConfigs(cfgs ...*connector.Config) *memConfigs {
	m := &memConfigs{configs: map[string]*connector.Config{}}
	for _, cfg := range cfgs {
		m.configs[cfg.TenantID+"/"+cfg.Provider] = cfg
	}
	return m
}

func (m *memConfigs) Upsert(_ context.Context, cfg *connector.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.TenantID+"/"+cfg.Provider] = cfg
	return nil
}

func (m *memConfigs) Get(_ context.Context, tenantID, provider string) (*connector.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[tenantID+"/"+provider]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("connector config")
	}
	return cfg, nil
}

func (m *memConfigs) List(_ context.Context, tenantID string) ([]*connector.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*connector.Config
	for _, cfg := range m.configs {
		if cfg.TenantID == tenantID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (m *memConfigs) ListEnabled(context.Context) ([]*connector.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*connector.Config
	for _, cfg := range m.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (m *memConfigs) SetEnabled(_ context.Context, tenantID, provider string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[tenantID+"/"+provider]
	if !ok {
		return pkgerrors.NewNotFoundError("connector config")
	}
	cfg.Enabled = enabled
	return nil
}

func (m *memConfigs) Delete(_ context.Context, tenantID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + provider
	if _, ok := m.configs[key]; !ok {
		return pkgerrors.NewNotFoundError("connector config")
	}
	delete(m.configs, key)
	return nil
}

func (m *memConfigs) RotationCandidates(_ context.Context, activeVersion, limit int) ([]*connector.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*connector.Config
	for _, cfg := range m.configs {
		if cfg.KeyVersion != activeVersion {
			out = append(out, cfg)
		}
		if len(out) == limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *memConfigs) Reencrypt(_ context.Context, tenantID, provider string, settings map[string]any, fromVersion, toVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[tenantID+"/"+provider]
	if !ok {
		return pkgerrors.NewNotFoundError("connector config")
	}
	if cfg.KeyVersion != fromVersion {
		return pkgerrors.NewConflictError("key version moved")
	}
	cfg.Settings = settings
	cfg.KeyVersion = toVersion
	return nil
}

// memCursors is a map-backed ConnectorCursorRepository.
type memCursors struct {
	mu    sync.Mutex
	state map[string]map[string]any
}

func newMemCursors() *memCursors {
	return &memCursors{state: map[string]map[string]any{}}
}

func (m *memCursors) GetCursor(_ context.Context, tenantID, provider string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state[tenantID+"/"+provider]; ok {
		return s, nil
	}
	return map[string]any{}, nil
}

func (m *memCursors) PutCursor(_ context.Context, tenantID, provider string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[tenantID+"/"+provider] = state
	return nil
}

// stubPublisher records config change notices.
type stubPublisher struct {
	mu      sync.Mutex
	changes []ports.ConfigChange
	err     error
}

func (p *stubPublisher) PublishConfigChange(_ context.Context, change ports.ConfigChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.changes = append(p.changes, change)
	return nil
}

// memReporting serves canned aggregate rows and records the Anomalies
// arguments it saw.
type memReporting struct {
	coverage    []ports.CoverageRow
	refreshes   []ports.ClassRefreshRow
	anomalies   []ports.AnomalyRow
	coverageErr error
	lastDrift   float64
	lastLimit   int
}

func (m *memReporting) Coverage(context.Context) ([]ports.CoverageRow, error) {
	if m.coverageErr != nil {
		return nil, m.coverageErr
	}
	return m.coverage, nil
}

func (m *memReporting) LastRefreshByClass(context.Context) ([]ports.ClassRefreshRow, error) {
	return m.refreshes, nil
}

func (m *memReporting) Anomalies(_ context.Context, driftThreshold float64, limit int) ([]ports.AnomalyRow, error) {
	m.lastDrift = driftThreshold
	m.lastLimit = limit
	return m.anomalies, nil
}

// stubLoader resolves payload refs from a map.
type stubLoader struct {
	payloads map[string]string
	err      error
}

func (l *stubLoader) Load(_ context.Context, _ string, ref string) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	text, ok := l.payloads[ref]
	if !ok {
		return "", pkgerrors.NewNotFoundError("payload")
	}
	return text, nil
}

func testNode(tenantID, text string) *graph.Node {
	n, err := graph.NewNode(tenantID, []string{graph.ClassDocument}, map[string]any{graph.PropText: text})
	if err != nil {
		panic(err)
	}
	return n
}
