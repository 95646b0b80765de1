// Package services implements the operations above the storage and
// provider ports: retrieval and cited QA, the refresh scheduler, the
// trigger engine, ingestion, tombstone purging, and key rotation.
package services

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// Score types carried on every result set. Callers interpret the
// similarity field on the scale the type names.
const (
	ScoreTypeRRF      = "rrf_fused"
	ScoreTypeWeighted = "weighted_fusion"
	ScoreTypeCosine   = "cosine"
)

// Search modes for metric labels.
const (
	ModeVector = "vector"
	ModeHybrid = "hybrid"
)

// rrfK is the Reciprocal Rank Fusion constant: a result at rank r
// contributes 1/(rrfK + r), ranks starting at 1.
const rrfK = 60

// Weighted fusion coefficients over min-max normalized scores.
const (
	fusionVectorWeight  = 0.7
	fusionLexicalWeight = 0.3
)

const (
	defaultSearchTopK = 10
	maxSearchTopK     = 100
)

// RetrievalOptions are the runtime-tunable retrieval knobs. The service
// re-reads them on every request so CONFIG_FILE overrides apply without
// a restart.
type RetrievalOptions struct {
	HybridRRFEnabled         bool
	RerankerEnabled          bool
	RerankTopN               int
	DecayLambda              float64
	DriftBeta                float64
	ExtremelyLowSimThreshold float64
}

// GatingThreshold is the reject-below score for a score type. A
// configured threshold wins; zero selects the per-type default. RRF
// scores live on a reciprocal-rank scale two orders of magnitude below
// cosine, so the types cannot share one default.
func (o RetrievalOptions) GatingThreshold(scoreType string) float64 {
	if o.ExtremelyLowSimThreshold > 0 {
		return o.ExtremelyLowSimThreshold
	}
	if scoreType == ScoreTypeRRF {
		return 0.01
	}
	return 0.25
}

// SearchOptions shape one search request.
type SearchOptions struct {
	TopK int
	// UseHybrid fuses vector and lexical rankings; the process-wide
	// HybridRRFEnabled flag picks RRF or weighted fusion.
	UseHybrid bool
	// UseWeightedScore reorders results by recency and drift decay.
	// Ranking only: reported similarities stay on the base scale.
	UseWeightedScore bool
	Filter           ports.SearchFilter
}

// ScoredNode is one ranked result.
type ScoredNode struct {
	Node       *graph.Node
	Similarity float64
}

// SearchResult is a ranked result set plus the scale its scores use.
type SearchResult struct {
	Results   []ScoredNode
	ScoreType string
	Mode      string
	Reranked  bool
}

// RetrievalService runs vector, lexical, and fused search over the
// tenant graph.
type RetrievalService struct {
	search   ports.SearchRepository
	encoder  ports.Encoder
	reranker ports.Reranker
	opts     func() RetrievalOptions
	metrics  *observability.Collector
	logger   *zap.Logger
}

// NewRetrievalService wires the retrieval engine. reranker may be nil.
func NewRetrievalService(
	search ports.SearchRepository,
	encoder ports.Encoder,
	reranker ports.Reranker,
	opts func() RetrievalOptions,
	metrics *observability.Collector,
	logger *zap.Logger,
) *RetrievalService {
	return &RetrievalService{
		search:   search,
		encoder:  encoder,
		reranker: reranker,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// Options returns the current runtime tuning snapshot.
func (s *RetrievalService) Options() RetrievalOptions {
	return s.opts()
}

// Search retrieves the tenant's best-matching nodes for query. An
// empty query or an empty corpus returns zero results, not an error.
func (s *RetrievalService) Search(ctx context.Context, tenantID, query string, o SearchOptions) (*SearchResult, error) {
	start := time.Now()
	opts := s.opts()

	topK := o.TopK
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	if topK > maxSearchTopK {
		topK = maxSearchTopK
	}

	mode := ModeVector
	scoreType := ScoreTypeCosine
	if o.UseHybrid {
		mode = ModeHybrid
		if opts.HybridRRFEnabled {
			scoreType = ScoreTypeRRF
		} else {
			scoreType = ScoreTypeWeighted
		}
	}
	result := &SearchResult{ScoreType: scoreType, Mode: mode}

	defer func() {
		s.metrics.SearchRequests.WithLabelValues(mode, scoreType).Inc()
		s.metrics.SearchLatency.
			WithLabelValues(mode, scoreType, strconv.FormatBool(result.Reranked)).
			Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(query) == "" {
		return result, nil
	}

	queryVec, err := s.encoder.EncodeOne(ctx, query)
	if err != nil {
		return nil, err
	}

	// Fetch enough candidates to give the reranker its window.
	fetchK := topK
	if opts.RerankerEnabled && s.reranker != nil && opts.RerankTopN > fetchK {
		fetchK = opts.RerankTopN
	}

	var scored []ScoredNode
	switch scoreType {
	case ScoreTypeCosine:
		hits, err := s.search.VectorSearch(ctx, tenantID, queryVec, fetchK, o.Filter)
		if err != nil {
			return nil, err
		}
		scored = make([]ScoredNode, len(hits))
		for i, h := range hits {
			scored[i] = ScoredNode{Node: h.Node, Similarity: h.Score}
		}
	case ScoreTypeRRF:
		scored, err = s.fuseRRF(ctx, tenantID, queryVec, query, fetchK, o.Filter)
	default:
		scored, err = s.fuseWeighted(ctx, tenantID, queryVec, query, fetchK, o.Filter)
	}
	if err != nil {
		return nil, err
	}

	if o.UseWeightedScore {
		reweightByDecay(scored, opts.DecayLambda, opts.DriftBeta, time.Now().UTC())
	}
	if opts.RerankerEnabled {
		result.Reranked = s.rerank(ctx, query, scored, opts.RerankTopN)
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	result.Results = scored
	return result, nil
}

// fuseRRF combines the vector and lexical rankings with Reciprocal
// Rank Fusion: score = Σ 1/(k + rank) over the lists a node appears in.
func (s *RetrievalService) fuseRRF(ctx context.Context, tenantID string, queryVec []float32, query string, topK int, filter ports.SearchFilter) ([]ScoredNode, error) {
	vecHits, lexHits, err := s.bothSearches(ctx, tenantID, queryVec, query, topK, filter)
	if err != nil {
		return nil, err
	}

	fused := map[uuid.UUID]*ScoredNode{}
	for rank, h := range vecHits {
		fused[h.Node.ID] = &ScoredNode{Node: h.Node, Similarity: 1.0 / float64(rrfK+rank+1)}
	}
	for rank, h := range lexHits {
		contribution := 1.0 / float64(rrfK+rank+1)
		if sn, ok := fused[h.Node.ID]; ok {
			sn.Similarity += contribution
		} else {
			fused[h.Node.ID] = &ScoredNode{Node: h.Node, Similarity: contribution}
		}
	}
	return sortFused(fused), nil
}

// fuseWeighted blends min-max normalized vector and lexical scores.
func (s *RetrievalService) fuseWeighted(ctx context.Context, tenantID string, queryVec []float32, query string, topK int, filter ports.SearchFilter) ([]ScoredNode, error) {
	vecHits, lexHits, err := s.bothSearches(ctx, tenantID, queryVec, query, topK, filter)
	if err != nil {
		return nil, err
	}

	vecScores := make([]float64, len(vecHits))
	for i, h := range vecHits {
		vecScores[i] = h.Score
	}
	lexScores := make([]float64, len(lexHits))
	for i, h := range lexHits {
		lexScores[i] = h.Rank
	}
	normVec := minMaxNormalize(vecScores)
	normLex := minMaxNormalize(lexScores)

	fused := map[uuid.UUID]*ScoredNode{}
	for i, h := range vecHits {
		fused[h.Node.ID] = &ScoredNode{Node: h.Node, Similarity: fusionVectorWeight * normVec[i]}
	}
	for i, h := range lexHits {
		contribution := fusionLexicalWeight * normLex[i]
		if sn, ok := fused[h.Node.ID]; ok {
			sn.Similarity += contribution
		} else {
			fused[h.Node.ID] = &ScoredNode{Node: h.Node, Similarity: contribution}
		}
	}
	return sortFused(fused), nil
}

func (s *RetrievalService) bothSearches(ctx context.Context, tenantID string, queryVec []float32, query string, topK int, filter ports.SearchFilter) ([]ports.VectorHit, []ports.LexicalHit, error) {
	vecHits, err := s.search.VectorSearch(ctx, tenantID, queryVec, topK, filter)
	if err != nil {
		return nil, nil, err
	}
	lexHits, err := s.search.LexicalSearch(ctx, tenantID, query, topK, filter)
	if err != nil {
		return nil, nil, err
	}
	return vecHits, lexHits, nil
}

// rerank reorders the top-N results by cross-encoder score. Reported
// similarities keep the base scale; a missing or failing reranker
// leaves the base order untouched.
func (s *RetrievalService) rerank(ctx context.Context, query string, scored []ScoredNode, topN int) bool {
	if s.reranker == nil || len(scored) == 0 {
		return false
	}
	n := len(scored)
	if topN > 0 && topN < n {
		n = topN
	}
	docs := make([]string, n)
	for i := 0; i < n; i++ {
		docs[i] = scored[i].Node.Text()
	}
	rankScores, err := s.reranker.Rerank(ctx, query, docs)
	if err != nil || len(rankScores) != n {
		s.logger.Warn("reranker unavailable, keeping base ranking", zap.Error(err))
		return false
	}
	// Sort a permutation so every comparison reads the score a node
	// started with, then rebuild the head in that order.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return rankScores[order[i]] > rankScores[order[j]]
	})
	head := scored[:n]
	reordered := make([]ScoredNode, n)
	for pos, idx := range order {
		reordered[pos] = head[idx]
	}
	copy(head, reordered)
	return true
}

// reweightByDecay reorders results by base score multiplied with
// exp(−λ·age_days)·exp(−β·drift). Similarity values are not rewritten;
// the decay only ranks.
func reweightByDecay(scored []ScoredNode, lambda, beta float64, now time.Time) {
	weights := make(map[uuid.UUID]float64, len(scored))
	for _, sn := range scored {
		ageDays := now.Sub(sn.Node.UpdatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		weights[sn.Node.ID] = sn.Similarity *
			math.Exp(-lambda*ageDays) *
			math.Exp(-beta*sn.Node.DriftScore)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return weights[scored[i].Node.ID] > weights[scored[j].Node.ID]
	})
}

func sortFused(fused map[uuid.UUID]*ScoredNode) []ScoredNode {
	out := make([]ScoredNode, 0, len(fused))
	for _, sn := range fused {
		out = append(out, *sn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Node.ID.String() < out[j].Node.ID.String()
	})
	return out
}

// minMaxNormalize maps scores onto [0, 1]. A constant list maps to 1.
func minMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}
