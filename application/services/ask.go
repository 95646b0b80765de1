package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

const defaultAskTopK = 5

// cannedNoInformation is the refusal answer. Tests and callers match
// on the "no information" phrase.
const cannedNoInformation = "No information available in the knowledge base to answer this question."

// Rejection reasons recorded when a question is refused.
const (
	RejectLowSimilarity = "extremely_low_similarity"
	RejectNoResults     = "no_results"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Citation points an answer back at one retrieved context.
type Citation struct {
	Index      int       `json:"index"`
	NodeID     uuid.UUID `json:"node_id"`
	Title      string    `json:"title,omitempty"`
	Similarity float64   `json:"similarity"`
}

// AskMetadata explains how the gate decided.
type AskMetadata struct {
	GatingScore     float64 `json:"gating_score"`
	GatingScoreType string  `json:"gating_score_type"`
	CitedNodes      int     `json:"cited_nodes"`
	Reason          string  `json:"reason,omitempty"`
}

// AskResult is a complete answer with its citations.
type AskResult struct {
	Answer     string      `json:"answer"`
	Citations  []Citation  `json:"citations"`
	Confidence float64     `json:"confidence"`
	Metadata   AskMetadata `json:"metadata"`
}

// AskService answers questions over the tenant graph: retrieve, gate,
// stream, cite.
type AskService struct {
	retrieval     *RetrievalService
	streamer      ports.ChatStreamer
	metrics       *observability.Collector
	logger        *zap.Logger
	maxInputChars int
}

// NewAskService wires the QA pipeline. maxInputChars caps the total
// context text handed to the model.
func NewAskService(retrieval *RetrievalService, streamer ports.ChatStreamer, maxInputChars int, metrics *observability.Collector, logger *zap.Logger) *AskService {
	return &AskService{
		retrieval:     retrieval,
		streamer:      streamer,
		metrics:       metrics,
		logger:        logger,
		maxInputChars: maxInputChars,
	}
}

// Ask answers a question and returns the full result at once.
func (s *AskService) Ask(ctx context.Context, tenantID, question string, topK int) (*AskResult, error) {
	return s.ask(ctx, tenantID, question, topK, nil)
}

// AskStream answers a question, forwarding each answer token to
// onToken as it arrives. The assembled result is returned at the end;
// rejections are delivered as a single canned token.
func (s *AskService) AskStream(ctx context.Context, tenantID, question string, topK int, onToken func(string) error) (*AskResult, error) {
	return s.ask(ctx, tenantID, question, topK, onToken)
}

func (s *AskService) ask(ctx context.Context, tenantID, question string, topK int, onToken func(string) error) (*AskResult, error) {
	start := time.Now()
	if topK <= 0 {
		topK = defaultAskTopK
	}

	// Ask always retrieves with the active hybrid mode.
	search, err := s.retrieval.Search(ctx, tenantID, question, SearchOptions{
		TopK:      topK,
		UseHybrid: true,
	})
	if err != nil {
		return nil, err
	}
	scoreType := search.ScoreType
	reranked := strconv.FormatBool(search.Reranked)

	if len(search.Results) == 0 {
		s.recordRejection(scoreType, RejectNoResults)
		s.observeAsk(scoreType, reranked, start)
		return s.refuse(scoreType, 0, RejectNoResults, onToken)
	}

	gating := search.Results[0].Similarity
	s.metrics.GatingScore.WithLabelValues(scoreType).Observe(gating)

	threshold := s.retrieval.Options().GatingThreshold(scoreType)
	if gating < threshold {
		s.recordRejection(scoreType, RejectLowSimilarity)
		s.observeAsk(scoreType, reranked, start)
		s.logger.Info("question rejected below gating threshold",
			zap.String("tenant_id", tenantID),
			zap.String("score_type", scoreType),
			zap.Float64("gating_score", gating),
			zap.Float64("threshold", threshold))
		return s.refuse(scoreType, gating, RejectLowSimilarity, onToken)
	}

	prompt := buildPrompt(question, search.Results, s.maxInputChars)

	var (
		answer     strings.Builder
		sawFirst   bool
		firstChunk time.Duration
	)
	err = s.streamer.Stream(ctx, prompt, func(token string) error {
		if !sawFirst && token != "" {
			sawFirst = true
			firstChunk = time.Since(start)
			s.metrics.AskFirstChunkLatency.Observe(firstChunk.Seconds())
		}
		answer.WriteString(token)
		if onToken != nil {
			return onToken(token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	citations := extractCitations(answer.String(), search.Results)
	s.metrics.CitedNodes.WithLabelValues(scoreType).Observe(float64(len(citations)))
	if len(citations) == 0 {
		s.metrics.ZeroCitations.WithLabelValues(scoreType, "no_markers").Inc()
	}
	s.metrics.AskRequests.WithLabelValues(scoreType, "false").Inc()
	s.observeAsk(scoreType, reranked, start)

	return &AskResult{
		Answer:     answer.String(),
		Citations:  citations,
		Confidence: confidenceFrom(scoreType, gating),
		Metadata: AskMetadata{
			GatingScore:     gating,
			GatingScoreType: scoreType,
			CitedNodes:      len(citations),
		},
	}, nil
}

func (s *AskService) refuse(scoreType string, gating float64, reason string, onToken func(string) error) (*AskResult, error) {
	if onToken != nil {
		if err := onToken(cannedNoInformation); err != nil {
			return nil, err
		}
	}
	return &AskResult{
		Answer:    cannedNoInformation,
		Citations: []Citation{},
		Metadata: AskMetadata{
			GatingScore:     gating,
			GatingScoreType: scoreType,
			Reason:          reason,
		},
	}, nil
}

func (s *AskService) recordRejection(scoreType, reason string) {
	s.metrics.Rejections.WithLabelValues(reason, scoreType).Inc()
	s.metrics.AskRequests.WithLabelValues(scoreType, "true").Inc()
	s.metrics.ZeroCitations.WithLabelValues(scoreType, reason).Inc()
}

func (s *AskService) observeAsk(scoreType, reranked string, start time.Time) {
	s.metrics.AskLatency.WithLabelValues(scoreType, reranked).Observe(time.Since(start).Seconds())
}

// buildPrompt numbers the contexts so the model can cite them with
// bracketed indexes. The context block is capped at maxChars runes.
func buildPrompt(question string, contexts []ScoredNode, maxChars int) string {
	var ctxBlock strings.Builder
	for i, c := range contexts {
		passage := c.Node.Text()
		if passage == "" {
			passage = c.Node.Title()
		}
		fmt.Fprintf(&ctxBlock, "[%d] %s\n", i+1, passage)
		if maxChars > 0 && ctxBlock.Len() >= maxChars {
			break
		}
	}
	block := ctxBlock.String()
	if maxChars > 0 {
		runes := []rune(block)
		if len(runes) > maxChars {
			block = string(runes[:maxChars])
		}
	}

	var b strings.Builder
	b.WriteString("Answer the question using only the numbered context passages below. ")
	b.WriteString("Cite each fact with the bracketed index of its passage, like [1]. ")
	b.WriteString("If the passages do not contain the answer, say that no information is available.\n\n")
	b.WriteString(block)
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer: ")
	return b.String()
}

// extractCitations collects the distinct [i] markers that point at a
// real context, in first-mention order.
func extractCitations(answer string, contexts []ScoredNode) []Citation {
	seen := map[int]bool{}
	citations := []Citation{}
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > len(contexts) || seen[idx] {
			continue
		}
		seen[idx] = true
		c := contexts[idx-1]
		citations = append(citations, Citation{
			Index:      idx,
			NodeID:     c.Node.ID,
			Title:      c.Node.Title(),
			Similarity: c.Similarity,
		})
	}
	return citations
}

// confidenceFrom maps a gating score onto [0, 1]. RRF scores top out
// at 2/(k+1) when both retrievers rank the node first, so that point
// maps to full confidence.
func confidenceFrom(scoreType string, score float64) float64 {
	if scoreType == ScoreTypeRRF {
		score = score * float64(rrfK+1) / 2
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
