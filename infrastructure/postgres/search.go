package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const (
	defaultTopK = 10
	maxTopK     = 200
)

// ftsExpr must stay byte-identical to the expression in the GIN index
// migration or the planner falls back to a sequential scan.
const ftsExpr = `to_tsvector('english', coalesce(props ->> 'text', '') || ' ' || coalesce(props ->> 'title', ''))`

// appendFilter renders a SearchFilter as additional WHERE conjuncts.
func appendFilter(sb *strings.Builder, args []any, filter ports.SearchFilter) ([]any, error) {
	if !filter.IncludeDeleted {
		sb.WriteString(` AND NOT (classes @> ARRAY['Deleted'])`)
	}
	if len(filter.Classes) > 0 {
		args = append(args, filter.Classes)
		fmt.Fprintf(sb, ` AND classes && $%d`, len(args))
	}
	if len(filter.Props) > 0 {
		args = append(args, jsonMapParam(filter.Props))
		fmt.Fprintf(sb, ` AND props @> $%d`, len(args))
	}
	return args, nil
}

func clampTopK(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}

// VectorSearch returns the topK nearest live nodes by cosine
// similarity. An empty corpus yields an empty result, not an error.
func (r *SearchStore) VectorSearch(ctx context.Context, tenantID string, queryVec []float32, topK int, filter ports.SearchFilter) ([]ports.VectorHit, error) {
	if len(queryVec) != r.dim {
		return nil, pkgerrors.NewValidationError("query embedding dimension mismatch").
			WithDetails(map[string]any{"want": r.dim, "got": len(queryVec)})
	}
	topK = clampTopK(topK)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + nodeColumns + `,
		1 - (embedding <=> $1) AS score
		FROM nodes
		WHERE tenant_id = $2 AND embedding IS NOT NULL`)
	args := []any{pgvector.NewVector(queryVec), tenantID}
	args, err := appendFilter(&sb, args, filter)
	if err != nil {
		return nil, err
	}
	args = append(args, topK)
	fmt.Fprintf(&sb, ` ORDER BY embedding <=> $1 LIMIT $%d`, len(args))

	var hits []ports.VectorHit
	err = r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		hits = hits[:0]
		for rows.Next() {
			var score float64
			n, err := scanNode(rows, &score)
			if err != nil {
				return err
			}
			hits = append(hits, ports.VectorHit{Node: n, Score: score})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("vector search", err)
	}
	return hits, nil
}

// LexicalSearch returns the topK best full-text matches over text and
// title, ranked by ts_rank. An empty query matches nothing.
func (r *SearchStore) LexicalSearch(ctx context.Context, tenantID string, query string, topK int, filter ports.SearchFilter) ([]ports.LexicalHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	topK = clampTopK(topK)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + nodeColumns + `,
		ts_rank(` + ftsExpr + `, plainto_tsquery('english', $1)) AS rank
		FROM nodes
		WHERE tenant_id = $2
		  AND ` + ftsExpr + ` @@ plainto_tsquery('english', $1)`)
	args := []any{query, tenantID}
	args, err := appendFilter(&sb, args, filter)
	if err != nil {
		return nil, err
	}
	args = append(args, topK)
	fmt.Fprintf(&sb, ` ORDER BY rank DESC LIMIT $%d`, len(args))

	var hits []ports.LexicalHit
	err = r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		hits = hits[:0]
		for rows.Next() {
			var rank float64
			n, err := scanNode(rows, &rank)
			if err != nil {
				return err
			}
			hits = append(hits, ports.LexicalHit{Node: n, Rank: rank})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, asStorageError("lexical search", err)
	}
	return hits, nil
}
