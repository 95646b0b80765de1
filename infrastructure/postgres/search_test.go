package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
)

func TestClampTopK(t *testing.T) {
	assert.Equal(t, defaultTopK, clampTopK(0))
	assert.Equal(t, defaultTopK, clampTopK(-5))
	assert.Equal(t, 25, clampTopK(25))
	assert.Equal(t, maxTopK, clampTopK(10_000))
}

func TestAppendFilterDefaultExcludesDeleted(t *testing.T) {
	var sb strings.Builder
	args := []any{"vec", "acme"}

	args, err := appendFilter(&sb, args, ports.SearchFilter{})
	require.NoError(t, err)

	assert.Equal(t, ` AND NOT (classes @> ARRAY['Deleted'])`, sb.String())
	assert.Len(t, args, 2, "no extra bind parameters for the default filter")
}

func TestAppendFilterIncludeDeleted(t *testing.T) {
	var sb strings.Builder

	_, err := appendFilter(&sb, []any{"q", "acme"}, ports.SearchFilter{IncludeDeleted: true})
	require.NoError(t, err)

	assert.Empty(t, sb.String())
}

func TestAppendFilterClassesAndProps(t *testing.T) {
	var sb strings.Builder
	args := []any{"q", "acme"}

	args, err := appendFilter(&sb, args, ports.SearchFilter{
		Classes: []string{"Document", "Chunk"},
		Props:   map[string]any{"source": "s3"},
	})
	require.NoError(t, err)

	// Placeholders continue from the base argument count.
	assert.Contains(t, sb.String(), `classes && $3`)
	assert.Contains(t, sb.String(), `props @> $4`)
	require.Len(t, args, 4)
	assert.Equal(t, []string{"Document", "Chunk"}, args[2])
	assert.Equal(t, map[string]any{"source": "s3"}, args[3])
}

func TestFTSExprMentionsBothFields(t *testing.T) {
	// The expression is duplicated in the index migration; a drift here
	// silently degrades lexical search to sequential scans.
	assert.Contains(t, ftsExpr, `props ->> 'text'`)
	assert.Contains(t, ftsExpr, `props ->> 'title'`)
	assert.Contains(t, ftsExpr, `to_tsvector('english'`)
}
