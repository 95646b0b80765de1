package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitMishra17/active-graph-kg/domain/graph"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"not found app error", pkgerrors.NewNotFoundError("node"), false},
		{"conflict app error", pkgerrors.NewConflictError("version"), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}

func TestAsStorageError(t *testing.T) {
	assert.NoError(t, asStorageError("op", nil))

	notFound := pkgerrors.NewNotFoundError("node")
	got := asStorageError("op", notFound)
	assert.True(t, pkgerrors.IsNotFound(got), "application errors pass through untouched")

	got = asStorageError("get node", errors.New("socket closed"))
	require.Error(t, got)
	assert.True(t, pkgerrors.IsStorage(got))
	assert.Contains(t, got.Error(), "get node failed")
}

func TestCheckDim(t *testing.T) {
	s := &Store{dim: 3}

	assert.NoError(t, s.checkDim(nil), "embedding is optional")
	assert.NoError(t, s.checkDim([]float32{1, 0, 0}))

	err := s.checkDim([]float32{1, 0})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestVectorParam(t *testing.T) {
	assert.Nil(t, vectorParam(nil))
	assert.Nil(t, vectorParam([]float32{}))
	assert.NotNil(t, vectorParam([]float32{0.5, 0.5}))
}

func TestJSONMapParam(t *testing.T) {
	assert.Equal(t, map[string]any{}, jsonMapParam(nil))

	m := map[string]any{"k": "v"}
	assert.Equal(t, m, jsonMapParam(m))
}

func TestPolicyParam(t *testing.T) {
	v, err := policyParam(nil)
	require.NoError(t, err)
	assert.Nil(t, v, "nodes without a policy store NULL")

	v, err = policyParam(&graph.RefreshPolicy{Cron: "0 * * * *"})
	require.NoError(t, err)
	raw, ok := v.([]byte)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"cron":"0 * * * *"`)
}

func TestTriggersParam(t *testing.T) {
	raw, err := triggersParam(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw), "empty trigger lists store as an empty array")

	raw, err = triggersParam([]graph.TriggerSpec{{Name: "security", Threshold: 0.9}})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"name":"security"`)
}
