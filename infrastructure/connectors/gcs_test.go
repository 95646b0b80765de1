package connectors

import (
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

func TestGCSObjectKey(t *testing.T) {
	g := &GCSSource{name: "docs"}

	key, err := g.objectKey("gs://docs/reports/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "reports/a.txt", key)

	key, err = g.objectKey("gcs://docs/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", key)

	key, err = g.objectKey("bare/key.txt")
	require.NoError(t, err)
	assert.Equal(t, "bare/key.txt", key)

	_, err = g.objectKey("gs://bucketonly")
	assert.True(t, pkgerrors.IsPermanentConnector(err))

	_, err = g.objectKey("")
	assert.True(t, pkgerrors.IsPermanentConnector(err))
}

func TestGCSErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"object missing", storage.ErrObjectNotExist, true},
		{"bucket missing", storage.ErrBucketNotExist, true},
		{"denied", &googleapi.Error{Code: 403}, true},
		{"unauthorized", &googleapi.Error{Code: 401}, true},
		{"server error", &googleapi.Error{Code: 503}, false},
		{"rate limited", &googleapi.Error{Code: 429}, false},
		{"network failure", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyGCSError("fetch", "gs://docs/a.txt", tc.err)
			if tc.permanent {
				assert.True(t, pkgerrors.IsPermanentConnector(err))
			} else {
				assert.True(t, pkgerrors.IsTransientConnector(err))
			}
		})
	}
}
