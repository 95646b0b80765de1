package connectors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

func TestDriveFileID(t *testing.T) {
	assert.Equal(t, "1a2b3c", driveFileID("drive://1a2b3c"))
	assert.Equal(t, "1a2b3c", driveFileID("1a2b3c"))
}

func TestDriveErrorClassification(t *testing.T) {
	rateLimited := &googleapi.Error{
		Code:   403,
		Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
	}

	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"file missing", &googleapi.Error{Code: 404}, true},
		{"unauthorized", &googleapi.Error{Code: 401}, true},
		{"denied outright", &googleapi.Error{Code: 403}, true},
		{"quota disguised as denied", rateLimited, false},
		{"throttled", &googleapi.Error{Code: 429}, false},
		{"server error", &googleapi.Error{Code: 500}, false},
		{"network failure", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyDriveError("fetch", "drive://1a2b3c", tc.err)
			if tc.permanent {
				assert.True(t, pkgerrors.IsPermanentConnector(err))
			} else {
				assert.True(t, pkgerrors.IsTransientConnector(err))
			}
		})
	}
}
