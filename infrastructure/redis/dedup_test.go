package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstSeen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewDeduper(rdb)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, first)

	replay, err := d.FirstSeen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, replay, "same id inside the window is a replay")

	other, err := d.FirstSeen(ctx, "msg-2")
	require.NoError(t, err)
	assert.True(t, other)

	// Markers expire after the replay window.
	mr.FastForward(DedupTTL + time.Second)
	again, err := d.FirstSeen(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestFirstSeenRejectsEmptyID(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewDeduper(rdb)

	_, err := d.FirstSeen(context.Background(), "")
	assert.Error(t, err)
}
