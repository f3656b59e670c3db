package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay_CappedExponential(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, RetryDelay(base, 0))
	assert.Equal(t, 2*time.Second, RetryDelay(base, 1))
	assert.Equal(t, 4*time.Second, RetryDelay(base, 2))
	assert.Equal(t, 32*time.Second, RetryDelay(base, 10), "must cap at 32s")
}

func TestMemoryIdempotencyStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdempotencyStore()

	seen, err := s.IsSeen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkSeen(ctx, "k1", time.Minute))

	seen, err = s.IsSeen(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryIdempotencyStore_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdempotencyStore()
	require.NoError(t, s.MarkSeen(ctx, "k1", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	seen, err := s.IsSeen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "expired keys must not be reported as seen")
}
