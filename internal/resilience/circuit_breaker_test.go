package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute)
	failing := func() error { return errors.New("boom") }

	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateClosed, cb.GetState())

	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}
