package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeJoin_RejectsEscape(t *testing.T) {
	_, err := SafeJoin("/tmp/root", "../../etc/passwd")
	require.Error(t, err)
}

func TestSafeJoin_AllowsNestedPath(t *testing.T) {
	p, err := SafeJoin("/tmp/root", "src/main.py")
	require.NoError(t, err)
	assert.Contains(t, p, "root/src/main.py")
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	r := NewRegistry()
	attempts := 0
	r.Register(Definition{
		Name:       "flaky",
		MaxRetries: 3,
		TimeoutS:   time.Second,
		Fn: func(ctx context.Context, args map[string]string) (string, error) {
			attempts++
			if attempts < 2 {
				return "", errors.New("boom")
			}
			return "ok", nil
		},
	})

	result := Execute(context.Background(), r, "flaky", nil)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Retries)
}

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRegistry()
	result := Execute(context.Background(), r, "nope", nil)
	assert.False(t, result.Success)
}
