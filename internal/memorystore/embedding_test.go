package memorystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbed_Deterministic(t *testing.T) {
	a := HashEmbed("hello world", EmbeddingDimension)
	b := HashEmbed("hello world", EmbeddingDimension)
	assert.Equal(t, a, b)
}

func TestHashEmbed_DifferentTextDifferentVector(t *testing.T) {
	a := HashEmbed("hello", EmbeddingDimension)
	b := HashEmbed("world", EmbeddingDimension)
	assert.NotEqual(t, a, b)
}

func TestHashEmbed_FixedDimension(t *testing.T) {
	for _, dim := range []int{8, 64, 256, 1024} {
		v := HashEmbed("some text", dim)
		require.Len(t, v, dim)
	}
}

func TestCosineSimilarity_IdenticalVectorIsOne(t *testing.T) {
	v := HashEmbed("identical", 32)
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-6)
}
