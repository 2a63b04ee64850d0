package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder(128)
	ctx := context.Background()

	a, err := e.Embed(ctx, "the user prefers dark roast coffee")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the user prefers dark roast coffee")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestLocalEmbedderL2Normalized(t *testing.T) {
	e := NewLocalEmbedder(64)

	vec, err := e.Embed(context.Background(), "some text with several distinct tokens")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalEmbedderEmptyInputNonZero(t *testing.T) {
	e := NewLocalEmbedder(32)

	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.Greater(t, norm, 0.0, "embeddings must be L2-nonzero even for empty input")
}

func TestLocalEmbedderSimilarTextsCloserThanUnrelated(t *testing.T) {
	e := NewLocalEmbedder(256)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "deploy the staging server tonight")
	b, _ := e.Embed(ctx, "deploy the staging server tomorrow")
	c, _ := e.Embed(ctx, "grandma's lasagna recipe ingredients")

	simAB := cosineSimilarity(a, b)
	simAC := cosineSimilarity(a, c)
	assert.Greater(t, simAB, simAC)
}

func TestLocalEmbedderDefaultDim(t *testing.T) {
	e := NewLocalEmbedder(0)
	assert.Equal(t, 256, e.Dim())
}
