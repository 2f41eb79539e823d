package local_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byronwade/thorbis-memory/pkg/embedder/local"
)

func TestLocalClient_Deterministic(t *testing.T) {
	client := local.NewClient(64)
	ctx := context.Background()

	first, err := client.Embed(ctx, "Customer prefers morning appointments")
	require.NoError(t, err)
	second, err := client.Embed(ctx, "Customer prefers morning appointments")
	require.NoError(t, err)

	// Identical text always embeds to the identical vector.
	assert.Equal(t, first, second)
}

func TestLocalClient_DifferentTextsDiffer(t *testing.T) {
	client := local.NewClient(64)
	ctx := context.Background()

	a, err := client.Embed(ctx, "gate code is 4417")
	require.NoError(t, err)
	b, err := client.Embed(ctx, "water heater installed 2019")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestLocalClient_UnitNorm(t *testing.T) {
	client := local.NewClient(128)

	vec, err := client.Embed(context.Background(), "some content")
	require.NoError(t, err)
	require.Len(t, vec, 128)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestLocalClient_EmbedBatch(t *testing.T) {
	client := local.NewClient(32)
	ctx := context.Background()

	batch, err := client.EmbedBatch(ctx, []string{"one", "two", "one"})
	require.NoError(t, err)
	require.Len(t, batch, 3)

	assert.Equal(t, batch[0], batch[2])
	assert.NotEqual(t, batch[0], batch[1])
}

func TestLocalClient_DefaultDims(t *testing.T) {
	client := local.NewClient(0)
	assert.Equal(t, local.DefaultDims, client.Dimensions())
}

func TestLocalClient_CancelledContext(t *testing.T) {
	client := local.NewClient(16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Embed(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
