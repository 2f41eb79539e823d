package core_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byronwade/thorbis-memory/pkg/core"
	"github.com/byronwade/thorbis-memory/pkg/embedder"
	"github.com/byronwade/thorbis-memory/pkg/embedder/local"
	sqliteStore "github.com/byronwade/thorbis-memory/pkg/storage/sqlite"
)

// countingEmbedder wraps a provider and counts Embed calls, proving when
// the write path skips embedding.
type countingEmbedder struct {
	embedder.Provider
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	c.calls++
	return c.Provider.Embed(ctx, text)
}

func newTestClient(t *testing.T) *core.Client {
	t.Helper()
	client, _ := newTestClientCounting(t)
	return client
}

func newTestClientCounting(t *testing.T) (*core.Client, *countingEmbedder) {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:             filepath.Join(t.TempDir(), "core_test.db"),
		EmbeddingModelDims: 32,
	})
	require.NoError(t, err)

	counter := &countingEmbedder{Provider: local.NewClient(32)}

	client, err := core.NewClient(&core.Config{
		Embedder:    core.EmbedderConfig{Provider: "local", Dimensions: 32},
		VectorStore: core.VectorStoreConfig{Provider: "sqlite"},
	}, core.WithStore(store), core.WithEmbedder(counter))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })
	return client, counter
}

func TestClient_StoreAndGet(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	outcome, err := client.Store(ctx, "company_1", "Gate code is 4417",
		core.WithKind(core.KindFact),
		core.WithEntity(core.EntityProperty, "prop_9"),
		core.WithImportance(core.ImportanceHigh),
		core.WithTags("access"),
		core.WithMetadata(map[string]interface{}{"source": "phone_call"}),
	)
	require.NoError(t, err)
	require.NotNil(t, outcome.Memory)
	assert.False(t, outcome.Deduplicated)
	assert.NotZero(t, outcome.Memory.ID)
	assert.Equal(t, "company_1", outcome.Memory.CompanyID)
	assert.Equal(t, core.KindFact, outcome.Memory.Kind)
	assert.Equal(t, core.VisibilityCompany, outcome.Memory.Visibility)
	assert.InDelta(t, core.ImportanceHigh, outcome.Memory.Importance, 1e-9)
	assert.Len(t, outcome.Memory.ContentHash, 64)

	got, err := client.Get(ctx, outcome.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gate code is 4417", got.Content)
	assert.Equal(t, "phone_call", got.Metadata["source"])
}

func TestClient_Store_Deduplicates(t *testing.T) {
	client, counter := newTestClientCounting(t)
	ctx := context.Background()

	first, err := client.Store(ctx, "company_1", "Customer prefers mornings")
	require.NoError(t, err)
	require.Equal(t, 1, counter.calls)

	// Identical content, even with surrounding whitespace, is one memory
	// and costs no second embedding call.
	second, err := client.Store(ctx, "company_1", "  Customer prefers mornings  ")
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Memory.ID, second.Memory.ID)
	assert.Equal(t, 1, counter.calls)

	// The same content in another company is a distinct memory.
	other, err := client.Store(ctx, "company_2", "Customer prefers mornings")
	require.NoError(t, err)
	assert.False(t, other.Deduplicated)
	assert.NotEqual(t, first.Memory.ID, other.Memory.ID)
}

func TestClient_Store_RefreshEmbedding(t *testing.T) {
	client, counter := newTestClientCounting(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "company_1", "stable content")
	require.NoError(t, err)
	require.Equal(t, 1, counter.calls)

	outcome, err := client.Store(ctx, "company_1", "stable content", core.WithRefreshEmbedding())
	require.NoError(t, err)
	assert.True(t, outcome.Deduplicated)
	assert.Equal(t, 2, counter.calls)
}

func TestClient_Store_Validation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		companyID string
		content   string
		opts      []core.StoreOption
	}{
		{"empty company", "", "content", nil},
		{"blank content", "company_1", "   \n\t  ", nil},
		{"oversized content", "company_1", strings.Repeat("x", 2001), nil},
		{"unknown kind", "company_1", "content", []core.StoreOption{core.WithKind("rumor")}},
		{"unknown visibility", "company_1", "content", []core.StoreOption{core.WithVisibility("secret")}},
		{"user visibility without user", "company_1", "content", []core.StoreOption{core.WithVisibility(core.VisibilityUser)}},
		{"entity type without id", "company_1", "content", []core.StoreOption{core.WithEntity(core.EntityJob, "")}},
		{"nested metadata", "company_1", "content", []core.StoreOption{
			core.WithMetadata(map[string]interface{}{"nested": map[string]interface{}{"x": 1}}),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.Store(ctx, tc.companyID, tc.content, tc.opts...)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}
}

func TestClient_Store_ContentLengthCap(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Content at the default cap stores; one character past it does not.
	_, err := client.Store(ctx, "company_1", strings.Repeat("x", 2000))
	require.NoError(t, err)
	_, err = client.Store(ctx, "company_1", strings.Repeat("y", 2001))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	// The cap counts characters, not bytes.
	_, err = client.Store(ctx, "company_1", strings.Repeat("ü", 2000))
	require.NoError(t, err)
}

func TestClient_Store_CustomContentCap(t *testing.T) {
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:             filepath.Join(t.TempDir(), "cap_test.db"),
		EmbeddingModelDims: 32,
	})
	require.NoError(t, err)

	client, err := core.NewClient(&core.Config{
		Embedder:         core.EmbedderConfig{Provider: "local", Dimensions: 32},
		VectorStore:      core.VectorStoreConfig{Provider: "sqlite"},
		MaxContentLength: 10,
	}, core.WithStore(store), core.WithEmbedder(local.NewClient(32)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	_, err = client.Store(ctx, "company_1", "short note")
	require.NoError(t, err)
	_, err = client.Store(ctx, "company_1", "eleven chars")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestClient_Store_ImportanceClamped(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	high, err := client.Store(ctx, "company_1", "too important", core.WithImportance(3.5))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, high.Memory.Importance, 1e-9)

	low, err := client.Store(ctx, "company_1", "negative importance", core.WithImportance(-2))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, low.Memory.Importance, 1e-9)
}

func TestClient_StoreBatch_IsolatesFailures(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	result, err := client.StoreBatch(ctx, "company_1", []core.StoreItem{
		{Content: "first valid memory"},
		{Content: "   "},
		{Content: "second valid memory"},
	})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	assert.NoError(t, result.Outcomes[0].Err)
	assert.NotNil(t, result.Outcomes[0].Outcome)
	assert.ErrorIs(t, result.Outcomes[1].Err, core.ErrInvalidInput)
	assert.Nil(t, result.Outcomes[1].Outcome)
	assert.NoError(t, result.Outcomes[2].Err)
}

func TestClient_Search_RoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	stored, err := client.Store(ctx, "company_1", "Customer prefers morning appointments")
	require.NoError(t, err)
	_, err = client.Store(ctx, "company_1", "Water heater installed in 2019")
	require.NoError(t, err)

	// The deterministic embedder maps identical text to the identical
	// vector, so searching with the stored content is an exact match.
	result, err := client.Search(ctx, "company_1", "Customer prefers morning appointments",
		core.WithMinSimilarity(0.99))
	require.NoError(t, err)
	assert.False(t, result.Approximate)
	require.NotEmpty(t, result.Memories)
	assert.Equal(t, stored.Memory.ID, result.Memories[0].ID)
	assert.InDelta(t, 1.0, result.Memories[0].Score, 1e-6)
}

func TestClient_Search_CompanyIsolation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "company_1", "visible only to company one")
	require.NoError(t, err)

	result, err := client.Search(ctx, "company_2", "visible only to company one",
		core.WithMinSimilarity(0.99))
	require.NoError(t, err)
	assert.Empty(t, result.Memories)
}

func TestClient_Search_UserScope(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "company_1", "private reminder for alice",
		core.WithVisibility(core.VisibilityUser),
		core.WithUserID("alice"))
	require.NoError(t, err)

	// Company-wide search never surfaces another user's private memory.
	result, err := client.Search(ctx, "company_1", "private reminder for alice",
		core.WithMinSimilarity(0.99))
	require.NoError(t, err)
	assert.Empty(t, result.Memories)

	// The owner's search does.
	result, err = client.Search(ctx, "company_1", "private reminder for alice",
		core.WithMinSimilarity(0.99),
		core.WithUserIDForSearch("alice"))
	require.NoError(t, err)
	assert.Len(t, result.Memories, 1)
}

func TestClient_Search_ExplicitZeroLimit(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "company_1", "anything at all")
	require.NoError(t, err)

	result, err := client.Search(ctx, "company_1", "anything at all", core.WithLimit(0))
	require.NoError(t, err)
	assert.NotNil(t, result.Memories)
	assert.Empty(t, result.Memories)
}

func TestClient_Search_Validation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Search(ctx, "", "query")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = client.Search(ctx, "company_1", "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestClient_Delete_FreesHash(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	first, err := client.Store(ctx, "company_1", "deletable content")
	require.NoError(t, err)

	require.NoError(t, client.Delete(ctx, first.Memory.ID))

	// Deleted memories leave search scope.
	result, err := client.Search(ctx, "company_1", "deletable content",
		core.WithMinSimilarity(0.99))
	require.NoError(t, err)
	assert.Empty(t, result.Memories)

	// Re-storing the same content creates a fresh memory.
	second, err := client.Store(ctx, "company_1", "deletable content")
	require.NoError(t, err)
	assert.False(t, second.Deduplicated)
	assert.NotEqual(t, first.Memory.ID, second.Memory.ID)
}

func TestClient_UpdateImportance(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	outcome, err := client.Store(ctx, "company_1", "importance target")
	require.NoError(t, err)

	require.NoError(t, client.UpdateImportance(ctx, outcome.Memory.ID, 2.0))
	got, err := client.Get(ctx, outcome.Memory.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Importance, 1e-9)

	assert.ErrorIs(t, client.UpdateImportance(ctx, 99999, 0.5), core.ErrNotFound)
}

func TestClient_ListByEntity(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Store(ctx, "company_1", "thermostat replaced",
		core.WithEntity(core.EntityProperty, "prop_1"),
		core.WithImportance(core.ImportanceHigh))
	require.NoError(t, err)
	_, err = client.Store(ctx, "company_1", "owner travels in winter",
		core.WithEntity(core.EntityProperty, "prop_1"),
		core.WithImportance(core.ImportanceLow))
	require.NoError(t, err)
	_, err = client.Store(ctx, "company_1", "different property note",
		core.WithEntity(core.EntityProperty, "prop_2"))
	require.NoError(t, err)

	memories, err := client.ListByEntity(ctx, "company_1", core.EntityProperty, "prop_1")
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "thermostat replaced", memories[0].Content)

	_, err = client.ListByEntity(ctx, "company_1", "", "prop_1")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestClient_OpenAIWithoutKeyFallsBack(t *testing.T) {
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath:             filepath.Join(t.TempDir(), "fallback_test.db"),
		EmbeddingModelDims: 1536,
	})
	require.NoError(t, err)

	// A remote provider with no credential degrades to local embeddings
	// instead of failing construction.
	client, err := core.NewClient(&core.Config{
		Embedder:    core.EmbedderConfig{Provider: "openai"},
		VectorStore: core.VectorStoreConfig{Provider: "sqlite"},
	}, core.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	stored, err := client.Store(ctx, "company_1", "works without a remote credential")
	require.NoError(t, err)

	result, err := client.Search(ctx, "company_1", "works without a remote credential",
		core.WithMinSimilarity(0.99))
	require.NoError(t, err)
	require.NotEmpty(t, result.Memories)
	assert.Equal(t, stored.Memory.ID, result.Memories[0].ID)
}

func TestClient_Get_NotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Get(context.Background(), 424242)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
