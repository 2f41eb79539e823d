package postgres_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byronwade/thorbis-memory/pkg/storage"
	postgresStore "github.com/byronwade/thorbis-memory/pkg/storage/postgres"
)

// setupPostgresTest connects to the database named by POSTGRES_TEST_* and
// skips when none is configured, so the suite passes without a server.
func setupPostgresTest(t *testing.T) *postgresStore.Client {
	t.Helper()

	host := os.Getenv("POSTGRES_TEST_HOST")
	if host == "" {
		t.Skip("POSTGRES_TEST_HOST not set, skipping PostgreSQL tests")
	}
	port, _ := strconv.Atoi(os.Getenv("POSTGRES_TEST_PORT"))
	if port == 0 {
		port = 5432
	}

	store, err := postgresStore.NewClient(&postgresStore.Config{
		Host:               host,
		Port:               port,
		User:               getenvDefault("POSTGRES_TEST_USER", "postgres"),
		Password:           os.Getenv("POSTGRES_TEST_PASSWORD"),
		DBName:             getenvDefault("POSTGRES_TEST_DATABASE", "thorbismem_test"),
		CollectionName:     "memories_test",
		EmbeddingModelDims: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestPostgresClient_InsertAndFindByHash(t *testing.T) {
	store := setupPostgresTest(t)
	ctx := context.Background()

	rec := &storage.Record{
		ID:          time.Now().UnixNano(),
		CompanyID:   "company_pg",
		Content:     "postgres roundtrip",
		ContentHash: strconv.FormatInt(time.Now().UnixNano(), 16),
		Embedding:   []float64{1, 0, 0},
		Kind:        "fact",
		Visibility:  "company",
	}
	require.NoError(t, store.Insert(ctx, rec))
	t.Cleanup(func() { _ = store.SoftDelete(ctx, []int64{rec.ID}, time.Now()) })

	found, err := store.FindByHash(ctx, "company_pg", rec.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, "postgres roundtrip", found.Content)
	assert.InDelta(t, 1.0, found.Embedding[0], 1e-6)

	// Same hash in scope is rejected.
	dup := *rec
	dup.ID = rec.ID + 1
	assert.ErrorIs(t, store.Insert(ctx, &dup), storage.ErrDuplicateHash)
}

func TestPostgresClient_SearchOrVectorUnavailable(t *testing.T) {
	store := setupPostgresTest(t)
	ctx := context.Background()

	rec := &storage.Record{
		ID:          time.Now().UnixNano(),
		CompanyID:   "company_pg_search",
		Content:     "vector search target",
		ContentHash: strconv.FormatInt(time.Now().UnixNano(), 16),
		Embedding:   []float64{0, 1, 0},
		Kind:        "fact",
		Visibility:  "company",
	}
	require.NoError(t, store.Insert(ctx, rec))
	t.Cleanup(func() { _ = store.SoftDelete(ctx, []int64{rec.ID}, time.Now()) })

	results, err := store.Search(ctx, []float64{0, 1, 0}, &storage.SearchOptions{
		CompanyID: "company_pg_search",
		Limit:     10,
		MinScore:  0.5,
	})
	if !store.VectorCapable() {
		assert.ErrorIs(t, err, storage.ErrVectorSearchUnavailable)
		return
	}
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, rec.ID, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestPostgresClient_Lease(t *testing.T) {
	store := setupPostgresTest(t)
	ctx := context.Background()

	lease := &storage.Lease{
		CompanyID: "company_pg_lease",
		Job:       "decay",
		Owner:     "owner_a",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.AcquireLease(ctx, lease))
	t.Cleanup(func() { _ = store.ReleaseLease(ctx, lease) })

	competing := &storage.Lease{
		CompanyID: "company_pg_lease",
		Job:       "decay",
		Owner:     "owner_b",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	assert.ErrorIs(t, store.AcquireLease(ctx, competing), storage.ErrLeaseHeld)
}
