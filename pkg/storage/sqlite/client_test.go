package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byronwade/thorbis-memory/pkg/storage"
	sqliteStore "github.com/byronwade/thorbis-memory/pkg/storage/sqlite"
)

func setupSQLiteTest(t *testing.T) storage.Store {
	t.Helper()

	config := &sqliteStore.Config{
		DBPath:             filepath.Join(t.TempDir(), "test_memories.db"),
		CollectionName:     "memories",
		EmbeddingModelDims: 3,
	}

	store, err := sqliteStore.NewClient(config)
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id int64, companyID, content, contentHash string, embedding []float64) *storage.Record {
	return &storage.Record{
		ID:          id,
		CompanyID:   companyID,
		Content:     content,
		ContentHash: contentHash,
		Embedding:   embedding,
		Kind:        "fact",
		Visibility:  "company",
		Importance:  0.5,
	}
}

func TestSQLiteClient_InsertAndGet(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	rec := testRecord(100, "company_1", "Gate code is 4417", "hash_100", []float64{0.1, 0.2, 0.3})
	rec.EntityType = "property"
	rec.EntityID = "prop_9"
	rec.Tags = []string{"access"}
	rec.Metadata = map[string]interface{}{"source": "phone_call"}

	err := store.Insert(ctx, rec)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), retrieved.ID)
	assert.Equal(t, "company_1", retrieved.CompanyID)
	assert.Equal(t, "Gate code is 4417", retrieved.Content)
	assert.Equal(t, "property", retrieved.EntityType)
	assert.Equal(t, []string{"access"}, retrieved.Tags)
	assert.Equal(t, "phone_call", retrieved.Metadata["source"])
	assert.InDelta(t, 0.2, retrieved.Embedding[1], 1e-9)
	assert.Nil(t, retrieved.DeletedAt)
}

func TestSQLiteClient_Get_NotFound(t *testing.T) {
	store := setupSQLiteTest(t)

	_, err := store.Get(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_DuplicateHash(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	first := testRecord(1, "company_1", "same content", "hash_dup", []float64{1, 0, 0})
	require.NoError(t, store.Insert(ctx, first))

	// Same company, same hash: rejected by the unique index.
	second := testRecord(2, "company_1", "same content", "hash_dup", []float64{1, 0, 0})
	err := store.Insert(ctx, second)
	assert.ErrorIs(t, err, storage.ErrDuplicateHash)

	// Different company, same hash: allowed.
	other := testRecord(3, "company_2", "same content", "hash_dup", []float64{1, 0, 0})
	assert.NoError(t, store.Insert(ctx, other))

	// Soft-deleting the original frees the hash for re-insertion.
	require.NoError(t, store.SoftDelete(ctx, []int64{1}, time.Now()))
	again := testRecord(4, "company_1", "same content", "hash_dup", []float64{1, 0, 0})
	assert.NoError(t, store.Insert(ctx, again))
}

func TestSQLiteClient_FindByHash(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	rec := testRecord(10, "company_1", "find me", "hash_find", []float64{0, 1, 0})
	require.NoError(t, store.Insert(ctx, rec))

	found, err := store.FindByHash(ctx, "company_1", "hash_find")
	require.NoError(t, err)
	assert.Equal(t, int64(10), found.ID)

	// Hash exists only within its company scope.
	_, err = store.FindByHash(ctx, "company_2", "hash_find")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleted records are invisible to hash lookup.
	require.NoError(t, store.SoftDelete(ctx, []int64{10}, time.Now()))
	_, err = store.FindByHash(ctx, "company_1", "hash_find")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_Search(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testRecord(1, "company_1", "east", "h1", []float64{1, 0, 0})))
	require.NoError(t, store.Insert(ctx, testRecord(2, "company_1", "north", "h2", []float64{0, 1, 0})))
	require.NoError(t, store.Insert(ctx, testRecord(3, "company_2", "east elsewhere", "h3", []float64{1, 0, 0})))

	results, err := store.Search(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		CompanyID: "company_1",
		Limit:     10,
		MinScore:  0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestSQLiteClient_Search_VisibilityScope(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	private := testRecord(1, "company_1", "private note", "h1", []float64{1, 0, 0})
	private.Visibility = "user"
	private.UserID = "user_a"
	require.NoError(t, store.Insert(ctx, private))

	shared := testRecord(2, "company_1", "shared note", "h2", []float64{1, 0, 0})
	require.NoError(t, store.Insert(ctx, shared))

	// Without a user, private memories are invisible.
	results, err := store.Search(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		CompanyID: "company_1",
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ID)

	// The owning user sees both.
	results, err = store.Search(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		CompanyID: "company_1",
		UserID:    "user_a",
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// A different user still sees only the shared one.
	results, err = store.Search(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		CompanyID: "company_1",
		UserID:    "user_b",
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ID)
}

func TestSQLiteClient_Search_LimitAndOrder(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testRecord(1, "company_1", "a", "h1", []float64{1, 0, 0})))
	require.NoError(t, store.Insert(ctx, testRecord(2, "company_1", "b", "h2", []float64{0.9, 0.1, 0})))
	require.NoError(t, store.Insert(ctx, testRecord(3, "company_1", "c", "h3", []float64{0.8, 0.2, 0})))

	results, err := store.Search(ctx, []float64{1, 0, 0}, &storage.SearchOptions{
		CompanyID: "company_1",
		Limit:     2,
		MinScore:  0.1,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(2), results[1].ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSQLiteClient_ScanLexical(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	low := testRecord(1, "company_1", "Customer prefers morning visits", "h1", []float64{1, 0, 0})
	low.Importance = 0.3
	require.NoError(t, store.Insert(ctx, low))

	high := testRecord(2, "company_1", "Morning is best for this customer", "h2", []float64{0, 1, 0})
	high.Importance = 0.9
	require.NoError(t, store.Insert(ctx, high))

	require.NoError(t, store.Insert(ctx, testRecord(3, "company_1", "unrelated", "h3", []float64{0, 0, 1})))

	results, err := store.ScanLexical(ctx, "morning", &storage.SearchOptions{
		CompanyID: "company_1",
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Importance decides the order on the lexical path.
	assert.Equal(t, int64(2), results[0].ID)
	assert.Equal(t, int64(1), results[1].ID)
}

func TestSQLiteClient_TouchAccess(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testRecord(1, "company_1", "touched", "h1", []float64{1, 0, 0})))

	now := time.Now().UTC()
	require.NoError(t, store.TouchAccess(ctx, []int64{1}, now))
	require.NoError(t, store.TouchAccess(ctx, []int64{1}, now))

	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.AccessCount)
	require.NotNil(t, rec.LastAccessedAt)
}

func TestSQLiteClient_UpdateImportance(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testRecord(1, "company_1", "x", "h1", []float64{1, 0, 0})))

	require.NoError(t, store.UpdateImportance(ctx, 1, 0.9))
	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, rec.Importance, 1e-9)

	assert.ErrorIs(t, store.UpdateImportance(ctx, 999, 0.5), storage.ErrNotFound)
}

func TestSQLiteClient_MergeCluster(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	canonical := testRecord(1, "company_1", "canonical", "h1", []float64{1, 0, 0})
	canonical.AccessCount = 5
	require.NoError(t, store.Insert(ctx, canonical))
	dup1 := testRecord(2, "company_1", "dup one", "h2", []float64{1, 0, 0})
	dup1.AccessCount = 2
	require.NoError(t, store.Insert(ctx, dup1))
	dup2 := testRecord(3, "company_1", "dup two", "h3", []float64{1, 0, 0})
	require.NoError(t, store.Insert(ctx, dup2))

	err := store.MergeCluster(ctx, &storage.MergePlan{
		CanonicalID:  1,
		AccessCount:  7,
		Importance:   0.8,
		DuplicateIDs: []int64{2, 3},
	})
	require.NoError(t, err)

	merged, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), merged.AccessCount)
	assert.InDelta(t, 0.8, merged.Importance, 1e-9)
	assert.Nil(t, merged.DeletedAt)

	for _, id := range []int64{2, 3} {
		dup, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, dup.DeletedAt)
		require.NotNil(t, dup.ConsolidatedInto)
		assert.Equal(t, int64(1), *dup.ConsolidatedInto)
	}
}

func TestSQLiteClient_MergeCluster_MissingCanonical(t *testing.T) {
	store := setupSQLiteTest(t)

	err := store.MergeCluster(context.Background(), &storage.MergePlan{
		CanonicalID:  42,
		DuplicateIDs: []int64{43},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_Lease(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	lease := &storage.Lease{
		CompanyID: "company_1",
		Job:       "decay",
		Owner:     "owner_a",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.AcquireLease(ctx, lease))

	// A second runner is turned away while the lease is live.
	competing := &storage.Lease{
		CompanyID: "company_1",
		Job:       "decay",
		Owner:     "owner_b",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	assert.ErrorIs(t, store.AcquireLease(ctx, competing), storage.ErrLeaseHeld)

	// A different job for the same company is independent.
	other := &storage.Lease{
		CompanyID: "company_1",
		Job:       "consolidate",
		Owner:     "owner_b",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	assert.NoError(t, store.AcquireLease(ctx, other))

	// Release frees the slot.
	require.NoError(t, store.ReleaseLease(ctx, lease))
	assert.NoError(t, store.AcquireLease(ctx, competing))
}

func TestSQLiteClient_Lease_Expired(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	stale := &storage.Lease{
		CompanyID: "company_1",
		Job:       "decay",
		Owner:     "owner_a",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.AcquireLease(ctx, stale))

	// An expired lease no longer blocks a new runner.
	fresh := &storage.Lease{
		CompanyID: "company_1",
		Job:       "decay",
		Owner:     "owner_b",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	assert.NoError(t, store.AcquireLease(ctx, fresh))
}

func TestSQLiteClient_ListRecords(t *testing.T) {
	store := setupSQLiteTest(t)
	ctx := context.Background()

	a := testRecord(1, "company_1", "a", "h1", []float64{1, 0, 0})
	a.EntityType = "job"
	a.EntityID = "job_1"
	a.Importance = 0.9
	require.NoError(t, store.Insert(ctx, a))

	b := testRecord(2, "company_1", "b", "h2", []float64{1, 0, 0})
	b.EntityType = "job"
	b.EntityID = "job_1"
	b.Importance = 0.2
	require.NoError(t, store.Insert(ctx, b))

	c := testRecord(3, "company_1", "c", "h3", []float64{1, 0, 0})
	c.EntityType = "job"
	c.EntityID = "job_2"
	require.NoError(t, store.Insert(ctx, c))

	records, err := store.ListRecords(ctx, &storage.ListOptions{
		CompanyID:  "company_1",
		EntityType: "job",
		EntityID:   "job_1",
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, int64(2), records[1].ID)

	// Deleted records drop out unless explicitly included.
	require.NoError(t, store.SoftDelete(ctx, []int64{1}, time.Now()))
	records, err = store.ListRecords(ctx, &storage.ListOptions{
		CompanyID:  "company_1",
		EntityType: "job",
		EntityID:   "job_1",
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = store.ListRecords(ctx, &storage.ListOptions{
		CompanyID:      "company_1",
		EntityType:     "job",
		EntityID:       "job_1",
		Limit:          10,
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
