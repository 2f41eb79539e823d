package core

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/byronwade/thorbis-memory/pkg/embedder"
	localEmbedder "github.com/byronwade/thorbis-memory/pkg/embedder/local"
	openaiEmbedder "github.com/byronwade/thorbis-memory/pkg/embedder/openai"
	"github.com/byronwade/thorbis-memory/pkg/storage"
	mysqlStore "github.com/byronwade/thorbis-memory/pkg/storage/mysql"
	postgresStore "github.com/byronwade/thorbis-memory/pkg/storage/postgres"
	sqliteStore "github.com/byronwade/thorbis-memory/pkg/storage/sqlite"
)

// lexicalScore is the fixed neutral score attached to lexical fallback
// matches, where no real similarity exists.
const lexicalScore = 0.5

// defaultMaxContentLength caps stored content, in characters, when the
// configuration does not set its own limit.
const defaultMaxContentLength = 2000

// Client is the main memory client.
//
// It provides a complete interface for storing, searching, and managing
// company-scoped memories with support for:
//   - Content-hash deduplication (identical content is stored once)
//   - Vector similarity search with a lexical fallback
//   - Entity-attached memories (customers, jobs, properties, ...)
//   - Deferred access bookkeeping
//
// The client is thread-safe and can be used concurrently from multiple
// goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	outcome, _ := client.Store(ctx, "company_1", "Customer prefers morning appointments",
//	    core.WithKind(core.KindPreference),
//	    core.WithEntity(core.EntityCustomer, "cust_042"),
//	)
type Client struct {
	config   *Config
	storage  storage.Store
	embedder embedder.Provider
	access   *accessTracker
	logger   *zap.Logger

	// maxContentLen bounds stored content length in characters.
	maxContentLen int

	// snowflakeNode generates unique IDs for memories.
	snowflakeNode *snowflake.Node
}

// ClientOption customizes client construction.
type ClientOption func(*Client)

// WithLogger sets the client logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithStore injects a pre-built storage backend, bypassing the
// VectorStore configuration.
func WithStore(store storage.Store) ClientOption {
	return func(c *Client) {
		c.storage = store
	}
}

// WithEmbedder injects a pre-built embedding provider, bypassing the
// Embedder configuration.
func WithEmbedder(provider embedder.Provider) ClientOption {
	return func(c *Client) {
		c.embedder = provider
	}
}

// NewClient creates a new memory client.
//
// The client is initialized with:
//   - Vector store (SQLite, PostgreSQL, or MySQL)
//   - Embedding provider (OpenAI-compatible remote with a deterministic
//     local fallback, so writes survive provider outages)
//
// Returns a new Client instance, or an error if initialization fails.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{config: cfg}
	for _, opt := range opts {
		opt(client)
	}
	if client.logger == nil {
		client.logger = zap.NewNop()
	}
	client.maxContentLen = cfg.MaxContentLength
	if client.maxContentLen <= 0 {
		client.maxContentLen = defaultMaxContentLength
	}

	if client.storage == nil {
		store, err := initStorage(cfg.VectorStore)
		if err != nil {
			return nil, err
		}
		client.storage = store
	}

	if client.embedder == nil {
		provider, err := initEmbedder(cfg.Embedder, client.logger)
		if err != nil {
			return nil, err
		}
		client.embedder = provider
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}
	client.snowflakeNode = node
	client.access = newAccessTracker(client.storage, client.logger)

	return client, nil
}

// Store persists a memory for a company.
//
// The method:
//  1. Validates and normalizes the input
//  2. Hashes the trimmed content and checks for an existing live memory
//     with the same hash in the company scope
//  3. On a hit, returns the existing memory without generating an
//     embedding (Deduplicated is true)
//  4. Otherwise generates an embedding and inserts the memory
//
// Two concurrent writers of identical content converge on one stored
// memory; the loser of the insert race receives the winner's memory.
//
// Example:
//
//	outcome, err := client.Store(ctx, "company_1", "Gate code is 4417",
//	    core.WithKind(core.KindFact),
//	    core.WithEntity(core.EntityProperty, "prop_9"),
//	    core.WithImportance(core.ImportanceHigh),
//	)
func (c *Client) Store(ctx context.Context, companyID, content string, opts ...StoreOption) (*StoreOutcome, error) {
	storeOpts := applyStoreOptions(opts)

	if err := c.validateStore(companyID, content, storeOpts); err != nil {
		return nil, NewMemoryError("Store", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("Store", err)
	}

	contentHash := hashContent(content)

	// Hash check before embedding: a dedup hit never pays for an
	// embedding call.
	existing, err := c.storage.FindByHash(ctx, companyID, contentHash)
	if err == nil {
		return c.dedupOutcome(ctx, existing, storeOpts)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, NewMemoryError("Store", err)
	}

	vector, err := c.embedder.Embed(ctx, strings.TrimSpace(content))
	if err != nil {
		return nil, NewMemoryError("Store", err)
	}

	rec := &storage.Record{
		ID:                   c.snowflakeNode.Generate().Int64(),
		CompanyID:            companyID,
		UserID:               storeOpts.UserID,
		Content:              strings.TrimSpace(content),
		ContentHash:          contentHash,
		Embedding:            vector,
		Kind:                 string(storeOpts.Kind),
		Visibility:           string(storeOpts.Visibility),
		EntityType:           storeOpts.EntityType,
		EntityID:             storeOpts.EntityID,
		SourceMessageID:      storeOpts.SourceMessageID,
		SourceConversationID: storeOpts.SourceConversationID,
		Importance:           clampImportance(storeOpts.Importance),
		Tags:                 storeOpts.Tags,
		Metadata:             storeOpts.Metadata,
	}

	err = c.storage.Insert(ctx, rec)
	if errors.Is(err, storage.ErrDuplicateHash) {
		// Lost the insert race: the winner's memory is the result.
		winner, findErr := c.storage.FindByHash(ctx, companyID, contentHash)
		if findErr != nil {
			return nil, NewMemoryError("Store", findErr)
		}
		return c.dedupOutcome(ctx, winner, storeOpts)
	}
	if err != nil {
		return nil, NewMemoryError("Store", err)
	}

	stored, err := c.storage.Get(ctx, rec.ID)
	if err != nil {
		return nil, NewMemoryError("Store", err)
	}

	c.logger.Debug("memory stored",
		zap.Int64("id", rec.ID),
		zap.String("company_id", companyID),
		zap.String("kind", rec.Kind))

	return &StoreOutcome{Memory: recordToMemory(stored)}, nil
}

// dedupOutcome finalizes a Store call that hit an existing memory.
func (c *Client) dedupOutcome(ctx context.Context, existing *storage.Record, opts *StoreOptions) (*StoreOutcome, error) {
	if opts.RefreshEmbedding {
		vector, err := c.embedder.Embed(ctx, existing.Content)
		if err != nil {
			return nil, NewMemoryError("Store", err)
		}
		if err := c.storage.UpdateEmbedding(ctx, existing.ID, vector); err != nil {
			return nil, NewMemoryError("Store", err)
		}
		existing.Embedding = vector
	}

	c.access.Record(ctx, []int64{existing.ID})
	return &StoreOutcome{Memory: recordToMemory(existing), Deduplicated: true}, nil
}

// StoreItem is one entry in a StoreBatch call.
type StoreItem struct {
	Content string
	Options []StoreOption
}

// StoreBatch stores multiple memories, isolating per-item failures.
//
// Each item is processed independently: one invalid or failing item does
// not affect the others. Outcomes are returned in input order.
//
// Example:
//
//	result, _ := client.StoreBatch(ctx, "company_1", []core.StoreItem{
//	    {Content: "Customer prefers text over calls"},
//	    {Content: "Water heater installed 2019", Options: []core.StoreOption{
//	        core.WithEntity(core.EntityProperty, "prop_9"),
//	    }},
//	})
func (c *Client) StoreBatch(ctx context.Context, companyID string, items []StoreItem) (*BatchResult, error) {
	result := &BatchResult{Outcomes: make([]*BatchItem, len(items))}
	for i, item := range items {
		outcome, err := c.Store(ctx, companyID, item.Content, item.Options...)
		result.Outcomes[i] = &BatchItem{Outcome: outcome, Err: err}
	}
	return result, nil
}

// Search finds memories similar to the query within a company scope.
//
// The method:
//  1. Embeds the query and runs a vector similarity search
//  2. Falls back to a case-insensitive lexical scan when the backend has
//     no vector capability (the result is marked Approximate and scores
//     are a fixed neutral value)
//  3. Ranks results by similarity, breaking near-ties by importance
//  4. Records the read against each returned memory
//
// By default only company-visible memories are searched; pass
// WithUserIDForSearch to include a user's private memories.
//
// Example:
//
//	result, err := client.Search(ctx, "company_1", "appointment preferences",
//	    core.WithUserIDForSearch("user_001"),
//	    core.WithKinds(core.KindPreference),
//	    core.WithLimit(5),
//	)
func (c *Client) Search(ctx context.Context, companyID, query string, opts ...SearchOption) (*SearchResult, error) {
	searchOpts := applySearchOptions(opts)

	if companyID == "" {
		return nil, NewMemoryError("Search", ErrInvalidInput)
	}
	if strings.TrimSpace(query) == "" {
		return nil, NewMemoryError("Search", ErrInvalidInput)
	}
	// An explicit non-positive limit asks for nothing.
	if searchOpts.limitSet && searchOpts.Limit <= 0 {
		return &SearchResult{Memories: []*Memory{}}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, NewMemoryError("Search", err)
	}

	storageOpts := &storage.SearchOptions{
		CompanyID:  companyID,
		UserID:     searchOpts.UserID,
		Visibility: string(searchOpts.Visibility),
		Kinds:      kindsToStrings(searchOpts.Kinds),
		EntityType: searchOpts.EntityType,
		EntityID:   searchOpts.EntityID,
		Limit:      searchOpts.Limit,
		MinScore:   searchOpts.MinScore,
	}

	vector, err := c.embedder.Embed(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, NewMemoryError("Search", err)
	}

	records, err := c.storage.Search(ctx, vector, storageOpts)
	approximate := false
	if errors.Is(err, storage.ErrVectorSearchUnavailable) {
		records, err = c.storage.ScanLexical(ctx, strings.TrimSpace(query), storageOpts)
		if err != nil {
			return nil, NewMemoryError("Search", err)
		}
		for _, rec := range records {
			rec.Score = lexicalScore
		}
		approximate = true
		c.logger.Debug("vector search unavailable, using lexical scan",
			zap.String("company_id", companyID))
	} else if err != nil {
		return nil, NewMemoryError("Search", err)
	}

	memories := recordsToMemories(records)
	rankResults(memories)

	ids := make([]int64, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	c.access.Record(ctx, ids)

	return &SearchResult{Memories: memories, Approximate: approximate}, nil
}

// Get retrieves a memory by ID.
func (c *Client) Get(ctx context.Context, id int64) (*Memory, error) {
	rec, err := c.storage.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, NewMemoryError("Get", ErrNotFound)
	}
	if err != nil {
		return nil, NewMemoryError("Get", err)
	}
	return recordToMemory(rec), nil
}

// ListByEntity returns memories attached to a business entity, ordered by
// importance then recency.
//
// Example:
//
//	memories, err := client.ListByEntity(ctx, "company_1", core.EntityJob, "job_17",
//	    core.WithLimitForList(50))
func (c *Client) ListByEntity(ctx context.Context, companyID, entityType, entityID string, opts ...ListOption) ([]*Memory, error) {
	listOpts := applyListOptions(opts)

	if companyID == "" || entityType == "" || entityID == "" {
		return nil, NewMemoryError("ListByEntity", ErrInvalidInput)
	}

	records, err := c.storage.ListRecords(ctx, &storage.ListOptions{
		CompanyID:  companyID,
		UserID:     listOpts.UserID,
		Kinds:      kindsToStrings(listOpts.Kinds),
		EntityType: entityType,
		EntityID:   entityID,
		Limit:      listOpts.Limit,
		Offset:     listOpts.Offset,
	})
	if err != nil {
		return nil, NewMemoryError("ListByEntity", err)
	}
	return recordsToMemories(records), nil
}

// UpdateImportance changes the importance of a memory. Values outside
// [0,1] are clamped.
func (c *Client) UpdateImportance(ctx context.Context, id int64, importance float64) error {
	err := c.storage.UpdateImportance(ctx, id, clampImportance(importance))
	if errors.Is(err, storage.ErrNotFound) {
		return NewMemoryError("UpdateImportance", ErrNotFound)
	}
	return NewMemoryError("UpdateImportance", err)
}

// Delete soft-deletes memories by ID. Deleted memories leave search
// scope immediately; their content hash is freed for re-insertion.
func (c *Client) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return NewMemoryError("Delete", c.storage.SoftDelete(ctx, ids, time.Now().UTC()))
}

// Storage exposes the underlying storage backend for maintenance runners.
func (c *Client) Storage() storage.Store {
	return c.storage
}

// Close flushes pending access bookkeeping and releases resources.
func (c *Client) Close() error {
	if c.access != nil {
		c.access.Close()
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			return NewMemoryError("Close", err)
		}
	}
	if c.storage != nil {
		return NewMemoryError("Close", c.storage.Close())
	}
	return nil
}

// validateStore checks Store inputs.
func (c *Client) validateStore(companyID, content string, opts *StoreOptions) error {
	if companyID == "" {
		return ErrInvalidInput
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrInvalidInput
	}
	if utf8.RuneCountInString(trimmed) > c.maxContentLen {
		return ErrInvalidInput
	}
	if !validKinds[opts.Kind] {
		return ErrInvalidInput
	}
	if !validVisibilities[opts.Visibility] {
		return ErrInvalidInput
	}
	if opts.Visibility == VisibilityUser && opts.UserID == "" {
		return ErrInvalidInput
	}
	if (opts.EntityType == "") != (opts.EntityID == "") {
		return ErrInvalidInput
	}
	return validateMetadata(opts.Metadata)
}

// initStorage initializes the vector store backend.
func initStorage(cfg VectorStoreConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:             getConfigString(cfg.Config, "db_path", "./thorbismem.db"),
			CollectionName:     getConfigString(cfg.Config, "collection_name", "memories"),
			EmbeddingModelDims: getConfigInt(cfg.Config, "embedding_model_dims", 1536),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               getConfigString(cfg.Config, "host", "localhost"),
			Port:               getConfigInt(cfg.Config, "port", 5432),
			User:               getConfigString(cfg.Config, "user", "postgres"),
			Password:           getConfigString(cfg.Config, "password", ""),
			DBName:             getConfigString(cfg.Config, "db_name", "thorbismem"),
			CollectionName:     getConfigString(cfg.Config, "collection_name", "memories"),
			EmbeddingModelDims: getConfigInt(cfg.Config, "embedding_model_dims", 1536),
			SSLMode:            getConfigString(cfg.Config, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:           getConfigString(cfg.Config, "host", "127.0.0.1"),
			Port:           getConfigInt(cfg.Config, "port", 3306),
			User:           getConfigString(cfg.Config, "user", "root"),
			Password:       getConfigString(cfg.Config, "password", ""),
			DBName:         getConfigString(cfg.Config, "db_name", "thorbismem"),
			CollectionName: getConfigString(cfg.Config, "collection_name", "memories"),
		})
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}
}

// initEmbedder initializes the embedding provider chain. The remote
// provider is optional; the deterministic local provider always backs it.
func initEmbedder(cfg EmbedderConfig, logger *zap.Logger) (embedder.Provider, error) {
	fallback := localEmbedder.NewClient(cfg.Dimensions)

	var remote embedder.Provider
	if cfg.Provider == "openai" {
		if cfg.APIKey == "" {
			// A missing credential degrades to local embeddings instead
			// of failing construction.
			logger.Warn("no embedding API key configured, using local fallback embeddings")
		} else {
			client, err := openaiEmbedder.NewClient(&embedder.Config{
				Provider: cfg.Provider,
				APIKey:   cfg.APIKey,
				BaseURL:  cfg.BaseURL,
				Model:    cfg.Model,
				Dims:     cfg.Dimensions,
			})
			if err != nil {
				return nil, NewMemoryError("initEmbedder", err)
			}
			remote = client
		}
	}

	cache, err := embedder.NewCache(cfg.CacheSize)
	if err != nil {
		return nil, NewMemoryError("initEmbedder", err)
	}

	return embedder.NewFailover(remote, fallback, cache, logger), nil
}

func kindsToStrings(kinds []Kind) []string {
	if len(kinds) == 0 {
		return nil
	}
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// getConfigString extracts a string from provider-specific configuration.
func getConfigString(config map[string]interface{}, key, defaultValue string) string {
	if value, ok := config[key].(string); ok && value != "" {
		return value
	}
	return defaultValue
}

// getConfigInt extracts an int from provider-specific configuration.
// JSON decoding produces float64, so both are accepted.
func getConfigInt(config map[string]interface{}, key string, defaultValue int) int {
	switch value := config[key].(type) {
	case int:
		return value
	case float64:
		return int(value)
	default:
		return defaultValue
	}
}
