// Package postgres provides the PostgreSQL implementation of the memory
// store, using pgvector for native cosine similarity queries.
//
// The pgvector extension is probed once at startup. When it is missing the
// store still works as a scalar backend (embeddings persisted as JSONB) but
// Search reports storage.ErrVectorSearchUnavailable, which routes callers
// to the lexical fallback path.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// Client implements storage.Store on top of PostgreSQL.
type Client struct {
	db            *sql.DB
	table         string
	dims          int
	vectorCapable bool
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	CollectionName     string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient connects to PostgreSQL, probes for pgvector and prepares the
// schema.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	table := cfg.CollectionName
	if table == "" {
		table = "memories"
	}

	client := &Client{db: db, table: table, dims: cfg.EmbeddingModelDims}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	// Capability probe: without pgvector the store degrades to scalar
	// mode instead of failing startup.
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err == nil {
		c.vectorCapable = true
	}

	embeddingType := "JSONB"
	if c.vectorCapable {
		embeddingType = fmt.Sprintf("vector(%d)", c.dims)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			company_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255),
			content TEXT NOT NULL,
			content_hash CHAR(64) NOT NULL,
			embedding %s NOT NULL,
			kind VARCHAR(32) NOT NULL,
			visibility VARCHAR(16) NOT NULL DEFAULT 'company',
			entity_type VARCHAR(32),
			entity_id VARCHAR(255),
			source_message_id VARCHAR(255),
			source_conversation_id VARCHAR(255),
			importance FLOAT NOT NULL DEFAULT 0.5,
			access_count BIGINT NOT NULL DEFAULT 0,
			tags JSONB,
			metadata JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at TIMESTAMP,
			deleted_at TIMESTAMP,
			consolidated_into BIGINT
		)
	`, c.table, embeddingType)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	hashIndex := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_company_hash
		ON %s (company_id, content_hash) WHERE deleted_at IS NULL
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, hashIndex); err != nil {
		return fmt.Errorf("initTables: create hash index: %w", err)
	}

	entityIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_company_entity
		ON %s (company_id, entity_type, entity_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, entityIndex); err != nil {
		return fmt.Errorf("initTables: create entity index: %w", err)
	}

	leases := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_leases (
			company_id VARCHAR(255) NOT NULL,
			job VARCHAR(32) NOT NULL,
			owner VARCHAR(64) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			PRIMARY KEY (company_id, job)
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, leases); err != nil {
		return fmt.Errorf("initTables: create lease table: %w", err)
	}

	return nil
}

// VectorCapable reports whether pgvector was available at startup.
func (c *Client) VectorCapable() bool {
	return c.vectorCapable
}

const recordColumns = `id, company_id, user_id, content, content_hash, embedding::text,
	kind, visibility, entity_type, entity_id, source_message_id, source_conversation_id,
	importance, access_count, tags, metadata,
	created_at, updated_at, last_accessed_at, deleted_at, consolidated_into`

// Insert persists a new record; a duplicate (company_id, content_hash)
// writer receives storage.ErrDuplicateHash from the partial unique index.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	embeddingVal, err := c.encodeEmbedding(rec.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, company_id, user_id, content, content_hash, embedding, kind, visibility,
		 entity_type, entity_id, source_message_id, source_conversation_id,
		 importance, access_count, tags, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, c.table)

	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx, query,
		rec.ID, rec.CompanyID, nullString(rec.UserID), rec.Content, rec.ContentHash,
		embeddingVal, rec.Kind, rec.Visibility,
		nullString(rec.EntityType), nullString(rec.EntityID),
		nullString(rec.SourceMessageID), nullString(rec.SourceConversationID),
		rec.Importance, rec.AccessCount, string(tagsJSON), string(metadataJSON), now, now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return storage.ErrDuplicateHash
		}
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// FindByHash returns the live record with the given content hash in scope.
func (c *Client) FindByHash(ctx context.Context, companyID, contentHash string) (*storage.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE company_id = $1 AND content_hash = $2 AND deleted_at IS NULL
	`, recordColumns, c.table)

	rec, err := c.scanRecord(c.db.QueryRowContext(ctx, query, companyID, contentHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindByHash: %w", err)
	}
	return rec, nil
}

// Get returns a record by ID, deleted or not.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", recordColumns, c.table)

	rec, err := c.scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// Search runs a native pgvector cosine query. `<=>` is cosine distance, so
// similarity = 1 - distance for unit vectors.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	if !c.vectorCapable {
		return nil, storage.ErrVectorSearchUnavailable
	}

	whereClause, args := buildScopeClause(opts, 2)
	args = append([]interface{}{vectorToString(embedding)}, args...)

	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM %s
		%s AND 1 - (embedding <=> $1) >= %f
		ORDER BY embedding <=> $1
	`, recordColumns, c.table, whereClause, opts.MinScore)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := c.scanRecordWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	return records, nil
}

// ScanLexical is the degraded path: ILIKE substring match ordered by
// importance.
func (c *Client) ScanLexical(ctx context.Context, queryText string, opts *storage.SearchOptions) ([]*storage.Record, error) {
	whereClause, args := buildScopeClause(opts, 1)
	args = append(args, "%"+queryText+"%")
	whereClause += fmt.Sprintf(" AND content ILIKE $%d", len(args))

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY importance DESC, last_accessed_at DESC NULLS LAST
	`, recordColumns, c.table, whereClause)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ScanLexical: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := c.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ScanLexical: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ScanLexical: %w", err)
	}
	return records, nil
}

// TouchAccess bumps access counters and refreshes last_accessed_at.
func (c *Client) TouchAccess(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = ANY($2)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, query, at.UTC(), pq.Array(ids)); err != nil {
		return fmt.Errorf("TouchAccess: %w", err)
	}
	return nil
}

// UpdateImportance sets the importance of a record.
func (c *Client) UpdateImportance(ctx context.Context, id int64, importance float64) error {
	query := fmt.Sprintf("UPDATE %s SET importance = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL", c.table)
	result, err := c.db.ExecContext(ctx, query, importance, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("UpdateImportance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateImportance: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateEmbedding replaces the stored embedding of a record.
func (c *Client) UpdateEmbedding(ctx context.Context, id int64, embedding []float64) error {
	embeddingVal, err := c.encodeEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("UpdateEmbedding: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET embedding = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL", c.table)
	result, err := c.db.ExecContext(ctx, query, embeddingVal, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("UpdateEmbedding: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateEmbedding: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SoftDelete marks records as deleted.
func (c *Client) SoftDelete(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE %s SET deleted_at = $1 WHERE id = ANY($2) AND deleted_at IS NULL", c.table)
	if _, err := c.db.ExecContext(ctx, query, at.UTC(), pq.Array(ids)); err != nil {
		return fmt.Errorf("SoftDelete: %w", err)
	}
	return nil
}

// ListRecords range-scans records for maintenance and entity reads.
func (c *Client) ListRecords(ctx context.Context, opts *storage.ListOptions) ([]*storage.Record, error) {
	whereClause, args := buildListClause(opts)

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY importance DESC, created_at DESC
	`, recordColumns, c.table, whereClause)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListRecords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := c.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRecords: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRecords: %w", err)
	}
	return records, nil
}

// MergeCluster commits a consolidation merge atomically.
func (c *Client) MergeCluster(ctx context.Context, plan *storage.MergePlan) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("MergeCluster: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	canonical := fmt.Sprintf(`
		UPDATE %s SET access_count = $1, importance = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`, c.table)
	result, err := tx.ExecContext(ctx, canonical, plan.AccessCount, plan.Importance, now, plan.CanonicalID)
	if err != nil {
		return fmt.Errorf("MergeCluster: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("MergeCluster: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	duplicates := fmt.Sprintf(`
		UPDATE %s SET deleted_at = $1, consolidated_into = $2
		WHERE id = ANY($3) AND deleted_at IS NULL
	`, c.table)
	if _, err := tx.ExecContext(ctx, duplicates, now, plan.CanonicalID, pq.Array(plan.DuplicateIDs)); err != nil {
		return fmt.Errorf("MergeCluster: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("MergeCluster: %w", err)
	}
	return nil
}

// AcquireLease takes the exclusive (company, job) maintenance lease.
func (c *Client) AcquireLease(ctx context.Context, lease *storage.Lease) error {
	expire := fmt.Sprintf("DELETE FROM %s_leases WHERE company_id = $1 AND job = $2 AND expires_at <= $3", c.table)
	if _, err := c.db.ExecContext(ctx, expire, lease.CompanyID, lease.Job, time.Now().UTC()); err != nil {
		return fmt.Errorf("AcquireLease: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s_leases (company_id, job, owner, expires_at) VALUES ($1, $2, $3, $4)", c.table)
	_, err := c.db.ExecContext(ctx, insert, lease.CompanyID, lease.Job, lease.Owner, lease.ExpiresAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return storage.ErrLeaseHeld
		}
		return fmt.Errorf("AcquireLease: %w", err)
	}
	return nil
}

// ReleaseLease drops the lease if still owned by the caller.
func (c *Client) ReleaseLease(ctx context.Context, lease *storage.Lease) error {
	query := fmt.Sprintf("DELETE FROM %s_leases WHERE company_id = $1 AND job = $2 AND owner = $3", c.table)
	if _, err := c.db.ExecContext(ctx, query, lease.CompanyID, lease.Job, lease.Owner); err != nil {
		return fmt.Errorf("ReleaseLease: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// encodeEmbedding renders the vector in the column's native format.
func (c *Client) encodeEmbedding(embedding []float64) (string, error) {
	if c.vectorCapable {
		return vectorToString(embedding), nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
