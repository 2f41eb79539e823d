// Package mysql provides the MySQL implementation of the memory store.
//
// MySQL has no native vector search, so this backend is scalar-only:
// Search reports storage.ErrVectorSearchUnavailable and callers degrade to
// the lexical fallback path. Embeddings are still persisted as JSON so
// maintenance jobs can read them back.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// Client implements storage.Store on top of MySQL.
type Client struct {
	db    *sql.DB
	table string
}

// Config contains MySQL configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
}

// NewClient connects to MySQL and prepares the schema.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	table := cfg.CollectionName
	if table == "" {
		table = "memories"
	}

	client := &Client{db: db, table: table}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	// active_hash is NULL for deleted rows, so the unique key only
	// guards live records. MySQL has no partial indexes.
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			company_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255),
			content TEXT NOT NULL,
			content_hash CHAR(64) NOT NULL,
			embedding JSON NOT NULL,
			kind VARCHAR(32) NOT NULL,
			visibility VARCHAR(16) NOT NULL DEFAULT 'company',
			entity_type VARCHAR(32),
			entity_id VARCHAR(255),
			source_message_id VARCHAR(255),
			source_conversation_id VARCHAR(255),
			importance DOUBLE NOT NULL DEFAULT 0.5,
			access_count BIGINT NOT NULL DEFAULT 0,
			tags JSON,
			metadata JSON,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at TIMESTAMP NULL,
			deleted_at TIMESTAMP NULL,
			consolidated_into BIGINT,
			active_hash CHAR(64) AS (IF(deleted_at IS NULL, content_hash, NULL)) STORED,
			UNIQUE KEY uniq_%s_company_hash (company_id, active_hash),
			KEY idx_%s_company_entity (company_id, entity_type, entity_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`, c.table, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	leases := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_leases (
			company_id VARCHAR(255) NOT NULL,
			job VARCHAR(32) NOT NULL,
			owner VARCHAR(64) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			PRIMARY KEY (company_id, job)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`, c.table)
	if _, err := c.db.ExecContext(ctx, leases); err != nil {
		return fmt.Errorf("initTables: create lease table: %w", err)
	}

	return nil
}

const recordColumns = `id, company_id, user_id, content, content_hash, embedding,
	kind, visibility, entity_type, entity_id, source_message_id, source_conversation_id,
	importance, access_count, tags, metadata,
	created_at, updated_at, last_accessed_at, deleted_at, consolidated_into`

// Insert persists a new record; a duplicate (company_id, content_hash)
// writer receives storage.ErrDuplicateHash.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	embeddingJSON, err := json.Marshal(rec.Embedding)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.table)

	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx, query,
		rec.ID, rec.CompanyID, nullString(rec.UserID), rec.Content, rec.ContentHash,
		string(embeddingJSON), rec.Kind, rec.Visibility,
		nullString(rec.EntityType), nullString(rec.EntityID),
		nullString(rec.SourceMessageID), nullString(rec.SourceConversationID),
		rec.Importance, rec.AccessCount, string(tagsJSON), string(metadataJSON), now, now,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
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
		WHERE company_id = ? AND content_hash = ? AND deleted_at IS NULL
	`, recordColumns, c.table)

	rec, err := scanRecord(c.db.QueryRowContext(ctx, query, companyID, contentHash))
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
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", recordColumns, c.table)

	rec, err := scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// Search reports that this backend has no vector capability.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	return nil, storage.ErrVectorSearchUnavailable
}

// ScanLexical is the degraded path: case-insensitive substring match
// ordered by importance. utf8mb4 collation makes LIKE case-insensitive.
func (c *Client) ScanLexical(ctx context.Context, queryText string, opts *storage.SearchOptions) ([]*storage.Record, error) {
	whereClause, args := buildScopeClause(opts)
	whereClause += " AND content LIKE ?"
	args = append(args, "%"+queryText+"%")

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY importance DESC, last_accessed_at DESC
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
		rec, err := scanRecord(rows)
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
	placeholders, args := int64Placeholders(ids)
	args = append([]interface{}{at.UTC()}, args...)

	query := fmt.Sprintf(`
		UPDATE %s SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (%s)
	`, c.table, placeholders)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("TouchAccess: %w", err)
	}
	return nil
}

// UpdateImportance sets the importance of a record.
func (c *Client) UpdateImportance(ctx context.Context, id int64, importance float64) error {
	query := fmt.Sprintf("UPDATE %s SET importance = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL", c.table)
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
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("UpdateEmbedding: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET embedding = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL", c.table)
	result, err := c.db.ExecContext(ctx, query, string(embeddingJSON), time.Now().UTC(), id)
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
	placeholders, args := int64Placeholders(ids)
	args = append([]interface{}{at.UTC()}, args...)

	query := fmt.Sprintf("UPDATE %s SET deleted_at = ? WHERE id IN (%s) AND deleted_at IS NULL", c.table, placeholders)
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
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
		rec, err := scanRecord(rows)
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
		UPDATE %s SET access_count = ?, importance = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
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

	placeholders, idArgs := int64Placeholders(plan.DuplicateIDs)
	args := append([]interface{}{now, plan.CanonicalID}, idArgs...)
	duplicates := fmt.Sprintf(`
		UPDATE %s SET deleted_at = ?, consolidated_into = ?
		WHERE id IN (%s) AND deleted_at IS NULL
	`, c.table, placeholders)
	if _, err := tx.ExecContext(ctx, duplicates, args...); err != nil {
		return fmt.Errorf("MergeCluster: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("MergeCluster: %w", err)
	}
	return nil
}

// AcquireLease takes the exclusive (company, job) maintenance lease.
func (c *Client) AcquireLease(ctx context.Context, lease *storage.Lease) error {
	expire := fmt.Sprintf("DELETE FROM %s_leases WHERE company_id = ? AND job = ? AND expires_at <= ?", c.table)
	if _, err := c.db.ExecContext(ctx, expire, lease.CompanyID, lease.Job, time.Now().UTC()); err != nil {
		return fmt.Errorf("AcquireLease: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s_leases (company_id, job, owner, expires_at) VALUES (?, ?, ?, ?)", c.table)
	_, err := c.db.ExecContext(ctx, insert, lease.CompanyID, lease.Job, lease.Owner, lease.ExpiresAt.UTC())
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return storage.ErrLeaseHeld
		}
		return fmt.Errorf("AcquireLease: %w", err)
	}
	return nil
}

// ReleaseLease drops the lease if still owned by the caller.
func (c *Client) ReleaseLease(ctx context.Context, lease *storage.Lease) error {
	query := fmt.Sprintf("DELETE FROM %s_leases WHERE company_id = ? AND job = ? AND owner = ?", c.table)
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
