// Package sqlite provides the SQLite implementation of the memory store.
//
// SQLite is a file-based backend suitable for local development and small
// deployments. Embeddings are stored as JSON strings in TEXT fields and
// similarity search computes cosine similarity in memory over the scoped
// rows, so this backend always has vector capability.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// Client implements storage.Store on top of SQLite.
type Client struct {
	db    *sql.DB
	table string
	dims  int
}

// Config contains configuration for the SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the table name holding memory records.
	CollectionName string

	// EmbeddingModelDims is the embedding dimension.
	EmbeddingModelDims int
}

// NewClient opens (and if needed creates) the SQLite database and prepares
// the schema, including the partial unique index that enforces the
// per-company content hash invariant among live rows.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
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
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			company_id TEXT NOT NULL,
			user_id TEXT,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding TEXT NOT NULL,
			kind TEXT NOT NULL,
			visibility TEXT NOT NULL DEFAULT 'company',
			entity_type TEXT,
			entity_id TEXT,
			source_message_id TEXT,
			source_conversation_id TEXT,
			importance REAL NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_accessed_at DATETIME,
			deleted_at DATETIME,
			consolidated_into INTEGER
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	// Dedup invariant: unique among live rows only, so a soft-deleted
	// record never blocks re-storing the same content.
	hashIndex := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_company_hash
		ON %s(company_id, content_hash) WHERE deleted_at IS NULL
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, hashIndex); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	entityIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_company_entity
		ON %s(company_id, entity_type, entity_id)
	`, c.table, c.table)
	if _, err := c.db.ExecContext(ctx, entityIndex); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	leases := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_leases (
			company_id TEXT NOT NULL,
			job TEXT NOT NULL,
			owner TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			PRIMARY KEY (company_id, job)
		)
	`, c.table)
	if _, err := c.db.ExecContext(ctx, leases); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

const recordColumns = `id, company_id, user_id, content, content_hash, embedding,
	kind, visibility, entity_type, entity_id, source_message_id, source_conversation_id,
	importance, access_count, tags, metadata,
	created_at, updated_at, last_accessed_at, deleted_at, consolidated_into`

// Insert persists a new record. A concurrent writer of the same
// (company_id, content_hash) receives storage.ErrDuplicateHash from the
// unique index rather than creating a second row.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	embeddingJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	tagsJSON, metadataJSON, err := marshalAux(rec)
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
		rec.ID, rec.CompanyID, rec.UserID, rec.Content, rec.ContentHash,
		string(embeddingJSON), rec.Kind, rec.Visibility,
		rec.EntityType, rec.EntityID, rec.SourceMessageID, rec.SourceConversationID,
		rec.Importance, rec.AccessCount, tagsJSON, metadataJSON, now, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
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
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", recordColumns, c.table)

	rec, err := c.scanRecord(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// Search loads the scoped rows and computes cosine similarity in memory.
// SQLite has no native vector operations, but the table is local so a scan
// is acceptable at this backend's scale.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*storage.Record, error) {
	whereClause, args := buildScopeClause(opts)

	query := fmt.Sprintf("SELECT %s FROM %s %s", recordColumns, c.table, whereClause)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.Record
	for rows.Next() {
		rec, err := c.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}
		score := cosineSimilarity(embedding, rec.Embedding)
		if score >= opts.MinScore {
			rec.Score = score
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	return topByScore(records, opts.Limit), nil
}

// ScanLexical is the degraded path: substring match ordered by importance.
// SQLite LIKE is case-insensitive for ASCII by default.
func (c *Client) ScanLexical(ctx context.Context, queryText string, opts *storage.SearchOptions) ([]*storage.Record, error) {
	whereClause, args := buildScopeClause(opts)
	whereClause += " AND content LIKE ?"
	args = append(args, "%"+queryText+"%")

	query := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY importance DESC, last_accessed_at DESC
	`, recordColumns, c.table, whereClause)
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
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

// SoftDelete marks records as deleted. Deleted is terminal.
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
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
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

// MergeCluster commits a consolidation merge atomically: the canonical
// update and every duplicate soft-delete succeed or fail together.
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

	placeholders, args := int64Placeholders(plan.DuplicateIDs)
	args = append([]interface{}{now, plan.CanonicalID}, args...)
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

// AcquireLease takes the exclusive (company, job) maintenance lease. The
// check-then-insert race resolves through the primary key, the same way the
// dedup insert resolves through the hash index.
func (c *Client) AcquireLease(ctx context.Context, lease *storage.Lease) error {
	expire := fmt.Sprintf("DELETE FROM %s_leases WHERE company_id = ? AND job = ? AND expires_at <= ?", c.table)
	if _, err := c.db.ExecContext(ctx, expire, lease.CompanyID, lease.Job, time.Now().UTC()); err != nil {
		return fmt.Errorf("AcquireLease: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s_leases (company_id, job, owner, expires_at) VALUES (?, ?, ?, ?)", c.table)
	_, err := c.db.ExecContext(ctx, insert, lease.CompanyID, lease.Job, lease.Owner, lease.ExpiresAt.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
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

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanRecord(s scanner) (*storage.Record, error) {
	var (
		rec              storage.Record
		userID           sql.NullString
		entityType       sql.NullString
		entityID         sql.NullString
		sourceMessage    sql.NullString
		sourceConvo      sql.NullString
		embeddingStr     string
		tagsStr          sql.NullString
		metadataStr      sql.NullString
		lastAccessedAt   sql.NullTime
		deletedAt        sql.NullTime
		consolidatedInto sql.NullInt64
	)

	err := s.Scan(
		&rec.ID, &rec.CompanyID, &userID, &rec.Content, &rec.ContentHash, &embeddingStr,
		&rec.Kind, &rec.Visibility, &entityType, &entityID, &sourceMessage, &sourceConvo,
		&rec.Importance, &rec.AccessCount, &tagsStr, &metadataStr,
		&rec.CreatedAt, &rec.UpdatedAt, &lastAccessedAt, &deletedAt, &consolidatedInto,
	)
	if err != nil {
		return nil, err
	}

	rec.UserID = userID.String
	rec.EntityType = entityType.String
	rec.EntityID = entityID.String
	rec.SourceMessageID = sourceMessage.String
	rec.SourceConversationID = sourceConvo.String

	if err := json.Unmarshal([]byte(embeddingStr), &rec.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	if tagsStr.Valid && tagsStr.String != "" {
		if err := json.Unmarshal([]byte(tagsStr.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if metadataStr.Valid && metadataStr.String != "" {
		if err := json.Unmarshal([]byte(metadataStr.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		rec.LastAccessedAt = &lastAccessedAt.Time
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	if consolidatedInto.Valid {
		v := consolidatedInto.Int64
		rec.ConsolidatedInto = &v
	}
	return &rec, nil
}

func marshalAux(rec *storage.Record) (tags string, metadata string, err error) {
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", "", err
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", "", err
	}
	return string(tagsJSON), string(metadataJSON), nil
}
