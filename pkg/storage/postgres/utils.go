package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// buildScopeClause renders the tenant scope filter shared by Search and
// ScanLexical. Placeholders start at argIndex so callers can prepend their
// own arguments.
func buildScopeClause(opts *storage.SearchOptions, argIndex int) (string, []interface{}) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}

	next := func() int {
		n := argIndex + len(args)
		return n
	}

	conditions = append(conditions, fmt.Sprintf("company_id = $%d", next()))
	args = append(args, opts.CompanyID)

	switch {
	case opts.Visibility != "":
		conditions = append(conditions, fmt.Sprintf("visibility = $%d", next()))
		args = append(args, opts.Visibility)
	case opts.UserID != "":
		conditions = append(conditions, fmt.Sprintf("(visibility != 'user' OR user_id = $%d)", next()))
		args = append(args, opts.UserID)
	default:
		conditions = append(conditions, "visibility != 'user'")
	}

	if len(opts.Kinds) > 0 {
		conditions = append(conditions, fmt.Sprintf("kind = ANY($%d)", next()))
		args = append(args, pq.Array(opts.Kinds))
	}

	if opts.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", next()))
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", next()))
		args = append(args, opts.EntityID)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildListClause renders the filter for ListRecords.
func buildListClause(opts *storage.ListOptions) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	next := func() int { return len(args) + 1 }

	if !opts.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}

	conditions = append(conditions, fmt.Sprintf("company_id = $%d", next()))
	args = append(args, opts.CompanyID)

	if opts.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", next()))
		args = append(args, opts.UserID)
	}
	if len(opts.Kinds) > 0 {
		conditions = append(conditions, fmt.Sprintf("kind = ANY($%d)", next()))
		args = append(args, pq.Array(opts.Kinds))
	}
	if opts.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", next()))
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", next()))
		args = append(args, opts.EntityID)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// vectorToString renders a vector in pgvector's input format.
func vectorToString(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding decodes both pgvector text output and the JSONB scalar
// fallback. Both render as a bracketed number list.
func parseEmbedding(text string) ([]float64, error) {
	var embedding []float64
	if err := json.Unmarshal([]byte(text), &embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	return embedding, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (c *Client) scanRecord(row scanner) (*storage.Record, error) {
	rec := &storage.Record{}
	var (
		userID, entityType, entityID         sql.NullString
		sourceMessageID, sourceConversation  sql.NullString
		embeddingText, tagsJSON, metadataJSON sql.NullString
		createdAt, updatedAt                 time.Time
		lastAccessedAt, deletedAt            sql.NullTime
		consolidatedInto                     sql.NullInt64
	)

	err := row.Scan(
		&rec.ID, &rec.CompanyID, &userID, &rec.Content, &rec.ContentHash,
		&embeddingText, &rec.Kind, &rec.Visibility, &entityType, &entityID,
		&sourceMessageID, &sourceConversation,
		&rec.Importance, &rec.AccessCount, &tagsJSON, &metadataJSON,
		&createdAt, &updatedAt, &lastAccessedAt, &deletedAt, &consolidatedInto,
	)
	if err != nil {
		return nil, err
	}

	return c.fillRecord(rec, userID, entityType, entityID, sourceMessageID, sourceConversation,
		embeddingText, tagsJSON, metadataJSON, createdAt, updatedAt, lastAccessedAt, deletedAt, consolidatedInto)
}

func (c *Client) scanRecordWithScore(row scanner) (*storage.Record, error) {
	rec := &storage.Record{}
	var (
		userID, entityType, entityID         sql.NullString
		sourceMessageID, sourceConversation  sql.NullString
		embeddingText, tagsJSON, metadataJSON sql.NullString
		createdAt, updatedAt                 time.Time
		lastAccessedAt, deletedAt            sql.NullTime
		consolidatedInto                     sql.NullInt64
	)

	err := row.Scan(
		&rec.ID, &rec.CompanyID, &userID, &rec.Content, &rec.ContentHash,
		&embeddingText, &rec.Kind, &rec.Visibility, &entityType, &entityID,
		&sourceMessageID, &sourceConversation,
		&rec.Importance, &rec.AccessCount, &tagsJSON, &metadataJSON,
		&createdAt, &updatedAt, &lastAccessedAt, &deletedAt, &consolidatedInto,
		&rec.Score,
	)
	if err != nil {
		return nil, err
	}

	return c.fillRecord(rec, userID, entityType, entityID, sourceMessageID, sourceConversation,
		embeddingText, tagsJSON, metadataJSON, createdAt, updatedAt, lastAccessedAt, deletedAt, consolidatedInto)
}

func (c *Client) fillRecord(rec *storage.Record,
	userID, entityType, entityID, sourceMessageID, sourceConversation sql.NullString,
	embeddingText, tagsJSON, metadataJSON sql.NullString,
	createdAt, updatedAt time.Time,
	lastAccessedAt, deletedAt sql.NullTime,
	consolidatedInto sql.NullInt64,
) (*storage.Record, error) {
	rec.UserID = userID.String
	rec.EntityType = entityType.String
	rec.EntityID = entityID.String
	rec.SourceMessageID = sourceMessageID.String
	rec.SourceConversationID = sourceConversation.String
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt

	if embeddingText.Valid && embeddingText.String != "" {
		embedding, err := parseEmbedding(embeddingText.String)
		if err != nil {
			return nil, err
		}
		rec.Embedding = embedding
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		rec.LastAccessedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		rec.DeletedAt = &t
	}
	if consolidatedInto.Valid {
		v := consolidatedInto.Int64
		rec.ConsolidatedInto = &v
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
