package mysql

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

func buildScopeClause(opts *storage.SearchOptions) (string, []interface{}) {
	conditions := []string{"deleted_at IS NULL", "company_id = ?"}
	args := []interface{}{opts.CompanyID}

	switch {
	case opts.Visibility != "":
		conditions = append(conditions, "visibility = ?")
		args = append(args, opts.Visibility)
	case opts.UserID != "":
		conditions = append(conditions, "(visibility != 'user' OR user_id = ?)")
		args = append(args, opts.UserID)
	default:
		conditions = append(conditions, "visibility != 'user'")
	}

	if len(opts.Kinds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Kinds)), ",")
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", placeholders))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}

	if opts.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, opts.EntityID)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func buildListClause(opts *storage.ListOptions) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if !opts.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	conditions = append(conditions, "company_id = ?")
	args = append(args, opts.CompanyID)

	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.Kinds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Kinds)), ",")
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", placeholders))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}
	if opts.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, opts.EntityID)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func int64Placeholders(ids []int64) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders, args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*storage.Record, error) {
	rec := &storage.Record{}
	var (
		userID, entityType, entityID          sql.NullString
		sourceMessageID, sourceConversation   sql.NullString
		embeddingJSON, tagsJSON, metadataJSON sql.NullString
		createdAt, updatedAt                  time.Time
		lastAccessedAt, deletedAt             sql.NullTime
		consolidatedInto                      sql.NullInt64
	)

	err := row.Scan(
		&rec.ID, &rec.CompanyID, &userID, &rec.Content, &rec.ContentHash,
		&embeddingJSON, &rec.Kind, &rec.Visibility, &entityType, &entityID,
		&sourceMessageID, &sourceConversation,
		&rec.Importance, &rec.AccessCount, &tagsJSON, &metadataJSON,
		&createdAt, &updatedAt, &lastAccessedAt, &deletedAt, &consolidatedInto,
	)
	if err != nil {
		return nil, err
	}

	rec.UserID = userID.String
	rec.EntityType = entityType.String
	rec.EntityID = entityID.String
	rec.SourceMessageID = sourceMessageID.String
	rec.SourceConversationID = sourceConversation.String
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &rec.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
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
