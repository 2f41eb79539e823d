package sqlite

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// buildScopeClause builds the WHERE clause shared by Search and ScanLexical:
// company scope, liveness, visibility rules and the optional scalar filters.
func buildScopeClause(opts *storage.SearchOptions) (string, []interface{}) {
	conditions := []string{"company_id = ?", "deleted_at IS NULL"}
	args := []interface{}{opts.CompanyID}

	switch {
	case opts.Visibility != "":
		conditions = append(conditions, "visibility = ?")
		args = append(args, opts.Visibility)
		if opts.Visibility == "user" && opts.UserID != "" {
			conditions = append(conditions, "user_id = ?")
			args = append(args, opts.UserID)
		}
	case opts.UserID != "":
		conditions = append(conditions, "(visibility != 'user' OR user_id = ?)")
		args = append(args, opts.UserID)
	default:
		conditions = append(conditions, "visibility != 'user'")
	}

	if len(opts.Kinds) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(opts.Kinds)), ",")
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", placeholders))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}

	if opts.EntityType != "" && opts.EntityID != "" {
		conditions = append(conditions, "entity_type = ?", "entity_id = ?")
		args = append(args, opts.EntityType, opts.EntityID)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildListClause builds the WHERE clause for ListRecords.
func buildListClause(opts *storage.ListOptions) (string, []interface{}) {
	conditions := []string{"company_id = ?"}
	args := []interface{}{opts.CompanyID}

	if !opts.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.Kinds) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(opts.Kinds)), ",")
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", placeholders))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}
	if opts.EntityType != "" && opts.EntityID != "" {
		conditions = append(conditions, "entity_type = ?", "entity_id = ?")
		args = append(args, opts.EntityType, opts.EntityID)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// int64Placeholders expands ids into a "?, ?, ..." list plus its args.
func int64Placeholders(ids []int64) (string, []interface{}) {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders, args
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched dimensions or zero-norm vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topByScore sorts records by score descending and truncates to limit.
func topByScore(records []*storage.Record, limit int) []*storage.Record {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
