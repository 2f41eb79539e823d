package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// hashContent computes the hex SHA-256 of the trimmed content. Leading
// and trailing whitespace never distinguishes two memories.
func hashContent(content string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(digest[:])
}

// clampImportance bounds importance to [0,1].
func clampImportance(importance float64) float64 {
	if importance < 0 {
		return 0
	}
	if importance > 1 {
		return 1
	}
	return importance
}

// validateMetadata rejects non-scalar metadata values. The stores persist
// metadata as flat JSON objects; nested structures would not survive
// filtering or round-trip predictably.
func validateMetadata(metadata map[string]interface{}) error {
	for key, value := range metadata {
		switch value.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("%w: metadata key %q has non-scalar value", ErrInvalidInput, key)
		}
	}
	return nil
}

// validKinds mirrors the Kind constants.
var validKinds = map[Kind]bool{
	KindFact:        true,
	KindPreference:  true,
	KindInteraction: true,
	KindContext:     true,
	KindEntity:      true,
	KindProcedure:   true,
	KindFeedback:    true,
}

// validVisibilities mirrors the Visibility constants.
var validVisibilities = map[Visibility]bool{
	VisibilityUser:    true,
	VisibilityCompany: true,
	VisibilityGlobal:  true,
}

// recordToMemory converts a storage record to the public Memory type.
func recordToMemory(rec *storage.Record) *Memory {
	return &Memory{
		ID:                   rec.ID,
		CompanyID:            rec.CompanyID,
		UserID:               rec.UserID,
		Content:              rec.Content,
		ContentHash:          rec.ContentHash,
		Kind:                 Kind(rec.Kind),
		Visibility:           Visibility(rec.Visibility),
		EntityType:           rec.EntityType,
		EntityID:             rec.EntityID,
		SourceMessageID:      rec.SourceMessageID,
		SourceConversationID: rec.SourceConversationID,
		Importance:           rec.Importance,
		AccessCount:          rec.AccessCount,
		Tags:                 rec.Tags,
		Metadata:             rec.Metadata,
		Score:                rec.Score,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
		LastAccessedAt:       rec.LastAccessedAt,
	}
}

// recordsToMemories converts a slice of storage records.
func recordsToMemories(recs []*storage.Record) []*Memory {
	memories := make([]*Memory, len(recs))
	for i, rec := range recs {
		memories[i] = recordToMemory(rec)
	}
	return memories
}
