// Package core provides the main Thorbis memory client.
package core

import "time"

// Kind categorizes what a memory captures.
type Kind string

// Memory kinds.
const (
	// KindFact is a durable statement about the world.
	KindFact Kind = "fact"

	// KindPreference records how a user or company likes things done.
	KindPreference Kind = "preference"

	// KindInteraction summarizes a conversation or exchange.
	KindInteraction Kind = "interaction"

	// KindContext captures situational background.
	KindContext Kind = "context"

	// KindEntity describes a business entity directly.
	KindEntity Kind = "entity"

	// KindProcedure records how to perform a task.
	KindProcedure Kind = "procedure"

	// KindFeedback records corrections and ratings from users.
	KindFeedback Kind = "feedback"
)

// Visibility controls who can read a memory within a company.
type Visibility string

// Visibility scopes.
const (
	// VisibilityUser restricts a memory to its owning user.
	VisibilityUser Visibility = "user"

	// VisibilityCompany shares a memory with the whole company.
	VisibilityCompany Visibility = "company"

	// VisibilityGlobal marks a memory readable across companies that
	// opt in to shared knowledge.
	VisibilityGlobal Visibility = "global"
)

// Entity types a memory can attach to.
const (
	EntityCustomer   = "customer"
	EntityJob        = "job"
	EntityProperty   = "property"
	EntityEquipment  = "equipment"
	EntityInvoice    = "invoice"
	EntityEstimate   = "estimate"
	EntityTeamMember = "team_member"
)

// Named importance levels.
const (
	ImportanceLow    = 0.3
	ImportanceMedium = 0.6
	ImportanceHigh   = 0.9
)

// Memory represents a single stored memory.
type Memory struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// CompanyID is the tenant that owns the memory.
	CompanyID string `json:"company_id"`

	// UserID identifies the user the memory belongs to, if any.
	UserID string `json:"user_id,omitempty"`

	// Content is the memory text.
	Content string `json:"content"`

	// ContentHash is the hex SHA-256 of the trimmed content.
	ContentHash string `json:"content_hash"`

	// Kind categorizes the memory.
	Kind Kind `json:"kind"`

	// Visibility controls who can read the memory.
	Visibility Visibility `json:"visibility"`

	// EntityType and EntityID attach the memory to a business entity.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// SourceMessageID and SourceConversationID record provenance.
	SourceMessageID      string `json:"source_message_id,omitempty"`
	SourceConversationID string `json:"source_conversation_id,omitempty"`

	// Importance weighs the memory in ranking and retention. Range [0,1].
	Importance float64 `json:"importance"`

	// AccessCount is the number of times the memory was returned by reads.
	AccessCount int64 `json:"access_count"`

	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`

	// Metadata holds scalar-valued annotations.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Score is the similarity score from a search, if any.
	Score float64 `json:"score,omitempty"`

	// CreatedAt and UpdatedAt are set by the store.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LastAccessedAt is the time of the most recent read, if any.
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// SearchResult is the outcome of a Search call.
type SearchResult struct {
	// Memories are the matches in rank order.
	Memories []*Memory `json:"memories"`

	// Approximate is true when vector search was unavailable and the
	// results came from the lexical fallback. Scores are then a fixed
	// neutral value rather than real similarities.
	Approximate bool `json:"approximate"`
}

// StoreOutcome reports what a Store call did.
type StoreOutcome struct {
	// Memory is the stored or pre-existing memory.
	Memory *Memory `json:"memory"`

	// Deduplicated is true when the content already existed in scope and
	// no new memory was created.
	Deduplicated bool `json:"deduplicated"`
}

// BatchResult carries the per-item outcomes of a StoreBatch call.
//
// Items are in input order. A failed item has Err set and a nil Outcome;
// other items are unaffected.
type BatchResult struct {
	Outcomes []*BatchItem `json:"outcomes"`
}

// BatchItem is the result of a single item in a StoreBatch call.
type BatchItem struct {
	Outcome *StoreOutcome `json:"outcome,omitempty"`
	Err     error         `json:"-"`
}
