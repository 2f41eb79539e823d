// Package storage defines the persistence contract for memory records.
//
// It declares the Store interface that all backends (SQLite, PostgreSQL,
// MySQL) must satisfy, along with the record type and query options. The
// package is independent of core to avoid circular dependencies.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors reported by Store implementations.
var (
	// ErrNotFound indicates that no record matched the query.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateHash indicates that an insert hit the uniqueness
	// constraint on (company_id, content_hash) among live rows. Callers
	// treat this as "the record already exists", not as a failure.
	ErrDuplicateHash = errors.New("duplicate content hash")

	// ErrVectorSearchUnavailable indicates that the backend cannot execute
	// a vector similarity query (no vector index or extension). Callers
	// are expected to degrade to ScanLexical.
	ErrVectorSearchUnavailable = errors.New("vector search unavailable")

	// ErrLeaseHeld indicates that a maintenance lease for the requested
	// (company, job) pair is currently held by another runner.
	ErrLeaseHeld = errors.New("maintenance lease held")
)

// Record is a memory row as persisted by a backend.
//
// This type mirrors core.Memory; it exists here so backends do not import
// the core package.
type Record struct {
	// ID is the unique identifier of the record. Never reused, even after
	// soft deletion.
	ID int64

	// CompanyID is the tenant isolation boundary. Every query is scoped
	// by it.
	CompanyID string

	// UserID is the owning user. Only meaningful when Visibility is "user".
	UserID string

	// Content is the memory text.
	Content string

	// ContentHash is the hex SHA-256 digest of the trimmed content, unique
	// per company among non-deleted rows.
	ContentHash string

	// Embedding is the unit-normalized vector for similarity search.
	Embedding []float64

	// Kind is the memory category (fact, preference, ...).
	Kind string

	// Visibility is "user", "company" or "global".
	Visibility string

	// EntityType and EntityID optionally link the record to a domain
	// object such as a customer or a job.
	EntityType string
	EntityID   string

	// SourceMessageID and SourceConversationID are provenance
	// back-references. Never used for ownership or filtering.
	SourceMessageID      string
	SourceConversationID string

	// Importance is a ranking weight in [0, 1].
	Importance float64

	// AccessCount is incremented on every successful retrieval.
	AccessCount int64

	// Tags are short free-form labels.
	Tags []string

	// Metadata holds scalar key/value pairs opaque to the engine.
	Metadata map[string]interface{}

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt *time.Time

	// DeletedAt marks a soft-deleted record. Soft-deleted rows are
	// excluded from every read except ListRecords with IncludeDeleted.
	DeletedAt *time.Time

	// ConsolidatedInto points at the canonical record when this row was
	// soft-deleted by a consolidation merge.
	ConsolidatedInto *int64

	// Score is the cosine similarity attached by Search. Not persisted.
	Score float64
}

// SearchOptions scope and bound a similarity or lexical query.
type SearchOptions struct {
	// CompanyID is mandatory; backends must never return rows outside it.
	CompanyID string

	// UserID, when set, additionally admits records with visibility "user"
	// owned by this user. When empty, user-visible records are excluded.
	UserID string

	// Visibility, when set, restricts results to exactly this visibility.
	Visibility string

	// Kinds, when non-empty, restricts results to these memory kinds.
	Kinds []string

	// EntityType and EntityID, when both set, restrict results to records
	// linked to that entity.
	EntityType string
	EntityID   string

	// Limit caps the number of results. Zero means backend default.
	Limit int

	// MinScore is the minimum cosine similarity for vector results.
	MinScore float64
}

// ListOptions configure ListRecords and ListByEntity scans.
type ListOptions struct {
	CompanyID  string
	UserID     string
	Kinds      []string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int

	// IncludeDeleted admits soft-deleted rows, for maintenance audits.
	IncludeDeleted bool
}

// MergePlan describes one consolidation cluster merge. The whole plan is
// applied in a single transaction.
type MergePlan struct {
	// CanonicalID is the surviving record.
	CanonicalID int64

	// AccessCount and Importance are the new values for the canonical
	// record (cluster sum and cluster max respectively).
	AccessCount int64
	Importance  float64

	// DuplicateIDs are soft-deleted with ConsolidatedInto = CanonicalID.
	DuplicateIDs []int64
}

// Lease is an exclusive per-tenant maintenance lease.
type Lease struct {
	CompanyID string
	Job       string
	Owner     string
	ExpiresAt time.Time
}

// Store is the persistence contract for memory records.
type Store interface {
	// Insert atomically persists a new record, enforcing the
	// (company_id, content_hash) uniqueness invariant among live rows.
	// A concurrent duplicate writer receives ErrDuplicateHash.
	Insert(ctx context.Context, rec *Record) error

	// FindByHash returns the non-deleted record with the given content
	// hash in the company scope, or ErrNotFound.
	FindByHash(ctx context.Context, companyID, contentHash string) (*Record, error)

	// Get returns a record by ID regardless of deletion state.
	Get(ctx context.Context, id int64) (*Record, error)

	// Search ranks non-deleted records in scope by cosine similarity to
	// the query embedding, filtered by the options, top Limit above
	// MinScore, highest first. Backends without vector capability return
	// ErrVectorSearchUnavailable.
	Search(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Record, error)

	// ScanLexical is the degraded read path: the same scalar predicates
	// as Search plus a case-insensitive substring match of query against
	// content, ordered by importance desc then last_accessed_at desc.
	ScanLexical(ctx context.Context, query string, opts *SearchOptions) ([]*Record, error)

	// TouchAccess increments access_count and refreshes last_accessed_at
	// for the given records.
	TouchAccess(ctx context.Context, ids []int64, at time.Time) error

	// UpdateImportance sets the importance of a record.
	UpdateImportance(ctx context.Context, id int64, importance float64) error

	// UpdateEmbedding replaces the stored embedding of a record.
	UpdateEmbedding(ctx context.Context, id int64, embedding []float64) error

	// SoftDelete marks records as deleted. Deleted is terminal.
	SoftDelete(ctx context.Context, ids []int64, at time.Time) error

	// ListRecords range-scans records for maintenance and entity reads.
	ListRecords(ctx context.Context, opts *ListOptions) ([]*Record, error)

	// MergeCluster applies a consolidation merge transactionally: either
	// the canonical update and every duplicate soft-delete commit, or
	// none of them do.
	MergeCluster(ctx context.Context, plan *MergePlan) error

	// AcquireLease takes the exclusive (company, job) maintenance lease
	// until expiry, returning ErrLeaseHeld when another live owner holds
	// it. ReleaseLease is a no-op for a lease not held by owner.
	AcquireLease(ctx context.Context, lease *Lease) error
	ReleaseLease(ctx context.Context, lease *Lease) error

	// Close releases the underlying connection.
	Close() error
}
