// Package core provides the main Thorbis memory client.
package core

// StoreOption is a function type for configuring Store operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type StoreOption func(*StoreOptions)

// StoreOptions contains configuration options for Store operations.
type StoreOptions struct {
	// UserID identifies the user who owns this memory.
	UserID string

	// Kind categorizes the memory. Default: KindFact.
	Kind Kind

	// Visibility controls who can read the memory. Default: VisibilityCompany.
	Visibility Visibility

	// EntityType and EntityID attach the memory to a business entity.
	EntityType string
	EntityID   string

	// SourceMessageID and SourceConversationID record provenance.
	SourceMessageID      string
	SourceConversationID string

	// Importance weighs the memory in ranking and retention.
	// Values outside [0,1] are clamped. Default: 0.5.
	Importance float64

	// Tags are free-form labels.
	Tags []string

	// Metadata holds scalar-valued annotations. Nested values are rejected.
	Metadata map[string]interface{}

	// RefreshEmbedding re-embeds content even on a dedup hit, replacing
	// the stored vector of the existing memory.
	RefreshEmbedding bool
}

// WithUserID sets the owning user for Store operations.
//
// Example:
//
//	outcome, _ := client.Store(ctx, "company_1", "content", core.WithUserID("user_001"))
func WithUserID(userID string) StoreOption {
	return func(opts *StoreOptions) {
		opts.UserID = userID
	}
}

// WithKind sets the memory kind for Store operations.
//
// Example:
//
//	outcome, _ := client.Store(ctx, "company_1", "content", core.WithKind(core.KindPreference))
func WithKind(kind Kind) StoreOption {
	return func(opts *StoreOptions) {
		opts.Kind = kind
	}
}

// WithVisibility sets the visibility scope for Store operations.
//
// Example:
//
//	outcome, _ := client.Store(ctx, "company_1", "content", core.WithVisibility(core.VisibilityUser))
func WithVisibility(visibility Visibility) StoreOption {
	return func(opts *StoreOptions) {
		opts.Visibility = visibility
	}
}

// WithEntity attaches the memory to a business entity.
//
// Example:
//
//	outcome, _ := client.Store(ctx, "company_1", "content",
//	    core.WithEntity(core.EntityCustomer, "cust_042"))
func WithEntity(entityType, entityID string) StoreOption {
	return func(opts *StoreOptions) {
		opts.EntityType = entityType
		opts.EntityID = entityID
	}
}

// WithProvenance records the message and conversation a memory came from.
func WithProvenance(messageID, conversationID string) StoreOption {
	return func(opts *StoreOptions) {
		opts.SourceMessageID = messageID
		opts.SourceConversationID = conversationID
	}
}

// WithImportance sets the importance for Store operations.
//
// Values outside [0,1] are clamped. The named levels ImportanceLow,
// ImportanceMedium and ImportanceHigh cover the common cases.
//
// Example:
//
//	outcome, _ := client.Store(ctx, "company_1", "content",
//	    core.WithImportance(core.ImportanceHigh))
func WithImportance(importance float64) StoreOption {
	return func(opts *StoreOptions) {
		opts.Importance = importance
	}
}

// WithTags sets free-form labels for Store operations.
func WithTags(tags ...string) StoreOption {
	return func(opts *StoreOptions) {
		opts.Tags = tags
	}
}

// WithMetadata sets scalar-valued annotations for Store operations.
//
// Values must be strings, numbers, booleans or nil; nested maps and
// slices are rejected with ErrInvalidInput.
//
// Example:
//
//	outcome, _ := client.Store(ctx, "company_1", "content",
//	    core.WithMetadata(map[string]interface{}{
//	        "source":   "phone_call",
//	        "verified": true,
//	    }),
//	)
func WithMetadata(metadata map[string]interface{}) StoreOption {
	return func(opts *StoreOptions) {
		opts.Metadata = metadata
	}
}

// WithRefreshEmbedding re-embeds content even when the memory already
// exists, replacing the stored vector. Useful after switching embedding
// providers.
func WithRefreshEmbedding() StoreOption {
	return func(opts *StoreOptions) {
		opts.RefreshEmbedding = true
	}
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// UserID widens the scope to include the user's private memories.
	UserID string

	// Visibility restricts results to a single visibility scope.
	Visibility Visibility

	// Kinds restricts results to the given kinds.
	Kinds []Kind

	// EntityType and EntityID restrict results to one entity.
	EntityType string
	EntityID   string

	// Limit sets the maximum number of results to return.
	// Default: 10. An explicit non-positive limit returns no results.
	Limit int

	// MinScore sets the minimum similarity score for results.
	// Default: 0.5.
	MinScore float64

	limitSet bool
}

// WithUserIDForSearch widens Search scope to include the user's private
// memories.
//
// Example:
//
//	result, _ := client.Search(ctx, "company_1", "query", core.WithUserIDForSearch("user_001"))
func WithUserIDForSearch(userID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.UserID = userID
	}
}

// WithVisibilityForSearch restricts Search results to one visibility scope.
func WithVisibilityForSearch(visibility Visibility) SearchOption {
	return func(opts *SearchOptions) {
		opts.Visibility = visibility
	}
}

// WithKinds restricts Search results to the given kinds.
//
// Example:
//
//	result, _ := client.Search(ctx, "company_1", "query",
//	    core.WithKinds(core.KindFact, core.KindPreference))
func WithKinds(kinds ...Kind) SearchOption {
	return func(opts *SearchOptions) {
		opts.Kinds = kinds
	}
}

// WithEntityForSearch restricts Search results to one business entity.
func WithEntityForSearch(entityType, entityID string) SearchOption {
	return func(opts *SearchOptions) {
		opts.EntityType = entityType
		opts.EntityID = entityID
	}
}

// WithLimit sets the maximum number of results for Search operations.
//
// An explicit non-positive limit returns an empty result without error.
//
// Example:
//
//	result, _ := client.Search(ctx, "company_1", "query", core.WithLimit(20))
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
		opts.limitSet = true
	}
}

// WithMinSimilarity sets the minimum similarity score for Search results.
//
// Only results with similarity >= the threshold are returned.
// Typical range: 0.0-1.0, where 1.0 is identical.
//
// Example:
//
//	result, _ := client.Search(ctx, "company_1", "query", core.WithMinSimilarity(0.7))
func WithMinSimilarity(score float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = score
	}
}

// ListOption is a function type for configuring ListByEntity operations.
type ListOption func(*ListOptions)

// ListOptions contains configuration options for ListByEntity operations.
type ListOptions struct {
	// UserID filters results to a specific user.
	UserID string

	// Kinds restricts results to the given kinds.
	Kinds []Kind

	// Limit sets the maximum number of results to return.
	// Default: 20
	Limit int

	// Offset sets the number of results to skip (for pagination).
	// Default: 0
	Offset int
}

// WithUserIDForList filters ListByEntity results to a specific user.
func WithUserIDForList(userID string) ListOption {
	return func(opts *ListOptions) {
		opts.UserID = userID
	}
}

// WithKindsForList restricts ListByEntity results to the given kinds.
func WithKindsForList(kinds ...Kind) ListOption {
	return func(opts *ListOptions) {
		opts.Kinds = kinds
	}
}

// WithLimitForList sets the maximum number of results for ListByEntity.
func WithLimitForList(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset sets the offset for ListByEntity (for pagination).
//
// Example:
//
//	memories, _ := client.ListByEntity(ctx, "company_1", core.EntityJob, "job_9",
//	    core.WithLimitForList(50),
//	    core.WithOffset(50),
//	)
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// applyStoreOptions applies Store options to create StoreOptions.
func applyStoreOptions(opts []StoreOption) *StoreOptions {
	options := &StoreOptions{
		Kind:       KindFact,
		Visibility: VisibilityCompany,
		Importance: 0.5,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applySearchOptions applies Search options to create SearchOptions.
func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{
		Limit:    10,
		MinScore: 0.5,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyListOptions applies ListByEntity options to create ListOptions.
func applyListOptions(opts []ListOption) *ListOptions {
	options := &ListOptions{
		Limit:  20,
		Offset: 0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
