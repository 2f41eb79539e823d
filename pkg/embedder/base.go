// Package embedder defines the embedding provider interface and the
// failover wrapper that keeps the write path available when the remote
// provider is down.
package embedder

import "context"

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimensionality of generated vectors.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}

// Config contains embedding provider configuration.
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Dims      int
	CacheSize int64
}
