// Package local provides a deterministic offline embedding provider.
//
// Vectors are derived from the SHA-256 of the input text, so identical
// text always embeds to the identical unit vector. The vectors carry no
// semantic meaning; the provider exists so the write path stays available
// when no remote embedding service is reachable, and exact re-inserts
// still land at similarity 1.0.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DefaultDims matches the remote provider's default so stored vectors
// stay dimensionally compatible across provider switches.
const DefaultDims = 1536

// Client implements embedder.Provider with hash-seeded vectors.
type Client struct {
	dims int
}

// NewClient creates a local provider with the given dimensionality.
func NewClient(dims int) *Client {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &Client{dims: dims}
}

// Embed generates a deterministic unit vector for the text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.generate(text), nil
}

// EmbedBatch generates deterministic unit vectors for each text.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = c.generate(text)
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of generated vectors.
func (c *Client) Dimensions() int {
	return c.dims
}

// Close is a no-op for the local provider.
func (c *Client) Close() error {
	return nil
}

// generate seeds four uint64 lanes from the content hash and fills each
// dimension with a sinusoid of the lane values, then normalizes to unit
// length so cosine similarity behaves.
func (c *Client) generate(text string) []float64 {
	digest := sha256.Sum256([]byte(text))

	var seeds [4]uint64
	for i := range seeds {
		seeds[i] = binary.BigEndian.Uint64(digest[i*8:])
	}

	vec := make([]float64, c.dims)
	var norm float64
	for i := range vec {
		seed := seeds[i%len(seeds)]
		phase := float64(seed%100000)/100000.0 + float64(i)
		vec[i] = math.Sin(phase * (1.0 + float64(seed%7)))
		norm += vec[i] * vec[i]
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1.0
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
