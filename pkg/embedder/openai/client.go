// Package openai provides an OpenAI-compatible embedding provider.
package openai

import (
	"context"
	"fmt"
	"math"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/byronwade/thorbis-memory/pkg/embedder"
)

const (
	defaultModel   = "text-embedding-3-small"
	defaultDims    = 1536
	defaultTimeout = 10 * time.Second
)

// Client implements embedder.Provider using the OpenAI embeddings API.
// Any endpoint speaking the OpenAI wire format works via BaseURL.
type Client struct {
	client  *goopenai.Client
	model   string
	dims    int
	timeout time.Duration
}

// NewClient creates an OpenAI embedding provider.
func NewClient(cfg *embedder.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewOpenAIClient: API key is required")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	dims := cfg.Dims
	if dims <= 0 {
		dims = defaultDims
	}

	return &Client{
		client:  goopenai.NewClientWithConfig(clientCfg),
		model:   model,
		dims:    dims,
		timeout: defaultTimeout,
	}, nil
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      texts,
		Model:      goopenai.EmbeddingModel(c.model),
		Dimensions: c.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("EmbedBatch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("EmbedBatch: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float64, len(resp.Data))
	for i, item := range resp.Data {
		vec := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float64(v)
		}
		embeddings[i] = normalize(vec)
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of generated vectors.
func (c *Client) Dimensions() int {
	return c.dims
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (c *Client) Close() error {
	return nil
}

// normalize scales the vector to unit length. API responses are already
// close to unit norm; this removes the residual drift so stored cosine
// scores compare cleanly.
func normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
