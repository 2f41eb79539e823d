package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
)

const (
	remoteRetries  = 2
	initialBackoff = 200 * time.Millisecond
)

// Failover wraps a remote provider with a local fallback and an embedding
// cache. It never surfaces remote errors: when the remote provider fails
// after retries, the deterministic local provider answers instead, so the
// write path stays available during provider outages.
type Failover struct {
	remote   Provider
	fallback Provider
	cache    *Cache
	logger   *zap.Logger
}

// NewFailover wraps remote with fallback. remote may be nil, in which case
// every call goes straight to the fallback. cache and logger may be nil.
func NewFailover(remote, fallback Provider, cache *Cache, logger *zap.Logger) *Failover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Failover{remote: remote, fallback: fallback, cache: cache, logger: logger}
}

// Embed generates an embedding, consulting the cache first.
func (f *Failover) Embed(ctx context.Context, text string) ([]float64, error) {
	key := CacheKey(text)
	if f.cache != nil {
		if embedding, ok := f.cache.Get(key); ok {
			return embedding, nil
		}
	}

	embedding, err := f.embedRemote(ctx, text)
	if err != nil {
		f.logger.Warn("remote embedding failed, using local fallback", zap.Error(err))
		embedding, err = f.fallback.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
	}

	if f.cache != nil {
		f.cache.Set(key, embedding)
	}
	return embedding, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (f *Failover) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		embedding, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of generated vectors.
func (f *Failover) Dimensions() int {
	if f.remote != nil {
		return f.remote.Dimensions()
	}
	return f.fallback.Dimensions()
}

// Close releases both providers and the cache.
func (f *Failover) Close() error {
	if f.cache != nil {
		f.cache.Close()
	}
	if f.remote != nil {
		if err := f.remote.Close(); err != nil {
			return err
		}
	}
	return f.fallback.Close()
}

// embedRemote tries the remote provider with bounded retries. Context
// cancellation stops the retry loop immediately.
func (f *Failover) embedRemote(ctx context.Context, text string) ([]float64, error) {
	if f.remote == nil {
		return f.fallback.Embed(ctx, text)
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt <= remoteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		embedding, err := f.remote.Embed(ctx, text)
		if err == nil {
			return embedding, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// CacheKey returns the cache key for a text: the hex SHA-256 of its bytes,
// the same digest the write path uses for deduplication.
func CacheKey(text string) string {
	digest := sha256.Sum256([]byte(text))
	return hex.EncodeToString(digest[:])
}
