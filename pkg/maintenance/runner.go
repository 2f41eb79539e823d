// Package maintenance implements the offline jobs that keep a memory
// store healthy: decay removes stale unused memories, consolidation
// merges near-duplicates into a canonical record.
//
// Both jobs run under a per-tenant lease so concurrent runners never
// process the same company twice. A job that finds the lease held reports
// itself skipped instead of failing.
package maintenance

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// Lease job names.
const (
	jobDecay       = "decay"
	jobConsolidate = "consolidate"
)

// Config contains maintenance tuning.
type Config struct {
	// MaxAge is how old an unused memory must be before decay removes it.
	// Default: 90 days.
	MaxAge time.Duration

	// MinAccessCount is the access count at or below which a stale memory
	// is eligible for decay. Reads beyond it protect the memory.
	// Default: 1.
	MinAccessCount int64

	// MergeThreshold is the cosine similarity at or above which two
	// memories are merge candidates. Default: 0.95.
	MergeThreshold float64

	// LeaseTTL bounds how long a job may hold its per-tenant lease.
	// Default: 5 minutes.
	LeaseTTL time.Duration

	// BatchSize is the page size for record scans. Default: 500.
	BatchSize int
}

func (c *Config) withDefaults() Config {
	cfg := Config{
		MaxAge:         90 * 24 * time.Hour,
		MinAccessCount: 1,
		MergeThreshold: 0.95,
		LeaseTTL:       5 * time.Minute,
		BatchSize:      500,
	}
	if c == nil {
		return cfg
	}
	if c.MaxAge > 0 {
		cfg.MaxAge = c.MaxAge
	}
	if c.MinAccessCount > 0 {
		cfg.MinAccessCount = c.MinAccessCount
	}
	if c.MergeThreshold > 0 {
		cfg.MergeThreshold = c.MergeThreshold
	}
	if c.LeaseTTL > 0 {
		cfg.LeaseTTL = c.LeaseTTL
	}
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	return cfg
}

// Runner executes maintenance jobs against a storage backend.
type Runner struct {
	store  storage.Store
	cfg    Config
	logger *zap.Logger
}

// NewRunner creates a maintenance runner. cfg and logger may be nil.
func NewRunner(store storage.Store, cfg *Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: store, cfg: cfg.withDefaults(), logger: logger}
}

// acquireLease takes the (company, job) lease with a fresh owner token.
// The returned release func is safe to defer.
func (r *Runner) acquireLease(ctx context.Context, companyID, job string) (func(), error) {
	lease := &storage.Lease{
		CompanyID: companyID,
		Job:       job,
		Owner:     uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(r.cfg.LeaseTTL),
	}
	if err := r.store.AcquireLease(ctx, lease); err != nil {
		return nil, err
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.ReleaseLease(releaseCtx, lease); err != nil {
			r.logger.Warn("lease release failed",
				zap.String("company_id", companyID),
				zap.String("job", job),
				zap.Error(err))
		}
	}
	return release, nil
}

// listAll pages through every live record for a company.
func (r *Runner) listAll(ctx context.Context, companyID string) ([]*storage.Record, error) {
	var all []*storage.Record
	offset := 0
	for {
		page, err := r.store.ListRecords(ctx, &storage.ListOptions{
			CompanyID: companyID,
			Limit:     r.cfg.BatchSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < r.cfg.BatchSize {
			return all, nil
		}
		offset += len(page)
	}
}

// isLeaseHeld reports whether an error means the lease is taken.
func isLeaseHeld(err error) bool {
	return errors.Is(err, storage.ErrLeaseHeld)
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
