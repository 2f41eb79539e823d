package maintenance

import (
	"context"

	"go.uber.org/zap"

	"github.com/byronwade/thorbis-memory/pkg/storage"
)

// ConsolidateReport summarizes a consolidation run for one company.
type ConsolidateReport struct {
	// CompanyID is the tenant the run covered.
	CompanyID string `json:"company_id"`

	// Skipped is true when another runner held the lease and nothing ran.
	Skipped bool `json:"skipped"`

	// Examined is the number of live memories scanned.
	Examined int `json:"examined"`

	// Clusters is the number of near-duplicate clusters merged.
	Clusters int `json:"clusters"`

	// Merged is the number of duplicate memories folded into canonicals.
	Merged int `json:"merged"`
}

// Consolidate merges near-duplicate memories within a company.
//
// Memories whose embeddings are cosine-similar at or above MergeThreshold
// but whose content hashes differ are clustered greedily. In each cluster
// the canonical is the record with the highest access count, newest first
// on ties; it absorbs the cluster's summed access count and maximum
// importance, and the rest are soft-deleted with a pointer to the
// canonical. Each cluster commits atomically, and cancellation between
// clusters leaves earlier merges intact.
func (r *Runner) Consolidate(ctx context.Context, companyID string) (*ConsolidateReport, error) {
	report := &ConsolidateReport{CompanyID: companyID}

	release, err := r.acquireLease(ctx, companyID, jobConsolidate)
	if isLeaseHeld(err) {
		report.Skipped = true
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	defer release()

	records, err := r.listAll(ctx, companyID)
	if err != nil {
		return nil, err
	}
	report.Examined = len(records)

	clusters := r.cluster(records)
	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		plan := buildMergePlan(cluster)
		if err := r.store.MergeCluster(ctx, plan); err != nil {
			return report, err
		}
		report.Clusters++
		report.Merged += len(plan.DuplicateIDs)

		r.logger.Debug("cluster merged",
			zap.String("company_id", companyID),
			zap.Int64("canonical_id", plan.CanonicalID),
			zap.Int("duplicates", len(plan.DuplicateIDs)))
	}

	r.logger.Info("consolidation run complete",
		zap.String("company_id", companyID),
		zap.Int("examined", report.Examined),
		zap.Int("clusters", report.Clusters),
		zap.Int("merged", report.Merged))

	return report, nil
}

// cluster greedily groups records whose embeddings are within the merge
// threshold of a seed record. Identical hashes never cluster; the dedup
// index already guarantees at most one live record per hash.
func (r *Runner) cluster(records []*storage.Record) [][]*storage.Record {
	var clusters [][]*storage.Record
	used := make(map[int64]bool, len(records))

	for i, seed := range records {
		if used[seed.ID] || len(seed.Embedding) == 0 {
			continue
		}

		group := []*storage.Record{seed}
		for _, candidate := range records[i+1:] {
			if used[candidate.ID] || len(candidate.Embedding) == 0 {
				continue
			}
			if candidate.ContentHash == seed.ContentHash {
				continue
			}
			if cosineSimilarity(seed.Embedding, candidate.Embedding) >= r.cfg.MergeThreshold {
				group = append(group, candidate)
				used[candidate.ID] = true
			}
		}

		if len(group) > 1 {
			used[seed.ID] = true
			clusters = append(clusters, group)
		}
	}
	return clusters
}

// buildMergePlan picks the canonical record and accumulates the cluster's
// access counts and importance.
func buildMergePlan(cluster []*storage.Record) *storage.MergePlan {
	canonical := cluster[0]
	var accessSum int64
	importance := canonical.Importance

	for _, rec := range cluster {
		accessSum += rec.AccessCount
		if rec.Importance > importance {
			importance = rec.Importance
		}
		if rec.AccessCount > canonical.AccessCount ||
			(rec.AccessCount == canonical.AccessCount && rec.CreatedAt.After(canonical.CreatedAt)) {
			canonical = rec
		}
	}

	plan := &storage.MergePlan{
		CanonicalID: canonical.ID,
		AccessCount: accessSum,
		Importance:  importance,
	}
	for _, rec := range cluster {
		if rec.ID != canonical.ID {
			plan.DuplicateIDs = append(plan.DuplicateIDs, rec.ID)
		}
	}
	return plan
}
