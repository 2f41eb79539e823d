package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DecayReport summarizes a decay run for one company.
type DecayReport struct {
	// CompanyID is the tenant the run covered.
	CompanyID string `json:"company_id"`

	// Skipped is true when another runner held the lease and nothing ran.
	Skipped bool `json:"skipped"`

	// DryRun is true when candidates were identified but not deleted.
	DryRun bool `json:"dry_run"`

	// Examined is the number of live memories scanned.
	Examined int `json:"examined"`

	// Expired is the number of memories removed (or, in a dry run, that
	// would have been removed).
	Expired int `json:"expired"`

	// ExpiredIDs lists the affected memories.
	ExpiredIDs []int64 `json:"expired_ids,omitempty"`
}

// Decay soft-deletes memories that are older than MaxAge and were never
// meaningfully used. A memory survives when any of these hold:
//   - it is younger than MaxAge
//   - its access count exceeds MinAccessCount
//   - it was read within the MaxAge window, regardless of count
//
// With dryRun set, candidates are reported but nothing is deleted.
func (r *Runner) Decay(ctx context.Context, companyID string, dryRun bool) (*DecayReport, error) {
	report := &DecayReport{CompanyID: companyID, DryRun: dryRun}

	release, err := r.acquireLease(ctx, companyID, jobDecay)
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

	now := time.Now().UTC()
	cutoff := now.Add(-r.cfg.MaxAge)
	for _, rec := range records {
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		if rec.AccessCount > r.cfg.MinAccessCount {
			continue
		}
		// A recent read rescues even a never-counted memory.
		if rec.LastAccessedAt != nil && rec.LastAccessedAt.After(cutoff) {
			continue
		}
		report.ExpiredIDs = append(report.ExpiredIDs, rec.ID)
	}
	report.Expired = len(report.ExpiredIDs)

	if !dryRun && len(report.ExpiredIDs) > 0 {
		if err := r.store.SoftDelete(ctx, report.ExpiredIDs, now); err != nil {
			return nil, err
		}
	}

	r.logger.Info("decay run complete",
		zap.String("company_id", companyID),
		zap.Int("examined", report.Examined),
		zap.Int("expired", report.Expired),
		zap.Bool("dry_run", dryRun))

	return report, nil
}
