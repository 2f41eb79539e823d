package maintenance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CompanyLister supplies the tenants a scheduled run should cover.
type CompanyLister func(ctx context.Context) ([]string, error)

// Scheduler runs decay and consolidation for every company on a fixed
// interval. The per-tenant lease makes overlapping schedulers safe: a
// company being processed elsewhere is simply skipped.
type Scheduler struct {
	runner    *Runner
	companies CompanyLister
	interval  time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. interval defaults to 24 hours.
func NewScheduler(runner *Runner, companies CompanyLister, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:    runner,
		companies: companies,
		interval:  interval,
		logger:    logger,
	}
}

// Start launches the scheduling loop. The first run happens after one
// interval, not immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunOnce executes one maintenance sweep immediately.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	companies, err := s.companies(ctx)
	if err != nil {
		s.logger.Warn("company listing failed", zap.Error(err))
		return
	}

	for _, companyID := range companies {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.runner.Decay(ctx, companyID, false); err != nil {
			s.logger.Warn("decay run failed",
				zap.String("company_id", companyID), zap.Error(err))
		}
		if _, err := s.runner.Consolidate(ctx, companyID); err != nil {
			s.logger.Warn("consolidation run failed",
				zap.String("company_id", companyID), zap.Error(err))
		}
	}
}
