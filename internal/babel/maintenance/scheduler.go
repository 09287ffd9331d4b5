// Package maintenance wraps the route table's periodic GC and metric
// recomputation (route.Handler.ExpireRoutes) behind a ticker, run as one of
// the daemon's errgroup members.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPeriod is route_gc_delay / 6 (spec §4.12.1).
const DefaultPeriod = 30 * time.Second

// Sweeper runs one expiry pass. The route package's Store/Handler are only
// safe to mutate from the single goroutine the daemon's event loop owns
// (spec §5); Sweeper is implemented by *daemon.Daemon, which queues the
// sweep onto that same goroutine rather than calling route.Handler directly
// from the Scheduler's own ticker goroutine.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Scheduler periodically drives a Sweeper.
type Scheduler struct {
	log     *zap.SugaredLogger
	sweeper Sweeper
	period  time.Duration
}

// NewScheduler creates a Scheduler with the given period, defaulting to
// DefaultPeriod when period is zero.
func NewScheduler(log *zap.SugaredLogger, sweeper Sweeper, period time.Duration) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{
		log:     log.With(zap.String("component", "maintenance")),
		sweeper: sweeper,
		period:  period,
	}
}

// Run drives the scheduler until ctx is cancelled, intended to be passed
// directly to an errgroup.Group.Go call alongside the daemon's event loop
// and admin server.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one expiry pass. route.Handler.ExpireRoutes already aggregates
// per-route metric-change kernel failures with go-multierror rather than
// aborting partway through, so a non-nil return here is a set of fully-independent
// failures worth logging, not a reason to stop the scheduler.
func (s *Scheduler) sweep(ctx context.Context) {
	if err := s.sweeper.Sweep(ctx); err != nil {
		s.log.Errorw("maintenance sweep encountered errors", "error", err)
	}
}
