// Package reaper returns jobs stuck in processing to the queue. A
// worker crash between claim and completion would otherwise strand the
// job forever, since only the reaper moves processing back to pending.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/growthdesk/scout/internal/metrics"
	"github.com/growthdesk/scout/internal/scout"
)

// Config controls Reaper behavior.
type Config struct {
	// Interval is the sweep period.
	Interval time.Duration
	// StaleAfter is how long a job may stay processing before it is
	// considered abandoned.
	StaleAfter time.Duration
	// FailStale sends reclaimed jobs to failed with a timeout result
	// instead of requeueing them.
	FailStale bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	return c
}

// Reaper periodically sweeps all job types for stale processing jobs.
type Reaper struct {
	jobs   scout.JobStore
	cfg    Config
	logger *zap.Logger
}

// New constructs a Reaper.
func New(jobs scout.JobStore, cfg Config, logger *zap.Logger) *Reaper {
	return &Reaper{jobs: jobs, cfg: cfg.withDefaults(), logger: logger}
}

// Run blocks, sweeping on the configured interval until the context
// finishes.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx, r.cfg.StaleAfter, r.cfg.FailStale)
		}
	}
}

// Sweep reclaims stale jobs across all job types and returns the total.
// It is also the implementation behind the manual reclaim endpoint.
func (r *Reaper) Sweep(ctx context.Context, staleAfter time.Duration, toFailed bool) int {
	total := 0
	for _, jobType := range scout.JobTypes() {
		count, err := r.jobs.ReclaimStale(ctx, jobType, staleAfter, toFailed)
		if err != nil {
			r.logger.Error("reclaim sweep failed",
				zap.String("job_type", string(jobType)),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveReclaimed(string(jobType), count)
		if count > 0 {
			r.logger.Warn("reclaimed stale jobs",
				zap.String("job_type", string(jobType)),
				zap.Int("count", count),
				zap.Bool("failed", toFailed),
			)
		}
		total += count
	}
	return total
}
