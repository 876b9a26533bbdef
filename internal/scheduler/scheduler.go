// Package scheduler runs the daemon's periodic jobs: the fetch tick, the
// archival sweep, and the embedding backfill. Each job gets its own loop,
// so a slow fetch never delays archival, and runs of the same job never
// overlap.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the job once at startup before the first tick.
	Immediate bool
	// Timeout bounds a single run. Zero means the job's interval.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler drives a set of jobs until its context is cancelled.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
	group  errgroup.Group
}

func New(logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger}
}

// Start launches one loop per job. It returns immediately; call Wait after
// cancelling ctx to drain in-flight runs.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		job := job
		s.group.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	_ = s.group.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if job.Immediate {
		s.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Missed ticks coalesce: a run longer than the interval is
			// followed by at most one queued tick.
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	timeout := job.Timeout
	if timeout == 0 {
		timeout = job.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := s.runRecover(runCtx, job); err != nil {
		s.logger.Warn("job failed", "job", job.Name, "error", err, "duration", time.Since(start))
	}
}

// runRecover converts a panicking job into a logged failure so one bad run
// cannot take the daemon down.
func (s *Scheduler) runRecover(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()
	return job.Run(ctx)
}
