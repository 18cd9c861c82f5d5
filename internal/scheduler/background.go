package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one periodic background task: working-memory decay, scheduled
// consolidation, or session reaping. Run is called once per tick and
// should return promptly; Name identifies it in logs.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner drives a set of Jobs on independent tickers until stopped.
type Runner struct {
	jobs   []Job
	logger *slog.Logger
	stopCh chan struct{}
}

// NewRunner builds a Runner over jobs. logger may be nil, in which case
// slog.Default() is used.
func NewRunner(logger *slog.Logger, jobs ...Job) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{jobs: jobs, logger: logger, stopCh: make(chan struct{})}
}

// Start runs every job on its own ticker goroutine. Returns immediately;
// call Stop to shut down cleanly.
func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		if job.Interval <= 0 || job.Run == nil {
			continue
		}
		go r.runJob(ctx, job)
	}
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				r.logger.Error("background job failed", "job", job.Name, "error", err)
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals every job's ticker goroutine to exit. It does not wait
// for in-flight Run calls to finish since job bodies are expected to
// respect ctx's cancellation themselves.
func (r *Runner) Stop() {
	close(r.stopCh)
}
