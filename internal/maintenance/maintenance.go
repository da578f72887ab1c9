// Package maintenance runs background housekeeping on cron schedules:
// expiring idle sessions and cleaning the docs cache.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled housekeeping task.
type Job struct {
	Name     string
	Schedule string // cron expression or @every/@daily shorthand
	Run      func(ctx context.Context)
}

// Runner owns the cron scheduler for the app's lifetime.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewRunner creates an empty maintenance runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		cron:   cron.New(),
		logger: logger.With("component", "maintenance"),
	}
}

// Add registers a job. Must be called before Start.
func (r *Runner) Add(job Job) error {
	_, err := r.cron.AddFunc(job.Schedule, func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		r.logger.Debug("running maintenance job", "job", job.Name)
		job.Run(ctx)
	})
	if err != nil {
		return fmt.Errorf("maintenance: add job %s: %w", job.Name, err)
	}
	r.logger.Info("maintenance job registered", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Start begins running scheduled jobs until Stop.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.cron.Start()
	r.logger.Info("maintenance runner started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("maintenance runner stopped")
}
