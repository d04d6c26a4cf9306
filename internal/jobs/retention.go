// Package jobs runs periodic maintenance next to the HTTP service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/lab-scheduler/internal/application"
)

// RetentionRunner is satisfied by *application.RetentionService.
type RetentionRunner interface {
	Run(ctx context.Context, params application.RetentionParams) (application.RetentionReport, error)
}

// RetentionJob purges obsolete slots on a cron schedule.
type RetentionJob struct {
	runner  RetentionRunner
	days    int
	timeout time.Duration
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	runs    int
}

// NewRetentionJob registers the job on schedule, a standard five field
// expression or a descriptor such as "@daily".
func NewRetentionJob(runner RetentionRunner, schedule string, days int, loc *time.Location, logger *slog.Logger) (*RetentionJob, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	job := &RetentionJob{
		runner:  runner,
		days:    days,
		timeout: 10 * time.Minute,
		cron:    cron.New(cron.WithLocation(loc)),
		logger:  logger.With("job", "retention"),
	}
	if _, err := job.cron.AddFunc(schedule, func() { job.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule retention job %q: %w", schedule, err)
	}
	return job, nil
}

// Start begins firing on schedule.
func (j *RetentionJob) Start() {
	j.cron.Start()
	j.logger.Info("retention job scheduled", "remove_older_than_days", j.days)
}

// Stop prevents further runs and waits for a running pass until ctx expires.
func (j *RetentionJob) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		j.logger.Warn("retention job still running at shutdown")
	}
}

// RunOnce performs a single pass. Overlapping triggers are skipped.
func (j *RetentionJob) RunOnce(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.logger.Warn("previous retention run still in progress, skipping")
		return
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.runs++
		j.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	report, err := j.runner.Run(ctx, application.RetentionParams{RemoveOlderThanDays: j.days})
	if err != nil {
		j.logger.Error("scheduled retention failed", "error", err, "error_kind", application.ErrorKind(err))
		return
	}
	if report.Empty() {
		j.logger.Debug("nothing to purge")
	}
}

// Runs returns how many passes have completed.
func (j *RetentionJob) Runs() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}
