package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/generation"
	"github.com/parlo-app/parlo-api/internal/metrics"
	"github.com/parlo-app/parlo-api/internal/store"
)

// QuotaRecorder records one completed generation against the user's weekly
// quota. Implemented by the quota ledger.
type QuotaRecorder interface {
	RecordCompletion(ctx context.Context, userID uuid.UUID, kind domain.OperationKind) error
}

// RunnerConfig holds the worker pool and retry policy settings.
type RunnerConfig struct {
	// WorkerCount determines how many jobs execute concurrently.
	WorkerCount int

	// MaxAttempts bounds executions per job, the first attempt included.
	MaxAttempts int

	// BackoffBase and BackoffMax shape the retry delay: base doubled per
	// prior attempt, capped at max.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// StaleActiveAge is how long a job may sit active before the monitor
	// assumes its worker died and resets it to waiting. The monitor also
	// ticks at this interval.
	StaleActiveAge time.Duration

	// SchedulerPeriod is how often due delayed jobs are dispatched.
	SchedulerPeriod time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:     4,
		MaxAttempts:     3,
		BackoffBase:     time.Second,
		BackoffMax:      2 * time.Minute,
		StaleActiveAge:  15 * time.Minute,
		SchedulerPeriod: time.Second,
	}
}

// Runner drives background job execution: it claims dispatched jobs,
// executes them through the Generator, applies the retry policy and keeps
// the queue healthy across crashes.
type Runner struct {
	store      Store
	queue      *Queue
	generator  generation.Generator
	quota      QuotaRecorder
	metrics    *metrics.Metrics
	config     RunnerConfig
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewRunner creates a runner. Quota may not be nil: completion accounting is
// part of the execution contract, not an optional hook.
func NewRunner(
	jobStore Store,
	queue *Queue,
	generator generation.Generator,
	quota QuotaRecorder,
	m *metrics.Metrics,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		store:      jobStore,
		queue:      queue,
		generator:  generator,
		quota:      quota,
		metrics:    m,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancel,
		now:        time.Now,
	}
}

// WithNow overrides the clock. Test use only.
func (r *Runner) WithNow(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Start recovers unfinished jobs from previous runs and launches the worker
// pool, the delayed-job scheduler and the stale-active monitor.
func (r *Runner) Start() error {
	if err := r.Recover(); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.delayedScheduler()

	r.wg.Add(1)
	go r.staleMonitor()

	return nil
}

// Stop shuts the runner down. In-flight attempts are abandoned; their rows
// stay active and are reclaimed by Recover on the next start or by the
// stale monitor of another instance.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

// Recover handles jobs interrupted by a previous crash: active jobs are
// reset to waiting (this process owns all workers, so any active row is an
// orphan) and every waiting job is re-dispatched.
func (r *Runner) Recover() error {
	ctx := context.Background()

	resetIDs, err := r.store.ResetStaleActive(ctx, r.now())
	if err != nil {
		return fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}

	waiting, err := r.store.ListWaiting(ctx)
	if err != nil {
		return fmt.Errorf("failed to list waiting jobs: %w", err)
	}

	r.logger.Info("recovering unfinished jobs",
		"reset_count", len(resetIDs),
		"waiting_count", len(waiting))

	for _, job := range waiting {
		if !r.queue.Dispatch(job.ID) {
			r.logger.Warn("failed to re-dispatch waiting job, channel full",
				"job_id", job.ID, "kind", job.Kind)
		}
	}
	return nil
}

// worker claims and executes dispatched jobs until shutdown.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return

		case jobID, ok := <-r.queue.Channel():
			if !ok {
				r.logger.Debug("dispatch channel closed, stopping worker", "worker_id", id)
				return
			}
			r.process(jobID, id)
		}
	}
}

// process executes one attempt of one job.
func (r *Runner) process(jobID uuid.UUID, workerID int) {
	ctx := r.ctx

	job, err := r.store.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			// Another worker won the claim, or the job already finished.
			return
		}
		r.logger.Error("failed to claim job", "error", err, "job_id", jobID)
		return
	}

	log := r.logger.With(
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt", job.Attempts,
		"worker_id", workerID,
	)
	log.Info("executing job")

	publish := func(ctx context.Context, progress generation.Progress) {
		raw, err := json.Marshal(progress)
		if err != nil {
			return
		}
		if err := r.store.UpdateProgress(ctx, job.ID, raw); err != nil &&
			!errors.Is(err, store.ErrStaleState) {
			log.Warn("failed to publish progress", "error", err)
		}
	}

	result, err := r.generator.Generate(ctx, job, publish)
	if err != nil {
		r.handleFailure(ctx, job, err, log)
		return
	}

	if err := r.store.MarkCompleted(ctx, job.ID, result); err != nil {
		log.Error("failed to mark job completed", "error", err)
		return
	}
	r.metrics.RecordCompleted()
	log.Info("job completed")

	// Quota is consumed on completion only. A failed increment must not
	// fail the finished job; it is logged and the generation goes untallied.
	if err := r.quota.RecordCompletion(ctx, job.UserID, job.Kind); err != nil {
		log.Error("failed to record quota usage", "error", err, "user_id", job.UserID)
	}
}

// handleFailure applies the retry policy to a failed attempt: transient
// errors with attempts remaining are delayed for retry, everything else
// fails the job permanently with the error preserved verbatim.
func (r *Runner) handleFailure(ctx context.Context, job *domain.Job, genErr error, log *slog.Logger) {
	retryable := generation.IsTransient(genErr) && job.Attempts < r.config.MaxAttempts

	if retryable {
		delay := backoffDelay(r.config.BackoffBase, r.config.BackoffMax, job.Attempts)
		nextRunAt := r.now().Add(delay)

		if err := r.store.MarkDelayed(ctx, job.ID, nextRunAt); err != nil {
			log.Error("failed to delay job for retry", "error", err)
			return
		}
		r.metrics.RecordRetry()
		log.Warn("job attempt failed, retry scheduled",
			"error", genErr, "delay", delay, "next_run_at", nextRunAt)
		return
	}

	if err := r.store.MarkFailed(ctx, job.ID, genErr.Error()); err != nil {
		log.Error("failed to mark job failed", "error", err)
		return
	}
	r.metrics.RecordFailed()
	log.Error("job failed permanently",
		"error", genErr, "transient", generation.IsTransient(genErr))
}

// backoffDelay returns base doubled per prior attempt, capped at max:
// attempt 1 waits base, attempt 2 waits 2*base, attempt n waits
// base*2^(n-1).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// delayedScheduler dispatches delayed jobs whose retry time has arrived.
// Workers claim them straight out of delayed; a job scanned again before a
// worker gets to it is dispatched twice, which is safe because the second
// claim loses.
func (r *Runner) delayedScheduler() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SchedulerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			due, err := r.store.DueDelayed(r.ctx, r.now())
			if err != nil {
				if r.ctx.Err() == nil {
					r.logger.Error("failed to scan due delayed jobs", "error", err)
				}
				continue
			}

			for _, job := range due {
				if !r.queue.Dispatch(job.ID) {
					r.logger.Warn("failed to dispatch due delayed job, channel full",
						"job_id", job.ID)
				}
			}
		}
	}
}

// staleMonitor periodically resets active jobs whose worker has apparently
// died and re-dispatches every waiting job. Re-dispatching jobs that are
// already in the channel is safe: the second claim loses and is dropped.
func (r *Runner) staleMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StaleActiveAge)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			cutoff := r.now().Add(-r.config.StaleActiveAge)
			resetIDs, err := r.store.ResetStaleActive(r.ctx, cutoff)
			if err != nil {
				if r.ctx.Err() == nil {
					r.logger.Error("failed to reset stale active jobs", "error", err)
				}
				continue
			}
			if len(resetIDs) > 0 {
				r.logger.Warn("reset stale active jobs", "count", len(resetIDs))
			}

			waiting, err := r.store.ListWaiting(r.ctx)
			if err != nil {
				if r.ctx.Err() == nil {
					r.logger.Error("failed to list waiting jobs", "error", err)
				}
				continue
			}
			for _, job := range waiting {
				r.queue.Dispatch(job.ID)
			}
		}
	}
}
