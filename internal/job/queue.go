package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/metrics"
)

// Queue is the durable job queue. Enqueue persists the job row first and
// then dispatches its ID on an in-memory channel for a worker to claim. The
// row is the source of truth: if the channel is full the job stays waiting
// and the runner's monitor re-dispatches it later.
type Queue struct {
	store   Store
	jobs    chan uuid.UUID
	logger  *slog.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
}

// NewQueue creates a queue with the given dispatch buffer size.
func NewQueue(store Store, size int, logger *slog.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		store:   store,
		jobs:    make(chan uuid.UUID, size),
		logger:  logger,
		metrics: m,
	}
}

// Enqueue persists the job and hands it to the worker pool. Persisting is
// what makes the job admitted; dispatch is best-effort and self-healing.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	if err := q.store.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.metrics.RecordEnqueued()

	if !q.Dispatch(job.ID) {
		// Not an error: the job row is waiting and the stale monitor will
		// re-dispatch it once the channel drains.
		q.logger.Warn("dispatch channel full, job deferred to monitor",
			"job_id", job.ID, "kind", job.Kind)
	}
	return nil
}

// Dispatch offers a job ID to the worker pool without blocking. Returns
// false when the channel is full. Duplicate dispatches of the same ID are
// harmless: only the first claim succeeds.
func (q *Queue) Dispatch(id uuid.UUID) bool {
	select {
	case q.jobs <- id:
		return true
	default:
		return false
	}
}

// Channel exposes the dispatch channel for workers.
func (q *Queue) Channel() <-chan uuid.UUID {
	return q.jobs
}

// FindInFlight returns the user's in-flight job for the same operation and
// targets, or store.ErrJobNotFound. The admission controller calls this for
// duplicate detection.
func (q *Queue) FindInFlight(ctx context.Context, userID uuid.UUID, kind domain.OperationKind, targetIDs []string) (*domain.Job, error) {
	return q.store.FindInFlightByTargetKey(ctx, userID, domain.TargetKey(kind, targetIDs))
}

// GetJob returns a job by ID, or store.ErrJobNotFound.
func (q *Queue) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return q.store.GetByID(ctx, id)
}

// ListUserJobs returns the user's jobs, newest first.
func (q *Queue) ListUserJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Job, error) {
	return q.store.ListByUser(ctx, userID, limit, offset)
}

// Close closes the dispatch channel. Call only after the runner has stopped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.jobs) })
}
