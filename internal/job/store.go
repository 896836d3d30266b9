// Package job implements the durable generation job queue: persistence-backed
// dispatch, a worker pool executing jobs through a Generator, retry with
// exponential backoff, and crash recovery. Delivery is at-least-once; the
// state machine in the domain package bounds what each worker may do.
package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/domain"
)

// Store defines the persistence operations the queue and runner need. The
// PostgreSQL implementation lives in internal/platform/postgres.
type Store interface {
	// Create persists a new job row.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID returns a job or store.ErrJobNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// FindInFlightByTargetKey returns the user's most recent non-terminal job
	// for the target key, or store.ErrJobNotFound.
	FindInFlightByTargetKey(ctx context.Context, userID uuid.UUID, targetKey string) (*domain.Job, error)

	// Claim atomically moves a claimable job to active and increments its
	// attempt counter. Waiting jobs are always claimable; delayed jobs only
	// once their retry time has passed. Returns store.ErrStaleState when
	// the job was not claimable.
	Claim(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// MarkCompleted, MarkFailed and MarkDelayed finish an active attempt.
	// All are guarded on the active state and return store.ErrStaleState
	// when the guard fails.
	MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkDelayed(ctx context.Context, id uuid.UUID, nextRunAt time.Time) error

	// UpdateProgress stores advisory progress on an active job.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress json.RawMessage) error

	// ListWaiting returns all waiting jobs, oldest first.
	ListWaiting(ctx context.Context) ([]*domain.Job, error)

	// DueDelayed returns delayed jobs whose retry time has passed.
	DueDelayed(ctx context.Context, now time.Time) ([]*domain.Job, error)

	// ResetStaleActive moves active jobs last touched before cutoff back to
	// waiting and returns their IDs.
	ResetStaleActive(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	// ListByUser returns the user's jobs, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Job, error)
}
