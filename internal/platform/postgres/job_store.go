// Package postgres provides PostgreSQL-backed implementations of the
// persistence interfaces used by the quota ledger and the job queue.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/platform/logger"
	"github.com/parlo-app/parlo-api/internal/store"
)

// jobColumns is the canonical column list for generation_jobs queries. Scan
// order must match scanJob.
const jobColumns = `id, user_id, kind, target_ids, target_key, payload,
	state, progress, result, failure_reason, attempts, next_run_at,
	created_at, updated_at`

// JobStore manages generation job persistence in PostgreSQL.
type JobStore struct {
	db store.DBTX
}

// NewJobStore creates a new PostgreSQL job store.
func NewJobStore(db store.DBTX) *JobStore {
	return &JobStore{db: db}
}

// Create persists a new job row. The job must already be valid; validation
// failures are wrapped in store.ErrInvalidEntity.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	targetIDs, err := json.Marshal(job.TargetIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal target IDs: %w", err)
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO generation_jobs
			(id, user_id, kind, target_ids, target_key, payload, state,
			 attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID, job.UserID, string(job.Kind), targetIDs, job.TargetKey,
		payload, string(job.State), job.Attempts, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert job",
			"error", err, "job_id", job.ID, "kind", job.Kind)
		return fmt.Errorf("failed to insert job: %w", err)
	}

	log.Debug("job created",
		"job_id", job.ID, "user_id", job.UserID, "kind", job.Kind)
	return nil
}

// GetByID retrieves a job by its ID, returning store.ErrJobNotFound when no
// row exists.
func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// FindInFlightByTargetKey returns the user's most recently created in-flight
// job for the given target key, or store.ErrJobNotFound when none exists.
// The admission controller uses this for duplicate detection.
func (s *JobStore) FindInFlightByTargetKey(ctx context.Context, userID uuid.UUID, targetKey string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE user_id = $1
		  AND target_key = $2
		  AND state IN ('waiting', 'active', 'delayed')
		ORDER BY created_at DESC
		LIMIT 1
	`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, userID, targetKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find in-flight job: %w", err)
	}
	return job, nil
}

// Claim atomically moves a claimable job to active and increments its
// attempt counter. A waiting job is always claimable; a delayed job only
// once its scheduled retry time has passed, so a stale dispatch ID cannot
// cut a backoff short. Returns store.ErrStaleState when the job was not
// claimable, which callers treat as having lost the claim race.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE generation_jobs
		SET state = 'active',
		    attempts = attempts + 1,
		    next_run_at = NULL,
		    updated_at = $2
		WHERE id = $1
		  AND (state = 'waiting'
		       OR (state = 'delayed' AND next_run_at <= $2))
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrStaleState
		}
		log.Error("failed to claim job", "error", err, "job_id", id)
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	log.Debug("job claimed", "job_id", job.ID, "attempt", job.Attempts)
	return job, nil
}

// MarkCompleted moves an active job to completed and stores its result.
func (s *JobStore) MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	query := `
		UPDATE generation_jobs
		SET state = 'completed',
		    result = $2,
		    progress = NULL,
		    next_run_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND state = 'active'
	`
	return s.guardedUpdate(ctx, "mark completed", query, id, []byte(result), time.Now().UTC())
}

// MarkFailed moves an active job to failed, recording the failure reason
// verbatim for the status endpoint.
func (s *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE generation_jobs
		SET state = 'failed',
		    failure_reason = $2,
		    progress = NULL,
		    next_run_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND state = 'active'
	`
	return s.guardedUpdate(ctx, "mark failed", query, id, reason, time.Now().UTC())
}

// MarkDelayed moves an active job to delayed with a scheduled retry time.
func (s *JobStore) MarkDelayed(ctx context.Context, id uuid.UUID, nextRunAt time.Time) error {
	query := `
		UPDATE generation_jobs
		SET state = 'delayed',
		    next_run_at = $2,
		    updated_at = $3
		WHERE id = $1 AND state = 'active'
	`
	return s.guardedUpdate(ctx, "mark delayed", query, id, nextRunAt.UTC(), time.Now().UTC())
}

// UpdateProgress stores an advisory progress payload on an active job.
// Progress on a job that is no longer active is dropped via ErrStaleState.
func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress json.RawMessage) error {
	query := `
		UPDATE generation_jobs
		SET progress = $2, updated_at = $3
		WHERE id = $1 AND state = 'active'
	`
	return s.guardedUpdate(ctx, "update progress", query, id, []byte(progress), time.Now().UTC())
}

// guardedUpdate executes a state-guarded UPDATE and converts "no rows
// matched" into store.ErrStaleState.
func (s *JobStore) guardedUpdate(ctx context.Context, op, query string, args ...any) error {
	log := logger.FromContext(ctx)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("job update failed", "error", err, "operation", op)
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrStaleState
	}
	return nil
}

// ListWaiting returns all waiting jobs, oldest first. Used at startup to
// refill the dispatch channel.
func (s *JobStore) ListWaiting(ctx context.Context) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE state = 'waiting'
		ORDER BY created_at ASC
	`
	return s.queryJobs(ctx, query)
}

// DueDelayed returns delayed jobs whose scheduled retry time has passed.
func (s *JobStore) DueDelayed(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE state = 'delayed' AND next_run_at <= $1
		ORDER BY next_run_at ASC
	`
	return s.queryJobs(ctx, query, now.UTC())
}

// ResetStaleActive moves active jobs last touched before cutoff back to
// waiting and returns their IDs, so interrupted work is retried rather than
// stranded. Attempt counters are preserved.
func (s *JobStore) ResetStaleActive(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE generation_jobs
		SET state = 'waiting', updated_at = $2
		WHERE state = 'active' AND updated_at < $1
		RETURNING id
	`
	rows, err := s.db.QueryContext(ctx, query, cutoff.UTC(), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to reset stale active jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reset jobs: %w", err)
	}

	if len(ids) > 0 {
		log.Warn("reset stale active jobs", "count", len(ids))
	}
	return ids, nil
}

// ListByUser returns the user's jobs, newest first.
func (s *JobStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return s.queryJobs(ctx, query, userID, limit, offset)
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job           domain.Job
		kind          string
		state         string
		targetIDs     []byte
		payload       []byte
		progress      []byte
		result        []byte
		failureReason sql.NullString
		nextRunAt     sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.UserID, &kind, &targetIDs, &job.TargetKey, &payload,
		&state, &progress, &result, &failureReason, &job.Attempts,
		&nextRunAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = domain.OperationKind(kind)
	job.State = domain.JobState(state)
	if err := json.Unmarshal(targetIDs, &job.TargetIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target IDs: %w", err)
	}
	if err := json.Unmarshal(payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if len(progress) > 0 {
		job.Progress = json.RawMessage(progress)
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if failureReason.Valid {
		job.FailureReason = failureReason.String
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time.UTC()
		job.NextRunAt = &t
	}
	return &job, nil
}
