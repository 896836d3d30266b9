package job

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/store"
)

// MemoryStore is an in-memory Store used in tests and local development. It
// enforces the same state guards as the PostgreSQL implementation so tests
// exercise the real claim and retry races.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job

	// FailWith, when set, makes every method return that error.
	FailWith error
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

func copyJob(job *domain.Job) *domain.Job {
	clone := *job
	clone.TargetIDs = append([]string(nil), job.TargetIDs...)
	if job.NextRunAt != nil {
		t := *job.NextRunAt
		clone.NextRunAt = &t
	}
	return &clone
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if _, exists := m.jobs[job.ID]; exists {
		return store.ErrDuplicate
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

// GetByID implements Store.
func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return copyJob(job), nil
}

// FindInFlightByTargetKey implements Store.
func (m *MemoryStore) FindInFlightByTargetKey(_ context.Context, userID uuid.UUID, targetKey string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var newest *domain.Job
	for _, job := range m.jobs {
		if job.UserID != userID || job.TargetKey != targetKey || !job.State.InFlight() {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, store.ErrJobNotFound
	}
	return copyJob(newest), nil
}

// Claim implements Store. Like the SQL version, a delayed job is claimable
// only once its retry time has passed.
func (m *MemoryStore) Claim(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	now := time.Now().UTC()
	job, ok := m.jobs[id]
	claimable := ok && (job.State == domain.JobStateWaiting ||
		(job.State == domain.JobStateDelayed && job.NextRunAt != nil && !job.NextRunAt.After(now)))
	if !claimable {
		return nil, store.ErrStaleState
	}
	job.State = domain.JobStateActive
	job.Attempts++
	job.NextRunAt = nil
	job.UpdatedAt = now
	return copyJob(job), nil
}

func (m *MemoryStore) guardedSet(id uuid.UUID, from domain.JobState, mutate func(*domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	job, ok := m.jobs[id]
	if !ok || job.State != from {
		return store.ErrStaleState
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted implements Store.
func (m *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID, result json.RawMessage) error {
	return m.guardedSet(id, domain.JobStateActive, func(job *domain.Job) {
		job.State = domain.JobStateCompleted
		job.Result = result
		job.Progress = nil
		job.NextRunAt = nil
	})
}

// MarkFailed implements Store.
func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return m.guardedSet(id, domain.JobStateActive, func(job *domain.Job) {
		job.State = domain.JobStateFailed
		job.FailureReason = reason
		job.Progress = nil
		job.NextRunAt = nil
	})
}

// MarkDelayed implements Store.
func (m *MemoryStore) MarkDelayed(_ context.Context, id uuid.UUID, nextRunAt time.Time) error {
	return m.guardedSet(id, domain.JobStateActive, func(job *domain.Job) {
		job.State = domain.JobStateDelayed
		t := nextRunAt.UTC()
		job.NextRunAt = &t
	})
}

// UpdateProgress implements Store.
func (m *MemoryStore) UpdateProgress(_ context.Context, id uuid.UUID, progress json.RawMessage) error {
	return m.guardedSet(id, domain.JobStateActive, func(job *domain.Job) {
		job.Progress = progress
	})
}

// ListWaiting implements Store.
func (m *MemoryStore) ListWaiting(_ context.Context) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var jobs []*domain.Job
	for _, job := range m.jobs {
		if job.State == domain.JobStateWaiting {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// DueDelayed implements Store.
func (m *MemoryStore) DueDelayed(_ context.Context, now time.Time) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var jobs []*domain.Job
	for _, job := range m.jobs {
		if job.State == domain.JobStateDelayed && job.NextRunAt != nil && !job.NextRunAt.After(now) {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextRunAt.Before(*jobs[j].NextRunAt) })
	return jobs, nil
}

// ResetStaleActive implements Store.
func (m *MemoryStore) ResetStaleActive(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var ids []uuid.UUID
	for _, job := range m.jobs {
		if job.State == domain.JobStateActive && job.UpdatedAt.Before(cutoff) {
			job.State = domain.JobStateWaiting
			job.UpdatedAt = time.Now().UTC()
			ids = append(ids, job.ID)
		}
	}
	return ids, nil
}

// ListByUser implements Store.
func (m *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var jobs []*domain.Job
	for _, job := range m.jobs {
		if job.UserID == userID {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
