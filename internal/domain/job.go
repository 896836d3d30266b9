package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a generation job.
type JobState string

// Possible job states. Waiting is the initial state; Completed and Failed
// are terminal.
const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Common validation errors for Job.
var (
	ErrEmptyJobID        = errors.New("job ID cannot be empty")
	ErrEmptyJobUserID    = errors.New("job user ID cannot be empty")
	ErrInvalidJobState   = errors.New("invalid job state")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Terminal reports whether the state is terminal. Terminal jobs are never
// mutated again.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// InFlight reports whether a job in this state counts for duplicate
// detection: it has been admitted but has not reached a terminal state.
func (s JobState) InFlight() bool {
	switch s {
	case JobStateWaiting, JobStateActive, JobStateDelayed:
		return true
	default:
		return false
	}
}

// validTransitions encodes the job state machine:
//
//	Waiting -> Active                    (worker claim)
//	Active  -> Completed | Failed        (terminal outcome)
//	Active  -> Delayed                   (transient failure, retry scheduled)
//	Active  -> Waiting                   (crash recovery reclaim; at-least-once)
//	Delayed -> Active                    (backoff elapsed, worker claim)
var validTransitions = map[JobState]map[JobState]bool{
	JobStateWaiting: {JobStateActive: true},
	JobStateActive: {
		JobStateCompleted: true,
		JobStateFailed:    true,
		JobStateDelayed:   true,
		JobStateWaiting:   true,
	},
	JobStateDelayed: {JobStateActive: true},
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s JobState) CanTransitionTo(next JobState) bool {
	return validTransitions[s][next]
}

// isValidJobState checks if the given state is a known JobState.
func isValidJobState(state JobState) bool {
	switch state {
	case JobStateWaiting, JobStateActive, JobStateDelayed,
		JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// Job represents one admitted unit of generation work. It is created by the
// admission controller on successful admission and mutated only by the job
// worker; the HTTP layer reads it through the status endpoint.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Kind          OperationKind   `json:"kind"`
	TargetIDs     []string        `json:"target_ids"`
	TargetKey     string          `json:"target_key"`
	Payload       Payload         `json:"payload"`
	State         JobState        `json:"state"`
	Progress      json.RawMessage `json:"progress,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Attempts      int             `json:"attempts"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewJob creates a Waiting job for the given user, operation and targets.
// The payload is validated here so malformed requests never reach the queue.
func NewJob(userID uuid.UUID, kind OperationKind, targetIDs []string, payload Payload) (*Job, error) {
	if userID == uuid.Nil {
		return nil, ErrEmptyJobUserID
	}
	if kind != payload.Kind {
		return nil, fmt.Errorf("%w: job kind %s, payload kind %s",
			ErrPayloadKindMismatch, kind, payload.Kind)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	normalized := NormalizeTargetIDs(targetIDs)
	if len(normalized) == 0 {
		return nil, ErrEmptyTargetIDs
	}

	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		TargetIDs: normalized,
		TargetKey: TargetKey(kind, normalized),
		Payload:   payload,
		State:     JobStateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks the job's fields for internal consistency.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}
	if j.UserID == uuid.Nil {
		return ErrEmptyJobUserID
	}
	if len(j.TargetIDs) == 0 {
		return ErrEmptyTargetIDs
	}
	if !isValidJobState(j.State) {
		return fmt.Errorf("%w: %q", ErrInvalidJobState, j.State)
	}
	return j.Payload.Validate()
}

// TransitionTo moves the job to the next state, enforcing the state machine
// and refusing any mutation of a terminal job.
func (j *Job) TransitionTo(next JobState) error {
	if !isValidJobState(next) {
		return fmt.Errorf("%w: %q", ErrInvalidJobState, next)
	}
	if !j.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, next)
	}
	j.State = next
	j.UpdatedAt = time.Now().UTC()
	return nil
}
