// Package api contains the HTTP handlers, request/response models and
// error mapping for the generation endpoints.
package api

import (
	"encoding/json"
	"time"

	"github.com/parlo-app/parlo-api/internal/domain"
)

// CreateGenerationRequest is the request body for starting a generation.
// Exactly one parameter block matching Kind must be present; the payload
// validator enforces this at admission.
type CreateGenerationRequest struct {
	Kind      string   `json:"kind"       validate:"required"`
	TargetIDs []string `json:"target_ids" validate:"required,min=1"`

	Dialogue        *domain.DialogueParams        `json:"dialogue,omitempty"`
	Audio           *domain.AudioParams           `json:"audio,omitempty"`
	AudioAllSpeeds  *domain.AudioParams           `json:"audio_all_speeds,omitempty"`
	Images          *domain.ImagesParams          `json:"images,omitempty"`
	Course          *domain.CourseParams          `json:"course,omitempty"`
	NarrowListening *domain.NarrowListeningParams `json:"narrow_listening,omitempty"`
	PISession       *domain.PISessionParams       `json:"pi_session,omitempty"`
}

// Payload assembles the domain payload from the request body.
func (r *CreateGenerationRequest) Payload() domain.Payload {
	return domain.Payload{
		Kind:            domain.OperationKind(r.Kind),
		Dialogue:        r.Dialogue,
		Audio:           r.Audio,
		AudioAllSpeeds:  r.AudioAllSpeeds,
		Images:          r.Images,
		Course:          r.Course,
		NarrowListening: r.NarrowListening,
		PISession:       r.PISession,
	}
}

// AdmissionResponse is returned when a request is admitted: 202 for a new
// job, 200 with existing=true when the request matched an in-flight job.
type AdmissionResponse struct {
	JobID    string `json:"job_id"`
	Existing bool   `json:"existing"`
}

// RejectionResponse is the 429 body for quota and cooldown rejections.
type RejectionResponse struct {
	Error            string     `json:"error"`
	Used             *int       `json:"used,omitempty"`
	Limit            *int       `json:"limit,omitempty"`
	ResetsAt         *time.Time `json:"resets_at,omitempty"`
	RemainingSeconds *int       `json:"remaining_seconds,omitempty"`
	TraceID          string     `json:"trace_id,omitempty"`
}

// JobResponse is the status-poller view of a job.
type JobResponse struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	TargetIDs     []string        `json:"target_ids"`
	State         string          `json:"state"`
	Progress      json.RawMessage `json:"progress,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Attempts      int             `json:"attempts"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// JobListResponse wraps the user's job history.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

func jobToResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:            job.ID.String(),
		Kind:          string(job.Kind),
		TargetIDs:     job.TargetIDs,
		State:         string(job.State),
		Progress:      job.Progress,
		Result:        job.Result,
		FailureReason: job.FailureReason,
		Attempts:      job.Attempts,
		NextRunAt:     job.NextRunAt,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}
