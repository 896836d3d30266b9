package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/admission"
	"github.com/parlo-app/parlo-api/internal/api/middleware"
	"github.com/parlo-app/parlo-api/internal/api/shared"
	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Admitter is the admission controller surface the handler needs.
type Admitter interface {
	Admit(
		ctx context.Context,
		userID uuid.UUID,
		role domain.Role,
		kind domain.OperationKind,
		targetIDs []string,
		payload domain.Payload,
	) (*admission.Decision, *admission.Rejection, error)
}

// JobReader reads jobs for the status and history endpoints.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ListUserJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Job, error)
}

// GenerationHandler handles the generation endpoints.
type GenerationHandler struct {
	admitter Admitter
	jobs     JobReader
}

// NewGenerationHandler creates a GenerationHandler.
func NewGenerationHandler(admitter Admitter, jobs JobReader) *GenerationHandler {
	return &GenerationHandler{admitter: admitter, jobs: jobs}
}

// CreateGeneration handles POST /api/generations: it runs the admission
// decision synchronously and returns without waiting on job execution.
// 202 for a new job, 200 for an idempotent match on an in-flight job,
// 429 for quota/cooldown rejections, 503 when a check could not run.
func (h *GenerationHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	var req CreateGenerationRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	kind := domain.OperationKind(req.Kind)
	if !domain.IsValidOperationKind(kind) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown operation kind: "+req.Kind)
		return
	}

	decision, rejection, err := h.admitter.Admit(
		r.Context(), userID, role, kind, req.TargetIDs, req.Payload())
	switch {
	case err != nil:
		h.respondAdmitError(w, r, err)
	case rejection != nil:
		respondRejection(w, r, rejection)
	case decision.Existing:
		shared.RespondWithJSON(w, r, http.StatusOK, AdmissionResponse{
			JobID:    decision.JobID.String(),
			Existing: true,
		})
	default:
		shared.RespondWithJSON(w, r, http.StatusAccepted, AdmissionResponse{
			JobID:    decision.JobID.String(),
			Existing: false,
		})
	}
}

func (h *GenerationHandler) respondAdmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid generation request: "+err.Error())
	case errors.Is(err, admission.ErrCheckFailed):
		// Fail closed: the limit could not be verified, so the request is
		// rejected rather than admitted past it.
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable,
			"Generation service temporarily unavailable", err)
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to start generation", err)
	}
}

func respondRejection(w http.ResponseWriter, r *http.Request, rejection *admission.Rejection) {
	resp := RejectionResponse{
		Error:   string(rejection.Reason),
		TraceID: shared.GetTraceID(r.Context()),
	}
	switch rejection.Reason {
	case admission.ReasonQuotaExceeded:
		used, limit := rejection.Used, rejection.Limit
		resetsAt := rejection.ResetsAt
		resp.Used = &used
		resp.Limit = &limit
		resp.ResetsAt = &resetsAt
	case admission.ReasonCooldownActive:
		remaining := rejection.RemainingSeconds
		resp.RemainingSeconds = &remaining
	}
	shared.RespondWithJSON(w, r, http.StatusTooManyRequests, resp)
}

// GetGeneration handles GET /api/generations/{id}: the status poller
// contract. Unknown IDs and other users' jobs both read as 404.
func (h *GenerationHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Job not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to fetch job", err)
		return
	}
	if job.UserID != userID {
		shared.RespondWithError(w, r, http.StatusNotFound, "Job not found")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// ListGenerations handles GET /api/generations: the user's job history,
// newest first.
func (h *GenerationHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := authenticatedUser(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.jobs.ListUserJobs(r.Context(), userID, limit, offset)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to list jobs", err)
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, jobToResponse(job))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// authenticatedUser pulls the user ID and role set by the auth middleware,
// writing a 401 when either is missing.
func authenticatedUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, domain.Role, bool) {
	userID, ok := middleware.GetUserID(r)
	if !ok || userID == uuid.Nil {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return uuid.Nil, "", false
	}
	role, ok := middleware.GetUserRole(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User role not found")
		return uuid.Nil, "", false
	}
	return userID, role, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
