package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-app/parlo-api/internal/admission"
	"github.com/parlo-app/parlo-api/internal/api/shared"
	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/store"
)

type fakeAdmitter struct {
	decision  *admission.Decision
	rejection *admission.Rejection
	err       error

	gotKind    domain.OperationKind
	gotTargets []string
	gotRole    domain.Role
}

func (f *fakeAdmitter) Admit(
	_ context.Context,
	_ uuid.UUID,
	role domain.Role,
	kind domain.OperationKind,
	targetIDs []string,
	_ domain.Payload,
) (*admission.Decision, *admission.Rejection, error) {
	f.gotKind = kind
	f.gotTargets = targetIDs
	f.gotRole = role
	return f.decision, f.rejection, f.err
}

type fakeJobReader struct {
	job  *domain.Job
	jobs []*domain.Job
	err  error
}

func (f *fakeJobReader) GetJob(_ context.Context, _ uuid.UUID) (*domain.Job, error) {
	return f.job, f.err
}

func (f *fakeJobReader) ListUserJobs(_ context.Context, _ uuid.UUID, _, _ int) ([]*domain.Job, error) {
	return f.jobs, f.err
}

// newAuthedRequest builds a request whose context carries the user identity
// the auth middleware would have set.
func newAuthedRequest(method, target string, body string, userID uuid.UUID, role domain.Role) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := context.WithValue(r.Context(), shared.UserIDContextKey, userID)
	ctx = context.WithValue(ctx, shared.UserRoleContextKey, role)
	return r.WithContext(ctx)
}

func newTestRouter(handler *GenerationHandler) *chi.Mux {
	router := chi.NewRouter()
	router.Post("/api/generations", handler.CreateGeneration)
	router.Get("/api/generations/{id}", handler.GetGeneration)
	router.Get("/api/generations", handler.ListGenerations)
	return router
}

const validBody = `{
	"kind": "dialogue",
	"target_ids": ["ep-1"],
	"dialogue": {"language": "es", "level": "B1"}
}`

func TestCreateGeneration(t *testing.T) {
	t.Parallel()
	userID := uuid.New()

	t.Run("new job returns 202 with job id", func(t *testing.T) {
		t.Parallel()
		jobID := uuid.New()
		admitter := &fakeAdmitter{decision: &admission.Decision{JobID: jobID}}
		router := newTestRouter(NewGenerationHandler(admitter, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", validBody, userID, domain.RoleFree))

		require.Equal(t, http.StatusAccepted, w.Code)
		var resp AdmissionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, jobID.String(), resp.JobID)
		assert.False(t, resp.Existing)

		assert.Equal(t, domain.OperationDialogue, admitter.gotKind)
		assert.Equal(t, []string{"ep-1"}, admitter.gotTargets)
		assert.Equal(t, domain.RoleFree, admitter.gotRole)
	})

	t.Run("existing in-flight job returns 200", func(t *testing.T) {
		t.Parallel()
		jobID := uuid.New()
		admitter := &fakeAdmitter{decision: &admission.Decision{JobID: jobID, Existing: true}}
		router := newTestRouter(NewGenerationHandler(admitter, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", validBody, userID, domain.RoleFree))

		require.Equal(t, http.StatusOK, w.Code)
		var resp AdmissionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, jobID.String(), resp.JobID)
		assert.True(t, resp.Existing)
	})

	t.Run("quota rejection returns 429 with detail", func(t *testing.T) {
		t.Parallel()
		resetsAt := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
		admitter := &fakeAdmitter{rejection: &admission.Rejection{
			Reason: admission.ReasonQuotaExceeded, Used: 20, Limit: 20, ResetsAt: resetsAt,
		}}
		router := newTestRouter(NewGenerationHandler(admitter, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", validBody, userID, domain.RoleFree))

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		var resp RejectionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "quota_exceeded", resp.Error)
		require.NotNil(t, resp.Used)
		assert.Equal(t, 20, *resp.Used)
		require.NotNil(t, resp.Limit)
		assert.Equal(t, 20, *resp.Limit)
		require.NotNil(t, resp.ResetsAt)
		assert.True(t, resetsAt.Equal(*resp.ResetsAt))
		assert.Nil(t, resp.RemainingSeconds)
	})

	t.Run("cooldown rejection returns 429 with remaining seconds", func(t *testing.T) {
		t.Parallel()
		admitter := &fakeAdmitter{rejection: &admission.Rejection{
			Reason: admission.ReasonCooldownActive, RemainingSeconds: 29,
		}}
		router := newTestRouter(NewGenerationHandler(admitter, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", validBody, userID, domain.RoleFree))

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		var resp RejectionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "cooldown_active", resp.Error)
		require.NotNil(t, resp.RemainingSeconds)
		assert.Equal(t, 29, *resp.RemainingSeconds)
		assert.Nil(t, resp.Used)
	})

	t.Run("check failure returns 503", func(t *testing.T) {
		t.Parallel()
		admitter := &fakeAdmitter{err: admission.ErrCheckFailed}
		router := newTestRouter(NewGenerationHandler(admitter, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", validBody, userID, domain.RoleFree))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("validation error returns 400", func(t *testing.T) {
		t.Parallel()
		admitter := &fakeAdmitter{err: domain.ErrValidation}
		router := newTestRouter(NewGenerationHandler(admitter, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", validBody, userID, domain.RoleFree))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{}, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", "{not json", userID, domain.RoleFree))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown operation kind returns 400", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{}, &fakeJobReader{}))

		body := `{"kind": "karaoke", "target_ids": ["ep-1"]}`
		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodPost, "/api/generations", body, userID, domain.RoleFree))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing identity returns 401", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{}, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/generations", strings.NewReader(validBody)))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetGeneration(t *testing.T) {
	t.Parallel()
	userID := uuid.New()

	newStoredJob := func(owner uuid.UUID) *domain.Job {
		job, err := domain.NewJob(owner, domain.OperationDialogue, []string{"ep-1"}, domain.Payload{
			Kind:     domain.OperationDialogue,
			Dialogue: &domain.DialogueParams{Language: "es", Level: "B1"},
		})
		require.NoError(t, err)
		return job
	}

	t.Run("returns job status", func(t *testing.T) {
		t.Parallel()
		job := newStoredJob(userID)
		job.State = domain.JobStateDelayed
		nextRun := time.Now().UTC().Add(time.Minute)
		job.NextRunAt = &nextRun
		job.Attempts = 1
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{}, &fakeJobReader{job: job}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodGet, "/api/generations/"+job.ID.String(), "", userID, domain.RoleFree))

		require.Equal(t, http.StatusOK, w.Code)
		var resp JobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, job.ID.String(), resp.ID)
		assert.Equal(t, "delayed", resp.State)
		assert.Equal(t, 1, resp.Attempts)
		assert.NotNil(t, resp.NextRunAt)
	})

	t.Run("unknown job returns 404", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{},
			&fakeJobReader{err: store.ErrJobNotFound}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodGet, "/api/generations/"+uuid.NewString(), "", userID, domain.RoleFree))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("another user's job reads as 404", func(t *testing.T) {
		t.Parallel()
		job := newStoredJob(uuid.New())
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{}, &fakeJobReader{job: job}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodGet, "/api/generations/"+job.ID.String(), "", userID, domain.RoleFree))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id returns 400", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{}, &fakeJobReader{}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodGet, "/api/generations/not-a-uuid", "", userID, domain.RoleFree))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(NewGenerationHandler(&fakeAdmitter{},
			&fakeJobReader{err: errors.New("connection refused")}))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newAuthedRequest(http.MethodGet, "/api/generations/"+uuid.NewString(), "", userID, domain.RoleFree))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestListGenerations(t *testing.T) {
	t.Parallel()
	userID := uuid.New()

	job, err := domain.NewJob(userID, domain.OperationAudio, []string{"ep-2"}, domain.Payload{
		Kind:  domain.OperationAudio,
		Audio: &domain.AudioParams{Voice: "es-f-1"},
	})
	require.NoError(t, err)

	router := newTestRouter(NewGenerationHandler(&fakeAdmitter{},
		&fakeJobReader{jobs: []*domain.Job{job}}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newAuthedRequest(http.MethodGet, "/api/generations?limit=5", "", userID, domain.RoleFree))

	require.Equal(t, http.StatusOK, w.Code)
	var resp JobListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "audio", resp.Jobs[0].Kind)
	assert.Equal(t, "waiting", resp.Jobs[0].State)
}
