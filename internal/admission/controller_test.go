package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlo-app/parlo-api/internal/cooldown"
	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/quota"
	"github.com/parlo-app/parlo-api/internal/store"
)

type fakeQuota struct {
	status *quota.Status
	err    error
	calls  int
}

func (f *fakeQuota) CheckAndDescribe(_ context.Context, _ uuid.UUID, _ domain.Role) (*quota.Status, error) {
	f.calls++
	return f.status, f.err
}

type fakeCooldown struct {
	status cooldown.Status
	checks int
	armed  int
}

func (f *fakeCooldown) CheckAndDescribe(_ uuid.UUID) cooldown.Status {
	f.checks++
	return f.status
}

func (f *fakeCooldown) Arm(_ uuid.UUID) { f.armed++ }

type fakeQueue struct {
	inFlight   *domain.Job
	findCalls  int
	enqueued   []*domain.Job
	enqueueErr error
}

func (f *fakeQueue) FindInFlight(_ context.Context, _ uuid.UUID, _ domain.OperationKind, _ []string) (*domain.Job, error) {
	f.findCalls++
	if f.inFlight == nil {
		return nil, store.ErrJobNotFound
	}
	return f.inFlight, nil
}

func (f *fakeQueue) Enqueue(_ context.Context, job *domain.Job) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

func allowedQuota() *quota.Status {
	return &quota.Status{
		Allowed:   true,
		Used:      3,
		Limit:     20,
		Remaining: 17,
		ResetsAt:  time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}
}

func dialoguePayload() domain.Payload {
	return domain.Payload{
		Kind:     domain.OperationDialogue,
		Dialogue: &domain.DialogueParams{Language: "es", Level: "B1"},
	}
}

func newTestController(q *fakeQuota, cd *fakeCooldown, jq *fakeQueue) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(q, cd, jq, nil, logger)
}

func TestControllerAdmit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	userID := uuid.New()
	targets := []string{"ep-1"}

	t.Run("admits, enqueues and arms cooldown", func(t *testing.T) {
		t.Parallel()
		jq := &fakeQueue{}
		cd := &fakeCooldown{}
		controller := newTestController(&fakeQuota{status: allowedQuota()}, cd, jq)

		decision, rejection, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, dialoguePayload())
		require.NoError(t, err)
		require.Nil(t, rejection)
		require.NotNil(t, decision)

		assert.False(t, decision.Existing)
		require.Len(t, jq.enqueued, 1)
		assert.Equal(t, decision.JobID, jq.enqueued[0].ID)
		assert.Equal(t, domain.JobStateWaiting, jq.enqueued[0].State)
		assert.Equal(t, 1, cd.armed, "cooldown armed on admission")
	})

	t.Run("quota exceeded rejects with detail and creates no job", func(t *testing.T) {
		t.Parallel()
		jq := &fakeQueue{}
		cd := &fakeCooldown{}
		exhausted := &quota.Status{
			Allowed: false, Used: 20, Limit: 20,
			ResetsAt: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		}
		controller := newTestController(&fakeQuota{status: exhausted}, cd, jq)

		decision, rejection, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, dialoguePayload())
		require.NoError(t, err)
		assert.Nil(t, decision)
		require.NotNil(t, rejection)

		assert.Equal(t, ReasonQuotaExceeded, rejection.Reason)
		assert.Equal(t, 20, rejection.Used)
		assert.Equal(t, 20, rejection.Limit)
		assert.Equal(t, exhausted.ResetsAt, rejection.ResetsAt)
		assert.Empty(t, jq.enqueued)
		assert.Zero(t, cd.armed, "rejection never arms cooldown")
	})

	t.Run("unlimited role bypasses quota ledger", func(t *testing.T) {
		t.Parallel()
		exhaustedLedger := &fakeQuota{status: &quota.Status{Allowed: false, Used: 999, Limit: 20}}
		jq := &fakeQueue{}
		controller := newTestController(exhaustedLedger, &fakeCooldown{}, jq)

		decision, rejection, err := controller.Admit(ctx, userID, domain.RoleAdmin,
			domain.OperationDialogue, targets, dialoguePayload())
		require.NoError(t, err)
		require.Nil(t, rejection)
		require.NotNil(t, decision)

		assert.Zero(t, exhaustedLedger.calls, "ledger never consulted for unlimited roles")
	})

	t.Run("quota store failure fails closed", func(t *testing.T) {
		t.Parallel()
		jq := &fakeQueue{}
		controller := newTestController(
			&fakeQuota{err: errors.New("connection refused")}, &fakeCooldown{}, jq)

		decision, rejection, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, dialoguePayload())
		require.ErrorIs(t, err, ErrCheckFailed)
		assert.Nil(t, decision)
		assert.Nil(t, rejection)
		assert.Empty(t, jq.enqueued)
	})

	t.Run("active cooldown rejects before duplicate check", func(t *testing.T) {
		t.Parallel()
		jq := &fakeQueue{}
		cd := &fakeCooldown{status: cooldown.Status{Active: true, RemainingSeconds: 29}}
		controller := newTestController(&fakeQuota{status: allowedQuota()}, cd, jq)

		decision, rejection, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, dialoguePayload())
		require.NoError(t, err)
		assert.Nil(t, decision)
		require.NotNil(t, rejection)

		assert.Equal(t, ReasonCooldownActive, rejection.Reason)
		assert.Equal(t, 29, rejection.RemainingSeconds)
		assert.Zero(t, jq.findCalls,
			"rapid repeats are throttled before collapsing into a duplicate")
	})

	t.Run("quota is checked before cooldown", func(t *testing.T) {
		t.Parallel()
		exhausted := &quota.Status{Allowed: false, Used: 20, Limit: 20}
		cd := &fakeCooldown{status: cooldown.Status{Active: true, RemainingSeconds: 10}}
		controller := newTestController(&fakeQuota{status: exhausted}, cd, &fakeQueue{})

		_, rejection, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, dialoguePayload())
		require.NoError(t, err)
		require.NotNil(t, rejection)

		assert.Equal(t, ReasonQuotaExceeded, rejection.Reason,
			"out of quota is the more informative error")
		assert.Zero(t, cd.checks)
	})

	t.Run("in-flight duplicate returns existing job id", func(t *testing.T) {
		t.Parallel()
		existing := &domain.Job{ID: uuid.New(), State: domain.JobStateActive}
		jq := &fakeQueue{inFlight: existing}
		cd := &fakeCooldown{}
		controller := newTestController(&fakeQuota{status: allowedQuota()}, cd, jq)

		decision, rejection, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, dialoguePayload())
		require.NoError(t, err)
		require.Nil(t, rejection)
		require.NotNil(t, decision)

		assert.True(t, decision.Existing)
		assert.Equal(t, existing.ID, decision.JobID)
		assert.Empty(t, jq.enqueued, "no second job created")
		assert.Zero(t, cd.armed, "idempotent return does not re-arm cooldown")
	})

	t.Run("invalid payload is a validation error", func(t *testing.T) {
		t.Parallel()
		jq := &fakeQueue{}
		controller := newTestController(&fakeQuota{status: allowedQuota()}, &fakeCooldown{}, jq)

		payload := domain.Payload{Kind: domain.OperationDialogue} // missing params
		_, _, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, payload)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Empty(t, jq.enqueued)
	})

	t.Run("enqueue failure does not arm cooldown", func(t *testing.T) {
		t.Parallel()
		jq := &fakeQueue{enqueueErr: errors.New("insert failed")}
		cd := &fakeCooldown{}
		controller := newTestController(&fakeQuota{status: allowedQuota()}, cd, jq)

		_, _, err := controller.Admit(ctx, userID, domain.RoleFree,
			domain.OperationDialogue, targets, dialoguePayload())
		require.Error(t, err)
		assert.Zero(t, cd.armed)
	})
}
