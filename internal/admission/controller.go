// Package admission implements the synchronous admit-or-reject decision for
// generation requests, composing the quota ledger, cooldown guard and job
// queue. Admission is enqueue-and-return: it never waits on job execution.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/cooldown"
	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/metrics"
	"github.com/parlo-app/parlo-api/internal/quota"
	"github.com/parlo-app/parlo-api/internal/store"
)

// ErrCheckFailed is returned when an admission precondition could not be
// evaluated because a backing store failed. Admission fails closed: the
// request is rejected rather than admitted past an unverifiable limit.
var ErrCheckFailed = errors.New("admission check failed")

// QuotaChecker is the quota ledger surface admission needs.
type QuotaChecker interface {
	CheckAndDescribe(ctx context.Context, userID uuid.UUID, role domain.Role) (*quota.Status, error)
}

// CooldownGuard is the cooldown surface admission needs.
type CooldownGuard interface {
	CheckAndDescribe(userID uuid.UUID) cooldown.Status
	Arm(userID uuid.UUID)
}

// JobQueue is the queue surface admission needs: duplicate lookup and
// enqueue.
type JobQueue interface {
	FindInFlight(ctx context.Context, userID uuid.UUID, kind domain.OperationKind, targetIDs []string) (*domain.Job, error)
	Enqueue(ctx context.Context, job *domain.Job) error
}

// RejectionReason discriminates the expected, user-facing rejections.
type RejectionReason string

// Rejection reasons.
const (
	ReasonQuotaExceeded  RejectionReason = "quota_exceeded"
	ReasonCooldownActive RejectionReason = "cooldown_active"
)

// Rejection carries the structured detail a caller needs to render an
// informative message or schedule a retry.
type Rejection struct {
	Reason RejectionReason

	// Quota detail, set when Reason is ReasonQuotaExceeded.
	Used     int
	Limit    int
	ResetsAt time.Time

	// Cooldown detail, set when Reason is ReasonCooldownActive.
	RemainingSeconds int
}

// Decision is the outcome of a successful Admit call: either a freshly
// enqueued job or, for a duplicate request, the existing in-flight job.
type Decision struct {
	JobID    uuid.UUID
	Existing bool
}

// Controller makes admission decisions. All collaborators are injected; the
// controller holds no ambient state of its own.
type Controller struct {
	quota    QuotaChecker
	cooldown CooldownGuard
	queue    JobQueue
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewController creates an admission controller.
func NewController(
	quotaChecker QuotaChecker,
	cooldownGuard CooldownGuard,
	queue JobQueue,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		quota:    quotaChecker,
		cooldown: cooldownGuard,
		queue:    queue,
		metrics:  m,
		logger:   logger,
	}
}

// Admit decides whether a generation request may proceed. Checks run in a
// fixed order, short-circuiting on the first rejection: quota before
// cooldown so an out-of-quota user sees the more informative error, and
// cooldown before duplicate detection so rapid repeated clicks are
// throttled even when they name the same unit of work. Returns exactly one
// of Decision, Rejection or error.
func (c *Controller) Admit(
	ctx context.Context,
	userID uuid.UUID,
	role domain.Role,
	kind domain.OperationKind,
	targetIDs []string,
	payload domain.Payload,
) (*Decision, *Rejection, error) {
	log := c.logger.With("user_id", userID, "kind", kind)

	// Unlimited roles bypass the quota ledger entirely.
	if !role.Unlimited() {
		status, err := c.quota.CheckAndDescribe(ctx, userID, role)
		if err != nil {
			c.metrics.RecordAdmission(metrics.OutcomeCheckFailed)
			log.Error("quota check failed, rejecting", "error", err)
			return nil, nil, fmt.Errorf("%w: %v", ErrCheckFailed, err)
		}
		if !status.Allowed {
			c.metrics.RecordAdmission(metrics.OutcomeQuotaExceeded)
			log.Info("admission rejected, quota exceeded",
				"used", status.Used, "limit", status.Limit)
			return nil, &Rejection{
				Reason:   ReasonQuotaExceeded,
				Used:     status.Used,
				Limit:    status.Limit,
				ResetsAt: status.ResetsAt,
			}, nil
		}
	}

	if status := c.cooldown.CheckAndDescribe(userID); status.Active {
		c.metrics.RecordAdmission(metrics.OutcomeCooldownActive)
		log.Info("admission rejected, cooldown active",
			"remaining_seconds", status.RemainingSeconds)
		return nil, &Rejection{
			Reason:           ReasonCooldownActive,
			RemainingSeconds: status.RemainingSeconds,
		}, nil
	}

	// An in-flight job for the same unit of work is an idempotent success,
	// not a rejection: the caller converges on the canonical job.
	existing, err := c.queue.FindInFlight(ctx, userID, kind, targetIDs)
	switch {
	case err == nil:
		c.metrics.RecordAdmission(metrics.OutcomeExisting)
		log.Info("admission matched in-flight job", "job_id", existing.ID)
		return &Decision{JobID: existing.ID, Existing: true}, nil, nil
	case errors.Is(err, store.ErrJobNotFound):
		// No duplicate; proceed to enqueue.
	default:
		c.metrics.RecordAdmission(metrics.OutcomeCheckFailed)
		log.Error("duplicate check failed, rejecting", "error", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}

	job, err := domain.NewJob(userID, kind, targetIDs, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := c.queue.Enqueue(ctx, job); err != nil {
		c.metrics.RecordAdmission(metrics.OutcomeCheckFailed)
		log.Error("enqueue failed", "error", err)
		return nil, nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	// Armed before the HTTP response is sent, so a near-simultaneous second
	// request from the same user reliably observes the cooldown.
	c.cooldown.Arm(userID)

	c.metrics.RecordAdmission(metrics.OutcomeAdmitted)
	log.Info("job admitted", "job_id", job.ID, "target_key", job.TargetKey)
	return &Decision{JobID: job.ID, Existing: false}, nil, nil
}
