// Package quota implements the weekly generation quota ledger. The ledger
// answers "may this user start another generation this week" and records
// completed generations; it never mutates usage at admission time.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/platform/logger"
	"github.com/parlo-app/parlo-api/internal/store"
)

// RecordStore defines the persistence operations the ledger needs.
type RecordStore interface {
	// Get returns the usage record for the user and period, or
	// store.ErrQuotaRecordNotFound when no usage exists yet.
	Get(ctx context.Context, userID uuid.UUID, periodKey string) (*domain.QuotaRecord, error)

	// Increment adds one completed generation to the user's counter for the
	// period, creating the record on first use.
	Increment(ctx context.Context, userID uuid.UUID, periodKey string) error
}

// Status describes a user's quota standing for the current period.
type Status struct {
	Allowed   bool
	Used      int
	Limit     int
	Remaining int
	ResetsAt  time.Time
}

// Limits maps roles to weekly generation limits. Roles with Unlimited()
// never reach the ledger, so they need no entry.
type Limits map[domain.Role]int

// Ledger checks and records weekly generation usage. Time is injectable for
// tests; production uses time.Now.
type Ledger struct {
	store  RecordStore
	limits Limits
	now    func() time.Time
}

// NewLedger creates a quota ledger with the given per-role limits.
func NewLedger(recordStore RecordStore, limits Limits) *Ledger {
	return &Ledger{
		store:  recordStore,
		limits: limits,
		now:    time.Now,
	}
}

// WithNow overrides the clock. Test use only.
func (l *Ledger) WithNow(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CheckAndDescribe reports whether the user may start another generation in
// the current period, together with the numbers a rejection response needs.
// Storage errors are returned as-is so callers can fail closed.
func (l *Ledger) CheckAndDescribe(ctx context.Context, userID uuid.UUID, role domain.Role) (*Status, error) {
	limit, ok := l.limits[role]
	if !ok {
		return nil, fmt.Errorf("%w: no quota limit for role %q", domain.ErrInvalidRole, role)
	}

	now := l.now()
	used := 0

	record, err := l.store.Get(ctx, userID, domain.PeriodKeyAt(now))
	switch {
	case err == nil:
		used = record.Used
	case errors.Is(err, store.ErrQuotaRecordNotFound):
		// First generation of the period.
	default:
		return nil, fmt.Errorf("quota check failed: %w", err)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return &Status{
		Allowed:   used < limit,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetsAt:  domain.NextResetAt(now),
	}, nil
}

// RecordCompletion counts one completed generation against the user's
// current period. Called exactly once per job, on successful completion
// only; failed jobs never consume quota.
func (l *Ledger) RecordCompletion(ctx context.Context, userID uuid.UUID, kind domain.OperationKind) error {
	log := logger.FromContext(ctx)

	periodKey := domain.PeriodKeyAt(l.now())
	if err := l.store.Increment(ctx, userID, periodKey); err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}

	log.Debug("generation recorded against quota",
		"user_id", userID, "kind", kind, "period_key", periodKey)
	return nil
}
