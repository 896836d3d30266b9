package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/platform/logger"
	"github.com/parlo-app/parlo-api/internal/store"
)

// QuotaStore manages per-user weekly usage counters in PostgreSQL. Rows are
// keyed by (user_id, period_key); a missing row means zero usage for that
// period.
type QuotaStore struct {
	db store.DBTX
}

// NewQuotaStore creates a new PostgreSQL quota store.
func NewQuotaStore(db store.DBTX) *QuotaStore {
	return &QuotaStore{db: db}
}

// Get returns the usage record for the user and period, or
// store.ErrQuotaRecordNotFound when the user has no usage in that period.
func (s *QuotaStore) Get(ctx context.Context, userID uuid.UUID, periodKey string) (*domain.QuotaRecord, error) {
	query := `
		SELECT user_id, period_key, used, updated_at
		FROM quota_records
		WHERE user_id = $1 AND period_key = $2
	`
	var record domain.QuotaRecord
	err := s.db.QueryRowContext(ctx, query, userID, periodKey).Scan(
		&record.UserID, &record.PeriodKey, &record.Used, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrQuotaRecordNotFound
		}
		return nil, fmt.Errorf("failed to get quota record: %w", err)
	}
	return &record, nil
}

// Increment adds one to the user's usage counter for the period, creating
// the row on first use. The upsert makes concurrent increments safe.
func (s *QuotaStore) Increment(ctx context.Context, userID uuid.UUID, periodKey string) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO quota_records (user_id, period_key, used, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, period_key)
		DO UPDATE SET used = quota_records.used + 1, updated_at = $3
	`
	_, err := s.db.ExecContext(ctx, query, userID, periodKey, time.Now().UTC())
	if err != nil {
		log.Error("failed to increment quota",
			"error", err, "user_id", userID, "period_key", periodKey)
		return fmt.Errorf("failed to increment quota: %w", err)
	}

	log.Debug("quota incremented", "user_id", userID, "period_key", periodKey)
	return nil
}
