package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization role attached to a requesting user. It
// determines the weekly generation limit; admins are unlimited and bypass
// the quota ledger entirely.
type Role string

// Supported roles.
const (
	RoleFree  Role = "free"
	RolePlus  Role = "plus"
	RoleAdmin Role = "admin"
)

// Unlimited reports whether the role is exempt from quota enforcement.
func (r Role) Unlimited() bool {
	return r == RoleAdmin
}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	switch r {
	case RoleFree, RolePlus, RoleAdmin:
		return true
	default:
		return false
	}
}

// QuotaRecord is the persistent per-user, per-period count of completed
// generations. Used only ever increases within a period; rollover happens
// implicitly because each period has its own key.
type QuotaRecord struct {
	UserID    uuid.UUID `json:"user_id"`
	PeriodKey string    `json:"period_key"`
	Used      int       `json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PeriodKeyAt returns the quota period identifier for the given instant:
// the ISO-8601 week, e.g. "2026-W35". Periods are Monday-aligned calendar
// weeks in UTC.
func PeriodKeyAt(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// PeriodStartAt returns the start of the quota period containing t: the
// preceding (or same) Monday at 00:00 UTC.
func PeriodStartAt(t time.Time) time.Time {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -daysSinceMonday)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

// NextResetAt returns the start of the next quota period after t. It is
// always computed from the current time, never stored, so it cannot drift.
func NextResetAt(t time.Time) time.Time {
	return PeriodStartAt(t).AddDate(0, 0, 7)
}
