package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodKeyAt(t *testing.T) {
	t.Parallel()

	// 2026-08-26 is a Wednesday in ISO week 35.
	wednesday := time.Date(2026, 8, 26, 15, 4, 0, 0, time.UTC)
	assert.Equal(t, "2026-W35", PeriodKeyAt(wednesday))

	// Same key for the whole Monday-aligned week.
	monday := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2026, 8, 30, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, PeriodKeyAt(monday), PeriodKeyAt(wednesday))
	assert.Equal(t, PeriodKeyAt(monday), PeriodKeyAt(sunday))

	// A new week gets a new key.
	nextMonday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	assert.NotEqual(t, PeriodKeyAt(sunday), PeriodKeyAt(nextMonday))

	// ISO week years differ from calendar years at the boundary:
	// 2027-01-01 is a Friday and still belongs to 2026-W53.
	newYear := time.Date(2027, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-W53", PeriodKeyAt(newYear))
}

func TestPeriodStartAt(t *testing.T) {
	t.Parallel()

	monday := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   time.Time
	}{
		{"monday midnight", monday},
		{"monday later", time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC)},
		{"midweek", time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)},
		{"sunday night", time.Date(2026, 8, 30, 23, 59, 59, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, monday, PeriodStartAt(tc.in))
		})
	}
}

func TestNextResetAt(t *testing.T) {
	t.Parallel()

	midweek := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	reset := NextResetAt(midweek)

	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), reset)
	assert.Equal(t, time.Monday, reset.Weekday())
	assert.True(t, reset.After(midweek))

	// Deterministic: recomputing from any instant in the same week agrees.
	assert.Equal(t, reset, NextResetAt(time.Date(2026, 8, 24, 0, 0, 1, 0, time.UTC)))
}

func TestRole(t *testing.T) {
	t.Parallel()

	assert.True(t, RoleAdmin.Unlimited())
	assert.False(t, RoleFree.Unlimited())
	assert.False(t, RolePlus.Unlimited())

	assert.True(t, IsValidRole(RoleFree))
	assert.True(t, IsValidRole(RolePlus))
	assert.True(t, IsValidRole(RoleAdmin))
	assert.False(t, IsValidRole("superuser"))
}
