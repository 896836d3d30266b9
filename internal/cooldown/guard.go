// Package cooldown implements the per-user admission cooldown: a short,
// volatile gap between consecutive admitted generations. State is held in
// process memory; losing it on restart only means one request admits a
// little early, which is acceptable for a pacing mechanism.
package cooldown

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status describes a user's cooldown standing at check time.
type Status struct {
	Active           bool
	RemainingSeconds int
}

// Guard tracks per-user cooldown expiries. All methods are safe for
// concurrent use. Time is injectable for tests; production uses time.Now.
type Guard struct {
	mu       sync.Mutex
	expiries map[uuid.UUID]time.Time
	duration time.Duration
	now      func() time.Time
}

// NewGuard creates a cooldown guard with the given cooldown duration.
func NewGuard(duration time.Duration) *Guard {
	return &Guard{
		expiries: make(map[uuid.UUID]time.Time),
		duration: duration,
		now:      time.Now,
	}
}

// WithNow overrides the clock. Test use only.
func (g *Guard) WithNow(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Arm starts (or restarts) the user's cooldown. Called on successful
// admission, never on rejection.
func (g *Guard) Arm(userID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expiries[userID] = g.now().Add(g.duration)
}

// CheckAndDescribe reports whether the user is cooling down and, if so, how
// long until the cooldown expires. Remaining time is truncated to whole
// seconds, so any check made after arming reports strictly less than the
// full window. Expired entries are deleted on check, which keeps the map
// bounded by the set of recently active users.
func (g *Guard) CheckAndDescribe(userID uuid.UUID) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.expiries[userID]
	if !ok {
		return Status{}
	}

	remaining := expiry.Sub(g.now())
	if remaining <= 0 {
		delete(g.expiries, userID)
		return Status{}
	}

	return Status{
		Active:           true,
		RemainingSeconds: int(remaining.Seconds()),
	}
}
