package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 15 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// userLimiter holds one token bucket per user.
type userLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	sweptAt time.Time
}

func newUserLimiter(perMinute, burst int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow reports whether userID may admit one more job at now. A nil limiter
// allows everything.
func (u *userLimiter) Allow(userID string, now time.Time) bool {
	if u == nil {
		return true
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if now.Sub(u.sweptAt) > limiterIdle {
		for id, e := range u.entries {
			if now.Sub(e.seen) > limiterIdle {
				delete(u.entries, id)
			}
		}
		u.sweptAt = now
	}
	e, ok := u.entries[userID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(u.every, u.burst)}
		u.entries[userID] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}
