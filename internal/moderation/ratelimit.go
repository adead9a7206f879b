package moderation

import (
	"sync"
	"time"
)

const DefaultMinMessageInterval = 2 * time.Second

// RateLimiter enforces a minimum interval between accepted messages of one user.
// Rejected messages never move the window.
type RateLimiter struct {
	minInterval time.Duration

	mu   sync.Mutex
	last map[Key]time.Time
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	if minInterval < 0 {
		minInterval = 0
	}
	return &RateLimiter{
		minInterval: minInterval,
		last:        map[Key]time.Time{},
	}
}

// Admit reports whether a message at now is accepted and, if so, records now
// as the user's last accepted message time.
func (r *RateLimiter) Admit(key Key, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.last[key]; ok && now.Sub(last) < r.minInterval {
		return false
	}
	r.last[key] = now
	return true
}

// LastAccepted returns the time of the last accepted message for key.
func (r *RateLimiter) LastAccepted(key Key) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.last[key]
	return last, ok
}

// Sweep forgets users idle for longer than retention and returns how many were dropped.
// Entries older than minInterval cannot influence Admit, so any retention >= minInterval is safe.
func (r *RateLimiter) Sweep(now time.Time, retention time.Duration) int {
	if retention < r.minInterval {
		retention = r.minInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for key, last := range r.last {
		if now.Sub(last) > retention {
			delete(r.last, key)
			dropped++
		}
	}
	return dropped
}

func (r *RateLimiter) MinInterval() time.Duration {
	return r.minInterval
}
