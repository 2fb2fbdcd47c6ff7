package ledger

import (
	"sync"
	"time"
)

// rateLimiter is a sliding-window counter over delete attempts.
// max <= 0 disables limiting entirely.
type rateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	seen   []time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &rateLimiter{max: max, window: window}
}

// allow records the attempt and reports whether it is within the
// window budget. Rejected attempts are not recorded, so a burst of
// rejections does not extend the lockout.
func (r *rateLimiter) allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	kept := r.seen[:0]
	for _, t := range r.seen {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.seen = kept

	if len(r.seen) >= r.max {
		return false
	}
	r.seen = append(r.seen, now)
	return true
}
