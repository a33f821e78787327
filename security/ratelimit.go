package security

import (
	"sync"
	"time"
)

// DefaultRateLimit is the default number of admitted messages per second per device.
const DefaultRateLimit = 30

const rateWindow = time.Second

// RateLimiter admits at most limit messages per device in any trailing
// one-second window.
type RateLimiter struct {
	limit   int
	now     func() time.Time
	windows *Keyed[[]time.Time]

	sweepMu   sync.Mutex
	lastSweep time.Time
}

func NewRateLimiter(limit int) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		limit:   limit,
		now:     time.Now,
		windows: NewKeyed(func() []time.Time { return nil }),
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *RateLimiter) SetClock(now func() time.Time) {
	r.now = now
}

func (r *RateLimiter) Limit() int {
	return r.limit
}

// Devices returns how many devices currently hold a window.
func (r *RateLimiter) Devices() int {
	return r.windows.Len()
}

// Allow reports whether deviceID may send another message now, recording it if so.
func (r *RateLimiter) Allow(deviceID string) bool {
	var now time.Time
	allowed := false
	r.windows.Do(deviceID, func(w *[]time.Time) {
		now = r.now()
		events := *w
		drop := 0
		for drop < len(events) && now.Sub(events[drop]) > rateWindow {
			drop++
		}
		events = append(events[:0], events[drop:]...)
		if len(events) < r.limit {
			events = append(events, now)
			allowed = true
		}
		*w = events
	})
	r.sweep(now)
	return allowed
}

// sweep drops the windows of devices idle for a full window, at most once
// per window.
func (r *RateLimiter) sweep(now time.Time) {
	r.sweepMu.Lock()
	if now.Sub(r.lastSweep) < rateWindow {
		r.sweepMu.Unlock()
		return
	}
	r.lastSweep = now
	r.sweepMu.Unlock()

	r.windows.Prune(func(w *[]time.Time) bool {
		events := *w
		return len(events) == 0 || now.Sub(events[len(events)-1]) > rateWindow
	})
}
