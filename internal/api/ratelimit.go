package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// unixResetThreshold separates "seconds until reset" from "unix seconds" in reset headers.
const unixResetThreshold = 1_000_000_000

var (
	remainingHeaders = []string{"X-RateLimit-Remaining", "RateLimit-Remaining"}
	resetHeaders     = []string{"X-RateLimit-Reset", "RateLimit-Reset"}
)

// RateLimitWindow tracks the remaining request budget reported by the remote API.
type RateLimitWindow struct {
	mu        sync.Mutex
	known     bool
	remaining int
	resetAt   time.Time
}

// Update reads rate-limit headers from a response. It returns false when the
// response carried none, leaving the window untouched.
func (w *RateLimitWindow) Update(h http.Header, now time.Time) bool {
	remaining, okRemaining := headerInt(h, remainingHeaders)
	reset, okReset := headerFloat(h, resetHeaders)
	if !okRemaining && !okReset {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if okRemaining {
		w.remaining = remaining
		w.known = true
	}
	if okReset {
		if reset >= unixResetThreshold {
			w.resetAt = time.Unix(int64(reset), 0)
		} else {
			w.resetAt = now.Add(time.Duration(reset * float64(time.Second)))
		}
	}
	return true
}

// WaitDuration returns how long to hold the next request so it does not hit a
// guaranteed 429. It is zero unless the budget is nearly spent and the window
// has not reset yet.
func (w *RateLimitWindow) WaitDuration(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.known || w.remaining > 1 {
		return 0
	}
	if !now.Before(w.resetAt) {
		w.known = false
		return 0
	}
	return w.resetAt.Sub(now)
}

// Snapshot returns the last reported budget.
func (w *RateLimitWindow) Snapshot() (remaining int, resetAt time.Time, known bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remaining, w.resetAt, w.known
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func headerInt(h http.Header, names []string) (int, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func headerFloat(h http.Header, names []string) (float64, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
