package admission

import (
	"container/list"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Result is the outcome of a rate-limit check, per §4.6.
type Result struct {
	Allowed        bool
	Used           int
	Limit          int
	RetryAfterSecs int
}

const slidingWindow = 60 * time.Second

// RateLimiter tracks a fixed 60-second sliding window of request
// timestamps per subject, the way §4.6 specifies, plus an optional global
// token-bucket burst gate layered on top — generalizing the teacher's
// single per-route rate.Limiter into one shared gate all subjects draw
// from in addition to their individual windows.
type RateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*list.List
	defaultRPM  int
	globalBurst *rate.Limiter
	now         func() time.Time
}

// NewRateLimiter builds a limiter with defaultRPM as the fallback cap for
// subjects without a per-subject override, and an optional global burst
// allowance (burst <= 0 disables the global gate).
func NewRateLimiter(defaultRPM, burst int) *RateLimiter {
	var global *rate.Limiter
	if burst > 0 {
		global = rate.NewLimiter(rate.Limit(burst), burst)
	}
	return &RateLimiter{
		windows:     make(map[string]*list.List),
		defaultRPM:  defaultRPM,
		globalBurst: global,
		now:         time.Now,
	}
}

// Check evaluates and, if allowed, records a request for subject against
// its effective cap (rpmOverride if non-nil and positive, else the
// configured default).
func (r *RateLimiter) Check(subject string, rpmOverride *int) Result {
	limit := r.defaultRPM
	if rpmOverride != nil && *rpmOverride > 0 {
		limit = *rpmOverride
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	window, ok := r.windows[subject]
	if !ok {
		window = list.New()
		r.windows[subject] = window
	}

	cutoff := now.Add(-slidingWindow)
	for front := window.Front(); front != nil; {
		ts := front.Value.(time.Time)
		if ts.After(cutoff) {
			break
		}
		next := front.Next()
		window.Remove(front)
		front = next
	}

	used := window.Len()
	if used >= limit {
		oldest := window.Front().Value.(time.Time)
		retryAfter := int(math.Ceil(oldest.Add(slidingWindow).Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Result{Allowed: false, Used: used, Limit: limit, RetryAfterSecs: retryAfter}
	}

	if r.globalBurst != nil && !r.globalBurst.AllowN(now, 1) {
		return Result{Allowed: false, Used: used, Limit: limit, RetryAfterSecs: 1}
	}

	window.PushBack(now)
	return Result{Allowed: true, Used: used + 1, Limit: limit, RetryAfterSecs: 0}
}
