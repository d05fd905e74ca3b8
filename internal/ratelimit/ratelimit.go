// Package ratelimit counts requests per caller in fixed windows.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limit allows MaxRequests per Window. Zero values mean no limit.
type Limit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Enabled reports whether the limit restricts anything.
func (l Limit) Enabled() bool {
	return l.MaxRequests > 0 && l.Window > 0
}

// Validate rejects negative settings.
func (l Limit) Validate() error {
	if l.MaxRequests < 0 || l.Window < 0 {
		return fmt.Errorf("max_requests and window must not be negative")
	}
	return nil
}

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the limit.
func Check(count int, limit Limit) CheckResult {
	if !limit.Enabled() || count < limit.MaxRequests {
		return CheckResult{}
	}
	return CheckResult{
		Exceeded: true,
		Current:  count,
		Limit:    limit.MaxRequests,
		Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
			count, limit.MaxRequests, limit.Window),
	}
}

// Limiter tracks request counts per key. All keys share one window: when it
// expires every counter resets.
type Limiter struct {
	limit Limit
	now   func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	counts      map[string]int
}

// New returns nil when the limit is disabled. A nil Limiter allows every
// request.
func New(limit Limit) *Limiter {
	if !limit.Enabled() {
		return nil
	}
	return &Limiter{limit: limit, now: time.Now, counts: make(map[string]int)}
}

// Allow checks key against the limit and, when within it, counts the
// request.
func (l *Limiter) Allow(key string) CheckResult {
	if l == nil {
		return CheckResult{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= l.limit.Window {
		l.counts = make(map[string]int)
		l.windowStart = now
	}
	result := Check(l.counts[key], l.limit)
	if !result.Exceeded {
		l.counts[key]++
	}
	return result
}
