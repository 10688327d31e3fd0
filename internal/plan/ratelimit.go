package plan

import (
	"sync"
	"time"

	"github.com/processtriage/pt/internal/budget"
)

// RateLimiter enforces the three-tiered max_kills_per_{run,hour,day}
// guardrail: the per-run counter is a simple reset-at-construction counter
// (a "run" is not a wall-clock window), while hour/day reuse budget.Bucket
// token buckets refilled on their respective periods.
type RateLimiter struct {
	mu           sync.Mutex
	maxPerRun    int
	usedThisRun  int
	hourly       *budget.Bucket
	daily        *budget.Bucket
}

// NewRateLimiter builds a RateLimiter from a GuardrailConfig. Call Close
// when the limiter is no longer needed to stop its refill goroutines.
func NewRateLimiter(cfg GuardrailConfig) *RateLimiter {
	hourlyCap := cfg.MaxKillsPerHour
	if hourlyCap <= 0 {
		hourlyCap = 1
	}
	dailyCap := cfg.MaxKillsPerDay
	if dailyCap <= 0 {
		dailyCap = 1
	}
	return &RateLimiter{
		maxPerRun: cfg.MaxKillsPerRun,
		hourly:    budget.New(hourlyCap, time.Hour),
		daily:     budget.New(dailyCap, 24*time.Hour),
	}
}

// TryAdmit attempts to admit one destructive (kill-class) action. It
// returns true only if the per-run, per-hour and per-day budgets all have
// room; if the per-hour or per-day bucket was consumed but the per-run
// counter then blocks, the token is still considered spent (the caller
// should treat a false return as "downgrade to Keep", not "retry").
func (r *RateLimiter) TryAdmit() bool {
	r.mu.Lock()
	if r.usedThisRun >= r.maxPerRun {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	if !r.hourly.Consume(1) {
		return false
	}
	if !r.daily.Consume(1) {
		return false
	}

	r.mu.Lock()
	r.usedThisRun++
	r.mu.Unlock()
	return true
}

// Remaining reports how many more destructive actions this run may admit,
// the minimum of the three budgets.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	runRemaining := r.maxPerRun - r.usedThisRun
	r.mu.Unlock()

	hourRemaining := r.hourly.Remaining()
	dayRemaining := r.daily.Remaining()

	min := runRemaining
	if hourRemaining < min {
		min = hourRemaining
	}
	if dayRemaining < min {
		min = dayRemaining
	}
	if min < 0 {
		min = 0
	}
	return min
}

// Close stops the underlying buckets' refill goroutines.
func (r *RateLimiter) Close() {
	r.hourly.Close()
	r.daily.Close()
}
