// Package ratelimit implements a tiered fixed-window limiter keyed by
// (client, tier). Counters live in process memory; a gateway instance
// protects itself, it does not coordinate with the fleet.
package ratelimit

import (
	"sync"
	"time"

	"github.com/mediagate/gateway/internal/common/configtypes"
)

// Tier names an endpoint class with its own budget.
type Tier string

const (
	TierMetadata Tier = "metadata"
	TierDownload Tier = "download"
	TierHealth   Tier = "health"
)

// Decision is the outcome of a single quota check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the current window elapses.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
	// Remaining is the budget left in the window after this request.
	Remaining int
}

type bucket struct {
	windowStart time.Time
	count       int
}

type tierPolicy struct {
	limit  int
	window time.Duration
}

type bucketKey struct {
	client string
	tier   Tier
}

// Limiter tracks fixed windows per (client, tier). All mutations happen
// under one mutex so read-check-increment is atomic.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	policies map[Tier]tierPolicy
	now      func() time.Time
}

// NewLimiter builds a limiter from the tier budgets in cfg.
func NewLimiter(cfg configtypes.RateLimitConfig) *Limiter {
	return &Limiter{
		buckets: make(map[bucketKey]*bucket),
		policies: map[Tier]tierPolicy{
			TierMetadata: {limit: cfg.Metadata.Limit, window: time.Duration(cfg.Metadata.Window)},
			TierDownload: {limit: cfg.Download.Limit, window: time.Duration(cfg.Download.Window)},
			TierHealth:   {limit: cfg.Health.Limit, window: time.Duration(cfg.Health.Window)},
		},
		now: time.Now,
	}
}

// WithClock substitutes the time source. Tests inject a fake here.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check consumes one unit of the client's budget for the tier.
// A request is counted exactly once, at admission; upstream retries on
// its behalf never call Check again.
func (l *Limiter) Check(clientKey string, tier Tier) Decision {
	policy, ok := l.policies[tier]
	if !ok || policy.limit <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey{client: clientKey, tier: tier}

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= policy.window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	if b.count >= policy.limit {
		return Decision{
			Allowed:    false,
			RetryAfter: b.windowStart.Add(policy.window).Sub(now),
		}
	}

	b.count++
	return Decision{Allowed: true, Remaining: policy.limit - b.count}
}

// Sweep drops buckets whose window fully elapsed and returns counts for
// the sweep worker's metrics.
func (l *Limiter) Sweep() (removed, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.policies[key.tier].window {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed, len(l.buckets)
}
