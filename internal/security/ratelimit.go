package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable rate limits for the admin surface.
type RateLimitConfig struct {
	APIRequestsPerMin  int `yaml:"api_requests_per_min"`
	RunNowPerMin       int `yaml:"run_now_per_min"`
	AuthFailuresPerMin int `yaml:"auth_failures_per_min"`
}

// rateLimitConfigDefaults returns a config with sensible defaults.
func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		APIRequestsPerMin:  300,
		RunNowPerMin:       30,
		AuthFailuresPerMin: 10,
	}
}

// Rate limit event kinds.
const (
	KindAPIRequest  = "api_request"
	KindRunNow      = "run_now"
	KindAuthFailure = "auth_failure"
)

// RateLimiter implements sliding window rate limiting using stdlib only.
// Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.APIRequestsPerMin <= 0 {
		cfg.APIRequestsPerMin = defaults.APIRequestsPerMin
	}
	if cfg.RunNowPerMin <= 0 {
		cfg.RunNowPerMin = defaults.RunNowPerMin
	}
	if cfg.AuthFailuresPerMin <= 0 {
		cfg.AuthFailuresPerMin = defaults.AuthFailuresPerMin
	}

	return &RateLimiter{
		now: time.Now,
		buckets: map[string]*bucket{
			KindAPIRequest: {
				window: time.Minute,
				limit:  cfg.APIRequestsPerMin,
			},
			KindRunNow: {
				window: time.Minute,
				limit:  cfg.RunNowPerMin,
			},
			KindAuthFailure: {
				window: time.Minute,
				limit:  cfg.AuthFailuresPerMin,
			},
		},
	}
}

// Allow checks whether an event of the given kind is allowed.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded.
// kind must be one of: "api_request", "run_now", "auth_failure".
func (rl *RateLimiter) Allow(kind string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		// Unknown kind = no limit configured.
		return nil
	}

	now := rl.now()
	b.evict(now)

	if len(b.events) >= b.limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	// Find the first event within the window (events are chronologically ordered).
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
