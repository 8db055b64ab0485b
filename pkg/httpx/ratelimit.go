package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rentloop/rentloop/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the per-client token bucket parameters.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained request budget per client.
	RequestsPerMinute int
	// Burst caps how many requests a client can spend at once.
	// Defaults to RequestsPerMinute.
	Burst int
	// CleanupInterval controls how often idle buckets are swept, and how
	// long a full bucket must sit idle before eviction. Defaults to 1h.
	CleanupInterval time.Duration
	// ExcludePaths lists request paths that bypass limiting entirely
	// (health checks and the like).
	ExcludePaths []string
}

// DefaultRateLimit matches the platform-wide budget: 100 requests per minute
// with the full budget available as a burst.
var DefaultRateLimit = RateLimitConfig{
	RequestsPerMinute: 100,
	CleanupInterval:   time.Hour,
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int // configured requests per minute
	Remaining  int // whole tokens left after this request
	RetryAfter int // seconds until a rejected client should retry
}

// bucket pairs a token bucket with its own lock and last-use stamp. The lock
// makes consume-then-read-remaining a single linearized step; the stamp feeds
// eviction.
type bucket struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter admits or rejects requests per client identity using one token
// bucket per client. It is purely in-memory: each server instance enforces
// its own budget (no cross-instance coordination).
//
// Admit never fails; a limiter outage is not a failure mode this component
// has.
type RateLimiter struct {
	perMinute  int
	burst      int
	refill     rate.Limit // tokens per second
	retryAfter int
	sweepEvery time.Duration
	excluded   map[string]struct{}

	// registry lock: held only for bucket lookup/creation and sweeping,
	// never across a bucket's refill/consume.
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time

	now func() time.Time
}

// NewRateLimiter builds a limiter from cfg, applying defaults for zero values.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRateLimit.RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		excluded[p] = struct{}{}
	}

	refill := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)

	return &RateLimiter{
		perMinute: cfg.RequestsPerMinute,
		burst:     cfg.Burst,
		refill:    refill,
		// Time to regain one whole token, rounded up.
		retryAfter: int(1/float64(refill)) + 1,
		sweepEvery: cfg.CleanupInterval,
		excluded:   excluded,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Excluded reports whether a path bypasses rate limiting.
func (l *RateLimiter) Excluded(path string) bool {
	_, ok := l.excluded[path]
	return ok
}

// Admit refills the client's bucket for elapsed time, then tries to consume
// one token. Both outcomes update bucket state.
func (l *RateLimiter) Admit(clientID string) Decision {
	now := l.now()
	l.maybeSweep(now)

	b := l.bucketFor(clientID, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeen = now
	if b.lim.AllowN(now, 1) {
		return Decision{
			Allowed:   true,
			Limit:     l.perMinute,
			Remaining: int(b.lim.TokensAt(now)),
		}
	}

	return Decision{
		Allowed:    false,
		Limit:      l.perMinute,
		Remaining:  0,
		RetryAfter: l.retryAfter,
	}
}

// bucketFor lazily creates the bucket on a client's first request.
func (l *RateLimiter) bucketFor(clientID string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{
			lim:      rate.NewLimiter(l.refill, l.burst),
			lastSeen: now,
		}
		l.buckets[clientID] = b
	}
	return b
}

// maybeSweep evicts buckets that are both full and idle longer than the
// cleanup interval. Checked lazily on admission instead of running a
// background timer, so an idle process does no work.
func (l *RateLimiter) maybeSweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) < l.sweepEvery {
		return
	}
	l.lastSweep = now

	for clientID, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) > l.sweepEvery
		full := b.lim.TokensAt(now) >= float64(l.burst)
		b.mu.Unlock()

		if idle && full {
			delete(l.buckets, clientID)
		}
	}
}

// size reports the number of live buckets. Test hook.
func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit is the admission middleware: one Admit call per inbound request
// before any handler runs. Rejections answer 429 with limit/remaining/retry
// headers and a JSON body; admitted requests carry the limit headers through.
func RateLimit(l *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Excluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			clientID := ClientIdentity(r)
			decision := l.Admit(clientID)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))

				slogx.FromContext(r.Context()).Warn("rate limit exceeded",
					"client", clientID,
					"endpoint", r.URL.Path,
					"retry_after", decision.RetryAfter,
				)

				WriteJSON(w, http.StatusTooManyRequests, rateLimitedBody{
					Error: "rate_limit_exceeded",
					Message: fmt.Sprintf(
						"Too many requests. Maximum %d requests per minute allowed.",
						decision.Limit,
					),
					RetryAfter: decision.RetryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type rateLimitedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
