package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// RateLimiter limits requests per tenant, keyed by the {id} path value.
// Limiters idle longer than the TTL are rebuilt.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	clock clock.PassiveClock

	limiters sync.Map // tenantID -> *cachedLimiter
}

type Option func(*RateLimiter)

func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

func WithClock(c clock.PassiveClock) Option {
	return func(rl *RateLimiter) { rl.clock = c }
}

// NewRateLimiter allows limit events per second with the given burst.
// A limit of zero or less means unlimited.
func NewRateLimiter(limit float64, burst int, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limit: rate.Limit(limit),
		burst: burst,
		ttl:   5 * time.Minute,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst < 1 {
		rl.burst = 1
	}
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.limit > 0 {
				tenantID := r.PathValue("id")
				if !rl.get(tenantID).AllowN(rl.clock.Now(), 1) {
					w.Header().Set("Retry-After", "1")
					writeError(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

func (rl *RateLimiter) get(tenantID string) *rate.Limiter {
	now := rl.clock.Now()
	fresh := &cachedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst), lastSeen: now}

	v, loaded := rl.limiters.LoadOrStore(tenantID, fresh)
	if !loaded {
		return fresh.limiter
	}

	cached := v.(*cachedLimiter)
	cached.mu.Lock()
	defer cached.mu.Unlock()
	if now.Sub(cached.lastSeen) > rl.ttl {
		cached.limiter = fresh.limiter
	}
	cached.lastSeen = now
	return cached.limiter
}
