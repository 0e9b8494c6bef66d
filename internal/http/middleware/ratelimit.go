package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
)

const (
	idleBucketTTL = 10 * time.Minute
	sweepEvery    = time.Minute
)

// RateLimiter keeps one token bucket per caller. Callers are tenants on
// authenticated routes and client IPs otherwise.
type RateLimiter struct {
	mu        sync.Mutex
	perSecond float64
	capacity  float64
	callers   map[string]*tokens
	lastSweep time.Time
	now       func() time.Time
}

type tokens struct {
	left float64
	seen time.Time
}

// NewRateLimiter refills perSecond tokens per caller up to burst. A burst
// below one is raised to one.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: perSecond,
		capacity:  float64(burst),
		callers:   make(map[string]*tokens),
		now:       time.Now,
	}
}

// Take spends a token for caller. When none is left it returns false and
// how long until the next token is available.
func (rl *RateLimiter) Take(caller string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	t, ok := rl.callers[caller]
	if !ok {
		t = &tokens{left: rl.capacity, seen: now}
		rl.callers[caller] = t
	}
	t.left = math.Min(rl.capacity, t.left+now.Sub(t.seen).Seconds()*rl.perSecond)
	t.seen = now

	if t.left >= 1 {
		t.left--
		return true, 0
	}
	missing := 1 - t.left
	return false, time.Duration(missing / rl.perSecond * float64(time.Second))
}

// sweep drops callers idle long enough to have refilled completely. Runs
// inline at most once per sweepEvery.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepEvery {
		return
	}
	rl.lastSweep = now
	for caller, t := range rl.callers {
		if now.Sub(t.seen) > idleBucketTTL {
			delete(rl.callers, caller)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.callers)
}

// RateLimit answers 429 once a caller exceeds its budget. Mount it after
// TenantJWT so each tenant gets its own bucket. perSecond <= 0 disables it.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return RateLimitWith(NewRateLimiter(perSecond, burst))
}

// RateLimitWith is RateLimit over an existing limiter.
func RateLimitWith(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, wait := limiter.Take(callerKey(r))
			if !allowed {
				w.Header().Set("Retry-After", retryAfterSeconds(wait))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func callerKey(r *http.Request) string {
	if tenantID, ok := tenancy.TenantIDFromContext(r.Context()); ok {
		return "tenant:" + tenantID.String()
	}
	// RealIP only rewrites RemoteAddr behind a proxy; a direct peer keeps its port.
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}
