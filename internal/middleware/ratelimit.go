package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig is a per-identity token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL evicts identities not seen for this long. Defaults to an hour.
	IdleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per API key, falling back to the client IP.
type RateLimiter struct {
	cfg       RateLimitConfig
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter builds a RateLimiter. A non-positive rate disables limiting.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{cfg: cfg, limiters: make(map[string]*limiterEntry), now: time.Now}
}

// Handler is the chi middleware.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	if l.cfg.RequestsPerSecond <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(identity(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	entry, ok := l.limiters[id]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.limiters[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep evicts idle entries at most once per IdleTTL/12. Caller holds mu.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.IdleTTL/12 {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.cfg.IdleTTL)
	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}

func identity(r *http.Request) string {
	if key, ok := r.Context().Value(apiKeyKey{}).(string); ok && key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
