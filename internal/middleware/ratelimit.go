package middleware

import (
	"fmt"
	"net"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client limiter table.
const maxTrackedClients = 10000

// RateLimitConfig configures a token bucket limiter. With PerClient set each
// remote address gets its own bucket; otherwise one bucket covers all requests.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	PerClient bool
}

// RateLimitMiddleware enforces the configured rate limit for every request
// through the handler.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiterFor := globalLimiter(cfg)
	if cfg.PerClient {
		limiterFor = clientLimiters(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(r).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func globalLimiter(cfg RateLimitConfig) func(*http.Request) *rate.Limiter {
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	return func(*http.Request) *rate.Limiter {
		return limiter
	}
}

// clientLimiters keeps one limiter per remote host. Least recently seen
// clients are evicted once the table is full and start over with a full bucket.
func clientLimiters(cfg RateLimitConfig) func(*http.Request) *rate.Limiter {
	limiters, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return func(r *http.Request) *rate.Limiter {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if limiter, ok := limiters.Get(host); ok {
			return limiter
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
		if prev, ok, _ := limiters.PeekOrAdd(host, limiter); ok {
			return prev
		}
		return limiter
	}
}
