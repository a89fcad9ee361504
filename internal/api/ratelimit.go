// Rate limiter for mutating API endpoints.
// Simple in-memory token bucket per client IP.
package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const cleanupEvery = 10 * time.Minute

// RateLimiter holds a token bucket per client.
type RateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	max         float64 // bucket capacity
	fill        float64 // tokens added per second
	lastCleanup time.Time
	now         func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows bursts of max requests, refilled at fill per second.
func NewRateLimiter(max, fill float64) *RateLimiter {
	return &RateLimiter{
		buckets:     make(map[string]*bucket),
		max:         max,
		fill:        fill,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow takes a token for ip if one is available.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > cleanupEvery {
		rl.cleanup(now)
	}

	b := rl.refill(ip, now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns how many seconds until ip has a token again.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.refill(ip, rl.now())
	if b.tokens >= 1 || rl.fill <= 0 {
		return 0
	}
	return int(math.Ceil((1 - b.tokens) / rl.fill))
}

func (rl *RateLimiter) refill(ip string, now time.Time) *bucket {
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: rl.max, last: now}
		rl.buckets[ip] = b
		return b
	}
	b.tokens = math.Min(rl.max, b.tokens+now.Sub(b.last).Seconds()*rl.fill)
	b.last = now
	return b
}

// cleanup drops buckets not touched within cleanupEvery.
func (rl *RateLimiter) cleanup(now time.Time) {
	for ip, b := range rl.buckets {
		if now.Sub(b.last) > cleanupEvery {
			delete(rl.buckets, ip)
		}
	}
	rl.lastCleanup = now
}

// RateLimitMiddleware wraps a handler with rate limiting. Returns 429 if exceeded.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(ip)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For for proxied requests; first hop wins.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
