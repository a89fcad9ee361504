package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterBucket(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(3, 1)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("burst exceeded but allowed")
	}
	if got := rl.RetryAfter("10.0.0.1"); got != 1 {
		t.Errorf("RetryAfter() = %d, want 1", got)
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("separate client shares a bucket")
	}

	now = now.Add(2 * time.Second)
	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Error("bucket did not refill")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("refill exceeded elapsed time")
	}
}

func TestRateLimiterCleanupDropsIdleBuckets(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(3, 1)
	rl.now = func() time.Time { return now }
	rl.lastCleanup = now

	rl.Allow("idle")
	now = now.Add(cleanupEvery - time.Minute)
	rl.Allow("busy")
	now = now.Add(time.Minute + time.Second)
	rl.Allow("busy")

	if _, ok := rl.buckets["idle"]; ok {
		t.Error("untouched bucket survived cleanup")
	}
	if _, ok := rl.buckets["busy"]; !ok {
		t.Error("recently used bucket was dropped")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 0.001)
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest("POST", "/api/v1/units", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("second request = %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}
