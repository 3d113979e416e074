package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIPRateLimiter_perIPBuckets(t *testing.T) {
	rl := newIPRateLimiter(1, 1)

	if !rl.allow("198.51.100.1") {
		t.Fatal("first request should pass")
	}
	if rl.allow("198.51.100.1") {
		t.Error("second request from the same IP should be limited")
	}
	if !rl.allow("198.51.100.2") {
		t.Error("a different IP gets its own bucket")
	}
}

func TestIPRateLimiter_evictIdle(t *testing.T) {
	rl := newIPRateLimiter(1, 1)
	rl.allow("198.51.100.1")
	rl.allow("198.51.100.2")

	rl.mu.Lock()
	rl.buckets["198.51.100.1"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	if got := rl.evictIdle(10 * time.Minute); got != 1 {
		t.Errorf("evicted %d buckets, want 1", got)
	}
	rl.mu.Lock()
	_, stale := rl.buckets["198.51.100.1"]
	_, fresh := rl.buckets["198.51.100.2"]
	rl.mu.Unlock()
	if stale {
		t.Error("idle bucket survived eviction")
	}
	if !fresh {
		t.Error("active bucket was evicted")
	}
}

func TestRateLimiter_middleware429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(1, 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:4242"

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}
