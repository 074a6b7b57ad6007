package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const maxTrackedIPs = 10000

// RateLimiter is a token bucket per client IP. Buckets refill fully
// once per window; stale buckets are evicted on a timer.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    int
	window  time.Duration
	stop    chan struct{}
}

type tokenBucket struct {
	tokens   int
	refilled time.Time
}

// NewRateLimiter allows rate requests per window per IP.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		window:  window,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= maxTrackedIPs {
			rl.evictStale(now)
		}
		rl.buckets[ip] = &tokenBucket{tokens: rl.rate - 1, refilled: now}
		return true
	}
	if now.Sub(b.refilled) >= rl.window {
		b.tokens = rl.rate - 1
		b.refilled = now
		return true
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() { close(rl.stop) }

// clientIP uses only RemoteAddr. X-Forwarded-For is spoofable and is
// deliberately ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) evictStale(now time.Time) {
	for ip, b := range rl.buckets {
		if now.Sub(b.refilled) > rl.window*2 {
			delete(rl.buckets, ip)
		}
	}
	if len(rl.buckets) >= maxTrackedIPs {
		drop := len(rl.buckets) / 10
		for ip := range rl.buckets {
			delete(rl.buckets, ip)
			drop--
			if drop <= 0 {
				break
			}
		}
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			rl.evictStale(time.Now())
			rl.mu.Unlock()
		}
	}
}
