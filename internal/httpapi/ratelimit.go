package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// staleBucketAge bounds the limiter map: buckets idle this long are pruned
// on the next sweep.
const staleBucketAge = 10 * time.Minute

type RateLimitConfig struct {
	IPPerMinute int
	IPBurst     int
}

// RateLimiter applies a per-client-IP token bucket in front of the API.
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.IPPerMinute <= 0 {
		cfg.IPPerMinute = 120
	}
	if cfg.IPBurst <= 0 {
		cfg.IPBurst = 30
	}
	return &RateLimiter{
		rate:    float64(cfg.IPPerMinute) / 60.0,
		burst:   float64(cfg.IPBurst),
		buckets: make(map[string]*bucket),
		swept:   time.Now(),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !l.allow(ip) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.swept) > staleBucketAge {
		for k, b := range l.buckets {
			if now.Sub(b.last) > staleBucketAge {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	b.tokens += now.Sub(b.last).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
