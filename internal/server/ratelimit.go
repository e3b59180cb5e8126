package server

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/livegrid/livegrid/internal/server/apierrors"
)

// writeLimiter rate-limits mutating requests per client IP with a token
// bucket per key. Buckets are created on first use and never expire; the key
// space is bounded by the number of distinct client IPs.
type writeLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newWriteLimiter(rps float64, burst int) *writeLimiter {
	return &writeLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *writeLimiter) allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// limit wraps next, rejecting requests over the per-IP budget with a 429.
func (l *writeLimiter) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			apiErr := apierrors.RateLimited()
			writeErrorResponseWithCode(w, apiErr.StatusCode(), apiErr.Code(), apiErr.Error(), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client IP from an HTTP request, checking
// X-Forwarded-For and X-Real-IP headers for proxied requests.
func clientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2".
	// The leftmost IP is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr, stripping the port if present.
	addr := r.RemoteAddr
	if strings.HasPrefix(addr, "[") {
		if host, _, found := strings.Cut(addr, "]:"); found {
			return host[1:]
		}
		return strings.Trim(addr, "[]")
	}
	if host, _, found := strings.Cut(addr, ":"); found {
		return host
	}
	return addr
}
