package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// tokenBucket is a simple refill-on-take bucket. Buckets are kept per
// key in a map guarded by a mutex; stale buckets are swept lazily.
type tokenBucket struct {
	tokens   float64
	lastFill time.Time
}

type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket

	ratePerMin float64
	burst      float64

	lastSweep time.Time
}

func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	if ratePerMin <= 0 {
		ratePerMin = 120
	}
	if burst <= 0 {
		burst = ratePerMin / 4
		if burst == 0 {
			burst = 1
		}
	}
	return &RateLimiter{
		buckets:    make(map[string]*tokenBucket),
		ratePerMin: float64(ratePerMin),
		burst:      float64(burst),
		lastSweep:  time.Now(),
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > 10*time.Minute {
		for k, b := range rl.buckets {
			if now.Sub(b.lastFill) > 10*time.Minute {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.burst, lastFill: now}
		rl.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastFill).Minutes()
	bucket.tokens += elapsed * rl.ratePerMin
	if bucket.tokens > rl.burst {
		bucket.tokens = rl.burst
	}
	bucket.lastFill = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// RateLimitMiddleware throttles per client IP and, when the request
// names an organization, per organization as well. The org dimension
// protects one busy clinic from starving the rest.
func RateLimitMiddleware(ipLimiter, orgLimiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !ipLimiter.Allow(ip) {
				writeError(w, "", http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}

			if orgID := extractOrgID(r); orgID != "" {
				if !orgLimiter.Allow(orgID) {
					writeError(w, "", http.StatusTooManyRequests, "rate_limited", "too many requests for organization")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// extractOrgID pulls the org from the query string, or peeks at a JSON
// body and restores it so the handler can decode it again.
func extractOrgID(r *http.Request) string {
	if orgID := strings.TrimSpace(r.URL.Query().Get("org_id")); orgID != "" {
		return orgID
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return ""
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	var peek struct {
		OrgID string `json:"org_id"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return ""
	}
	return strings.TrimSpace(peek.OrgID)
}
