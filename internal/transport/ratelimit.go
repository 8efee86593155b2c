// Copyright 2025 Joseph Cumines
//
// Request rate limiting for HTTP transport

package transport

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter rejects HTTP requests beyond a sustained rate with 429 Too Many
// Requests. A nil *RateLimiter allows everything.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
	metrics *Metrics
	exempt  map[string]bool
}

// NewRateLimiter returns a limiter allowing requestsPerSecond on average with
// bursts of twice that (at least one). It returns nil if requestsPerSecond is
// not positive. /health and /metrics are never limited.
func NewRateLimiter(requestsPerSecond float64, metrics *Metrics) *RateLimiter {
	return newRateLimiter(requestsPerSecond, metrics, time.Now)
}

func newRateLimiter(requestsPerSecond float64, metrics *Metrics, now func() time.Time) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	burst := int(math.Max(1, math.Ceil(requestsPerSecond*2)))
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		now:     now,
		metrics: metrics,
		exempt:  map[string]bool{"/health": true, "/metrics": true},
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.AllowN(r.now(), 1)
}

// Middleware applies the limiter to next.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.exempt[req.URL.Path] || r.Allow() {
			next.ServeHTTP(w, req)
			return
		}
		r.metrics.RecordRateLimited()
		w.Header().Set("Retry-After", strconv.Itoa(r.retryAfter()))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
	})
}

// retryAfter is the whole number of seconds until a token is available.
func (r *RateLimiter) retryAfter() int {
	tokens := r.limiter.TokensAt(r.now())
	wait := (1 - tokens) / float64(r.limiter.Limit())
	return max(1, int(math.Ceil(wait)))
}
