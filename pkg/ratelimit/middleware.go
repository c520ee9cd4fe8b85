package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips the check.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests whose key exceeded its limit
type Middleware struct {
	limiter   Limiter
	keyFunc   KeyFunc
	limitType string
}

// NewMiddleware creates a rate limiting middleware keyed by keyFunc.
// limitType is reported in the 429 body and logs.
func NewMiddleware(limiter Limiter, keyFunc KeyFunc, limitType string) *Middleware {
	return &Middleware{
		limiter:   limiter,
		keyFunc:   keyFunc,
		limitType: limitType,
	}
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.keyFunc(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := m.limiter.Allow(r.Context(), m.limitType+":"+key)
		if err != nil {
			// Fail open: the limiter backend is not worth an outage
			slog.Error("Rate limiter unavailable", "type", m.limitType, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			Exceeded(w, r, m.limitType)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Exceeded writes the 429 response
func Exceeded(w http.ResponseWriter, r *http.Request, limitType string) {
	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"ip", ClientIP(r),
		"path", r.URL.Path,
		"method", r.Method,
	)

	w.Header().Set("Retry-After", "60")
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]string{
		"error":   "rate_limit_exceeded",
		"message": "Too many requests. Please try again later.",
		"type":    limitType,
	})
}

// ClientIP extracts the client IP address from the request
func ClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, the first one is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "IP:port"
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
