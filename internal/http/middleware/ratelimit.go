// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file applies the coarse per-identity API limit at the edge. Windows
// live in the shared store behind guard.RateLimiter, so the limit holds
// across instances. The per-action limits on recordLock and buyContent are
// enforced by the services themselves.
package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/guard"
)

// Limiter admits or rejects one call by actor for action.
type Limiter interface {
	Allow(ctx context.Context, action, actor string) (guard.Decision, error)
}

// keyFunc selects the identity a request is limited under.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the caller's user id and falls back to the client
// IP. Prefixes keep the two namespaces apart.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// IsRateBypass reports whether IdempotencyValidator found a completed result
// for this request; replays are not charged.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// RateLimit returns a middleware charging each request to keyFn's identity
// under action.
func RateLimit(l Limiter, action string, keyFn keyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		d, err := l.Allow(c.Request.Context(), action, keyFn(c))
		if err != nil {
			AbortRateLimited(c, err)
			return
		}
		if !d.Local {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		c.Next()
	}
}

// AbortRateLimited writes the response for a limiter rejection: 429 when the
// window is full, 503 when the shared store is unreachable. Both carry
// Retry-After.
func AbortRateLimited(c *gin.Context, err error) {
	SetRetryAfter(c, guard.RetryAfter(err))
	status, code, msg := http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded"
	if errors.Is(err, guard.ErrLimiterUnavailable) {
		status, code, msg = http.StatusServiceUnavailable, "rate_limiter_unavailable", "rate limiter unavailable"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}

// SetRetryAfter writes d as whole seconds, rounding up, minimum 1.
func SetRetryAfter(c *gin.Context, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
}
