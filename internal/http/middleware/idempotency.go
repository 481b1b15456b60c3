// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the optional Idempotency-Key header on the mutation
// routes. Mutations are keyed by their transaction id, so the header, when
// sent, must be a transaction id; the handler later checks it equals the
// body's tx_id. A lookup marks requests that will replay a completed result
// so the coarse API rate limit does not charge them.
package middleware

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderReplayed is set to "true" on responses served from a stored result.
const HeaderReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated, lower-cased key stashed by
// IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyIdemKey)
	s := asString(v)
	return s, s != ""
}

// IsReplay reports whether a completed result already exists for the key.
func IsReplay(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyIdemReplay)
	b, _ := v.(bool)
	return b
}

// IdempotencyLookup reports whether a completed result exists for
// (action, key). Errors are treated as "no".
type IdempotencyLookup func(ctx context.Context, action, key string) (bool, error)

// IdempotencyValidator checks the Idempotency-Key header for the route's
// action. An absent header is fine; a malformed one is a 400.
func IdempotencyValidator(action string, lookup IdempotencyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if raw == "" {
			c.Next()
			return
		}
		key := strings.ToLower(raw)
		if len(key) != 64 {
			abortBadKey(c)
			return
		}
		if _, err := hex.DecodeString(key); err != nil {
			abortBadKey(c)
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if done, err := lookup(c.Request.Context(), action, key); err == nil && done {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func abortBadKey(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "bad_idempotency_key",
		"message":    "Idempotency-Key must be the transaction id (64 hex characters)",
	})
}
