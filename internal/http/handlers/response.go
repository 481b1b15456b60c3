// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers. Every error leaves through fail or
// failRetry with a stable code; retryable failures also carry Retry-After.
//
//	HTTP/1.1 404 Not Found
//	Retry-After: 10
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found_on_chain",
//	  "message": "transaction not found on chain",
//	  "retry_after": 10
//	}
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// RequestID echoes X-Request-ID so clients can quote it when reporting errors.
// RetryAfter mirrors the Retry-After header on retryable failures.
type ErrorResponse struct {
	RequestID  string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code       string `json:"code" example:"not_found_on_chain"`
	Message    string `json:"message" example:"transaction not found on chain"`
	RetryAfter int    `json:"retry_after,omitempty" example:"10"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged through the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	abortWith(c, status, ErrorResponse{Code: code, Message: msg})
}

// failRetry is fail for retryable outcomes: it sets Retry-After and repeats
// the delay in the body.
func failRetry(c *gin.Context, after time.Duration, status int, code, msg string) {
	middleware.SetRetryAfter(c, after)
	secs, _ := strconv.Atoi(c.Writer.Header().Get("Retry-After"))
	abortWith(c, status, ErrorResponse{Code: code, Message: msg, RetryAfter: secs})
}

func abortWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		ev := lg.Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("path", c.FullPath())
		if len(c.Errors) > 0 {
			ev = ev.Str("cause", c.Errors.Last().Error())
		}
		ev.Msg(resp.Message)
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by the router for 404/405.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// replayed sets Idempotency-Replayed on a response served from a stored
// result.
func replayed(c *gin.Context) {
	c.Header(middleware.HeaderReplayed, "true")
}
