// Package guard gives financial mutations at-most-once semantics and bounds
// how often an actor may invoke them.
//
// Run executes work under an idempotency record keyed by (action, natural
// key), stored in the same SQL database as the business rows so the record
// and the rows commit together. RateLimiter admits calls through a sliding
// window kept in the shared key-value store so every instance sees the same
// count.
package guard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateInFlight means another attempt holds the key; poll shortly.
	ErrDuplicateInFlight = errors.New("duplicate request in flight")

	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")

	// ErrLimiterUnavailable is matched when the limiter rejected a call
	// because the shared store could not be reached.
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)

// RateLimitError rejects a call. RetryAfter is always positive.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
	// Cause is set when the rejection comes from an unreachable store.
	Cause error
}

func (e *RateLimitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: rate limiter unavailable, retry after %s: %v", e.Action, e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Action, e.RetryAfter)
}

// Is matches ErrRateLimited, and ErrLimiterUnavailable when Cause is set.
func (e *RateLimitError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return true
	case ErrLimiterUnavailable:
		return e.Cause != nil
	}
	return false
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

// RetryAfter extracts the wait from a rate-limit rejection, 0 otherwise.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
