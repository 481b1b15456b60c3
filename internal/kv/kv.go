// Package kv is the shared key-value store every instance reaches: sliding
// window counters for rate limiting, set-if-absent leases, and short-lived
// caches. Callers depend on the narrow Client interface; Redis implements it
// in production and kvtest.Store in tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("kv: key not found")

// WindowResult is the outcome of one sliding-window admission.
type WindowResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Client is the subset of store operations this service relies on.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	// CompareAndDelete deletes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// SlidingWindow atomically drops entries older than window, and admits
	// member at now when fewer than limit entries remain.
	SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int, member string) (WindowResult, error)
	Ping(ctx context.Context) error
	Close() error
}
