// Package kvtest provides an in-memory kv.Client for tests.
package kvtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-lockd-backend/internal/kv"
)

type entry struct {
	value   string
	expires time.Time
}

// Store is a mutex-guarded map honouring TTLs against Now. Setting Err makes
// every call fail with it, which simulates an unreachable store.
type Store struct {
	mu      sync.Mutex
	data    map[string]entry
	windows map[string][]time.Time

	Err error
	Now func() time.Time
}

var _ kv.Client = (*Store)(nil)

// New returns an empty Store using the wall clock.
func New() *Store {
	return &Store{
		data:    make(map[string]entry),
		windows: make(map[string][]time.Time),
		Now:     time.Now,
	}
}

// SetErr swaps the injected failure under the lock.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

func (s *Store) live(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && !s.Now().Before(e.expires) {
		delete(s.data, key)
		return e, false
	}
	return e, true
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.Now().Add(ttl)
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	e, ok := s.live(key)
	if !ok {
		return "", kv.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.data[key] = entry{value: value, expires: s.expiry(ttl)}
	return nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.data[key] = entry{value: value, expires: s.expiry(ttl)}
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for _, k := range keys {
		if _, ok := s.live(k); ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	e, ok := s.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (s *Store) SlidingWindow(_ context.Context, key string, now time.Time, window time.Duration, limit int, _ string) (kv.WindowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return kv.WindowResult{}, s.Err
	}
	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, ts := range s.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Before(kept[j]) })
	if len(kept) < limit {
		s.windows[key] = append(kept, now)
		return kv.WindowResult{Allowed: true, Remaining: limit - len(kept) - 1}, nil
	}
	s.windows[key] = kept
	retry := kept[0].Add(window).Sub(now)
	if retry < time.Millisecond {
		retry = time.Millisecond
	}
	return kv.WindowResult{RetryAfter: retry}, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

func (s *Store) Close() error { return nil }
