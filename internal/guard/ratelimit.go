package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-lockd-backend/internal/config"
	"github.com/tbourn/go-lockd-backend/internal/kv"
)

// Action classes with their own limits.
const (
	ActionRecordLock = "recordLock"
	ActionBuyContent = "buyContent"
	ActionAPI        = "api"
)

// unavailableRetry is the wait advertised when the store is unreachable.
const unavailableRetry = 5 * time.Second

// Decision is the outcome of an admitted call.
type Decision struct {
	Remaining int
	// Local is true when the process-local fallback admitted the call.
	Local bool
}

// RateLimiter admits calls per (action, actor) through a sliding window in
// the shared store. When the store fails, production deployments reject
// (fail closed); development deployments, being single-process, fall back
// to local token buckets.
type RateLimiter struct {
	store     kv.Client
	window    time.Duration
	limits    map[string]int
	fallback  *localLimiter
	now       func() time.Time
	newMember func() string
}

// NewRateLimiter builds a limiter from cfg. mode is config.ModeProduction or
// config.ModeDevelopment.
func NewRateLimiter(store kv.Client, cfg config.RateLimitConfig, mode string) *RateLimiter {
	rl := &RateLimiter{
		store:  store,
		window: cfg.Window,
		limits: map[string]int{
			ActionRecordLock: cfg.RecordLock,
			ActionBuyContent: cfg.BuyContent,
			ActionAPI:        cfg.API,
		},
		now:       time.Now,
		newMember: uuid.NewString,
	}
	if rl.window <= 0 {
		rl.window = time.Minute
	}
	if mode == config.ModeDevelopment {
		rl.fallback = newLocalLimiter()
	}
	return rl
}

// Limit returns the per-window limit for action. Unknown actions share the
// API limit.
func (rl *RateLimiter) Limit(action string) int {
	if n, ok := rl.limits[action]; ok && n > 0 {
		return n
	}
	if n := rl.limits[ActionAPI]; n > 0 {
		return n
	}
	return 1
}

// Allow admits one call by actor for action, or returns a *RateLimitError.
func (rl *RateLimiter) Allow(ctx context.Context, action, actor string) (Decision, error) {
	limit := rl.Limit(action)
	key := "rl:" + action + ":" + strings.TrimSpace(actor)

	res, err := rl.store.SlidingWindow(ctx, key, rl.now(), rl.window, limit, rl.newMember())
	if err != nil {
		if rl.fallback == nil {
			rateLimited.WithLabelValues(action).Inc()
			log.Warn().Err(err).
				Str("component", "guard").
				Str("action", action).
				Msg("rate limiter store unreachable; rejecting")
			return Decision{}, &RateLimitError{Action: action, RetryAfter: unavailableRetry, Cause: err}
		}
		log.Debug().Err(err).
			Str("component", "guard").
			Str("action", action).
			Msg("rate limiter store unreachable; using local buckets")
		return rl.allowLocal(key, action, limit)
	}

	if !res.Allowed {
		rateLimited.WithLabelValues(action).Inc()
		retry := res.RetryAfter
		if retry <= 0 {
			retry = time.Second
		}
		return Decision{}, &RateLimitError{Action: action, RetryAfter: retry}
	}
	return Decision{Remaining: res.Remaining}, nil
}

func (rl *RateLimiter) allowLocal(key, action string, limit int) (Decision, error) {
	lim := rl.fallback.get(key, rate.Every(rl.window/time.Duration(limit)), limit)
	r := lim.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		rateLimited.WithLabelValues(action).Inc()
		return Decision{Local: true}, &RateLimitError{Action: action, RetryAfter: d}
	}
	return Decision{Local: true, Remaining: int(lim.Tokens())}, nil
}

// visitor holds a single bucket and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localLimiter keeps per-key token buckets with opportunistic eviction of
// idle entries.
type localLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	cleanupN uint64
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{visitors: make(map[string]*visitor), ttl: 10 * time.Minute}
}

func (l *localLimiter) get(key string, every rate.Limit, burst int) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Evict before touching key so an idle bucket for key is replaced too.
	l.cleanupN++
	if l.cleanupN >= 5000 {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.cleanupN = 0
	}

	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(every, burst)
	l.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
