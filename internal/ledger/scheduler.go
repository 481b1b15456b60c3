package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-lockd-backend/internal/kv"
)

// leaseKey names the shared lease that keeps one pass running at a time
// across instances.
const leaseKey = "ledger:decay-lease"

// ErrLeaseHeld is returned by RunOnce when another instance holds the lease.
var ErrLeaseHeld = errors.New("decay lease held elsewhere")

// Passer runs a decay pass at a height. *Engine implements it.
type Passer interface {
	RunDecayPass(ctx context.Context, height int64) (PassResult, error)
}

// HeightSource resolves the current block height. *chain.HeightCache
// implements it.
type HeightSource interface {
	CurrentHeight(ctx context.Context) (int64, error)
}

// SchedulerOptions tunes a Scheduler.
type SchedulerOptions struct {
	// Interval runs a pass periodically; zero disables the ticker.
	Interval time.Duration
	// LeaseTTL bounds how long a crashed instance can block others.
	LeaseTTL time.Duration
}

// Scheduler runs decay passes in the background when triggered and,
// optionally, on an interval.
//
// Trigger never blocks: requests arriving while a pass is pending coalesce
// into that pass. Readers that need a fresh score must recompute it rather
// than wait on a trigger.
type Scheduler struct {
	passer  Passer
	heights HeightSource
	store   kv.Client
	opts    SchedulerOptions

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler wires a scheduler. Call Start to launch its worker.
func NewScheduler(passer Passer, heights HeightSource, store kv.Client, opts SchedulerOptions) *Scheduler {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	return &Scheduler{
		passer:  passer,
		heights: heights,
		store:   store,
		opts:    opts,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Trigger requests a pass without waiting for it.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start launches the worker. It exits when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Stop halts the worker and waits for an in-progress pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	// Never started: nothing to wait for, and Start becomes a no-op.
	s.startOnce.Do(func() { close(s.done) })
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		t := time.NewTicker(s.opts.Interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.trigger:
		case <-tick:
		}

		res, err := s.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrLeaseHeld):
			log.Debug().Str("component", "ledger").Msg("decay pass skipped; lease held elsewhere")
		case err != nil && ctx.Err() == nil:
			log.Error().Err(err).Str("component", "ledger").Msg("decay pass failed")
		case err == nil:
			log.Debug().Str("component", "ledger").Int64("height", res.Height).Int("updated", res.Updated).Msg("decay pass done")
		}
	}
}

// RunOnce takes the shared lease, resolves the current height and runs one
// pass. It returns ErrLeaseHeld when another instance is mid-pass.
func (s *Scheduler) RunOnce(ctx context.Context) (PassResult, error) {
	token := uuid.NewString()
	ok, err := s.store.SetNX(ctx, leaseKey, token, s.opts.LeaseTTL)
	if err != nil {
		return PassResult{}, fmt.Errorf("acquire decay lease: %w", err)
	}
	if !ok {
		return PassResult{}, ErrLeaseHeld
	}
	defer func() {
		if _, err := s.store.CompareAndDelete(context.WithoutCancel(ctx), leaseKey, token); err != nil {
			log.Warn().Err(err).Str("component", "ledger").Msg("release decay lease")
		}
	}()

	height, err := s.heights.CurrentHeight(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("current height: %w", err)
	}
	return s.passer.RunDecayPass(ctx, height)
}
