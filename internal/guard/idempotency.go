package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/repo"
)

// DefaultLease bounds how long an in-flight record blocks duplicates after
// its attempt died without settling.
const DefaultLease = 2 * time.Minute

// maxClaims bounds delete-and-recreate rounds when racing other attempts
// over a reclaimable record.
const maxClaims = 3

// Commit performs the business writes inside the transaction that also
// completes the idempotency record. Its result is stored as JSON and
// replayed verbatim to duplicates.
type Commit[T any] func(tx *gorm.DB) (T, error)

// Prepare does the slow, read-only part of the work (network verification)
// outside any transaction and returns the Commit to run.
type Prepare[T any] func(ctx context.Context) (Commit[T], error)

// Idempotency stores records in db.
type Idempotency struct {
	db    *gorm.DB
	lease time.Duration
	now   func() time.Time
}

// NewIdempotency returns a guard over db. A non-positive lease uses
// DefaultLease.
func NewIdempotency(db *gorm.DB, lease time.Duration) *Idempotency {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Idempotency{db: db, lease: lease, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the handle records live in.
func (g *Idempotency) DB() *gorm.DB { return g.db }

// Run executes prepare then its Commit at most once per (action, key).
//
//   - completed record: its stored result is returned with replayed=true and
//     nothing runs.
//   - in-flight record within its lease: ErrDuplicateInFlight.
//   - failed or lease-expired record: deleted, then this attempt claims the
//     key afresh.
//
// A failure in prepare or commit marks the record failed, never completed,
// so a later retry starts over. A panic does the same and re-panics.
func Run[T any](ctx context.Context, g *Idempotency, action, key string, prepare Prepare[T]) (result T, replayed bool, err error) {
	tr := otel.Tracer("guard/Idempotency")
	ctx, span := tr.Start(ctx, "Run",
		trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("natural_key", key),
		),
	)
	defer span.End()

	attempt := uuid.NewString()
	for i := 0; i < maxClaims; i++ {
		rec, err := repo.CreateIdempotency(ctx, g.db, action, key, attempt, g.lease)
		if err == nil {
			return execute(ctx, g, rec, prepare)
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return result, false, fmt.Errorf("claim %s/%s: %w", action, key, err)
		}

		existing, err := repo.GetIdempotency(ctx, g.db, action, key)
		if errors.Is(err, repo.ErrNotFound) {
			// Released between our insert and read.
			continue
		}
		if err != nil {
			return result, false, fmt.Errorf("load %s/%s: %w", action, key, err)
		}

		switch {
		case existing.Status == domain.IdemCompleted:
			if err := json.Unmarshal(existing.Result, &result); err != nil {
				return result, false, fmt.Errorf("decode stored result %s/%s: %w", action, key, err)
			}
			idemOutcomes.WithLabelValues(action, "replayed").Inc()
			span.SetAttributes(attribute.Bool("replayed", true))
			return result, true, nil
		case existing.Reclaimable(g.now()):
			if _, err := repo.ReleaseIdempotency(ctx, g.db, existing, g.now()); err != nil {
				return result, false, fmt.Errorf("release %s/%s: %w", action, key, err)
			}
			idemOutcomes.WithLabelValues(action, "reclaimed").Inc()
		default:
			idemOutcomes.WithLabelValues(action, "in_flight").Inc()
			return result, false, ErrDuplicateInFlight
		}
	}
	idemOutcomes.WithLabelValues(action, "in_flight").Inc()
	return result, false, ErrDuplicateInFlight
}

func execute[T any](ctx context.Context, g *Idempotency, rec *domain.IdempotencyRecord, prepare Prepare[T]) (result T, replayed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(ctx, rec, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	commit, err := prepare(ctx)
	if err != nil {
		g.fail(ctx, rec, err.Error())
		return result, false, err
	}

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := commit(tx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if err := repo.CompleteIdempotency(ctx, tx, rec.ID, rec.AttemptID, raw); err != nil {
			return err
		}
		result = v
		return nil
	})
	if errors.Is(err, repo.ErrStaleAttempt) {
		// Our lease lapsed and another attempt owns the key; our writes rolled back.
		idemOutcomes.WithLabelValues(rec.Action, "in_flight").Inc()
		var zero T
		return zero, false, ErrDuplicateInFlight
	}
	if err != nil {
		g.fail(ctx, rec, err.Error())
		var zero T
		return zero, false, err
	}
	idemOutcomes.WithLabelValues(rec.Action, "executed").Inc()
	return result, false, nil
}

// fail settles rec as failed even when ctx was cancelled, so a client that
// hung up does not leave the key blocked for a whole lease.
func (g *Idempotency) fail(ctx context.Context, rec *domain.IdempotencyRecord, reason string) {
	idemOutcomes.WithLabelValues(rec.Action, "failed").Inc()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := repo.FailIdempotency(ctx, g.db, rec.ID, rec.AttemptID, reason); err != nil && !errors.Is(err, repo.ErrStaleAttempt) {
		log.Error().Err(err).
			Str("component", "guard").
			Str("action", rec.Action).
			Str("natural_key", rec.NaturalKey).
			Msg("could not mark idempotency record failed")
	}
}
