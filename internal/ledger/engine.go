package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/repo"
)

var (
	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lockd_decay_pass_duration_seconds",
			Help:    "Duration of decay passes in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	locksExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockd_locks_expired_total",
			Help: "Locks moved to the expired state by decay passes.",
		},
	)
)

func init() {
	prometheus.MustRegister(passDuration, locksExpired)
}

// PassResult summarizes one decay pass.
type PassResult struct {
	Height     int64 `json:"height"`
	Scanned    int   `json:"scanned"`
	Updated    int   `json:"updated"`
	Expired    int   `json:"expired"`
	ScoreDelta int64 `json:"score_delta"`
}

// Drift is a content whose cached score disagrees with its active locks.
type Drift struct {
	ContentID string `json:"content_id"`
	Cached    int64  `json:"cached"`
	Actual    int64  `json:"actual"`
}

// Engine applies decay to the lock table.
type Engine struct {
	db *gorm.DB
}

// NewEngine returns an Engine over db.
func NewEngine(db *gorm.DB) *Engine { return &Engine{db: db} }

// RunDecayPass brings every active lock to height in one transaction: each
// lock's remaining blocks and value are recomputed, locks with nothing left
// expire, and each content's cached score moves by the change in its locks'
// values (on expiry, minus the last value).
//
// Updates are compare-and-set on the remaining blocks read and only ever
// decrease them, so repeating a height, or running a lower one, changes
// nothing.
func (e *Engine) RunDecayPass(ctx context.Context, height int64) (PassResult, error) {
	tr := otel.Tracer("ledger/Engine")
	ctx, span := tr.Start(ctx, "RunDecayPass",
		trace.WithAttributes(attribute.Int64("height", height)),
	)
	defer span.End()

	start := time.Now()
	defer func() { passDuration.Observe(time.Since(start).Seconds()) }()

	res := PassResult{Height: height}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res = PassResult{Height: height}

		locks, err := repo.ActiveLocksAt(ctx, tx, height)
		if err != nil {
			return fmt.Errorf("select active locks: %w", err)
		}
		res.Scanned = len(locks)

		deltas := make(map[string]int64)
		for _, l := range locks {
			rem := Remaining(l.StartBlock, l.DurationBlocks, height)
			if rem >= l.RemainingBlocks {
				continue
			}
			cur := DecayValue(l.InitialValue, rem, l.DurationBlocks)
			expired := rem == 0
			ok, err := repo.UpdateLockDecay(ctx, tx, l.ID, l.RemainingBlocks, rem, cur, expired)
			if err != nil {
				return fmt.Errorf("update lock %s: %w", l.ID, err)
			}
			if !ok {
				continue
			}
			res.Updated++
			if expired {
				res.Expired++
			}
			deltas[l.ContentID] += cur - l.CurrentValue
		}

		ids := make([]string, 0, len(deltas))
		for id := range deltas {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := repo.AddContentScore(ctx, tx, id, deltas[id]); err != nil {
				return fmt.Errorf("adjust score %s: %w", id, err)
			}
			res.ScoreDelta += deltas[id]
		}

		return repo.StampScoreHeight(ctx, tx, height)
	})
	if err != nil {
		span.RecordError(err)
		return PassResult{}, err
	}

	locksExpired.Add(float64(res.Expired))
	span.SetAttributes(
		attribute.Int("updated", res.Updated),
		attribute.Int("expired", res.Expired),
	)
	if res.Updated > 0 {
		log.Info().
			Str("component", "ledger").
			Int64("height", height).
			Int("updated", res.Updated).
			Int("expired", res.Expired).
			Int64("score_delta", res.ScoreDelta).
			Msg("decay pass applied")
	}
	return res, nil
}

// RecomputeScore sets a content's cached score to the sum over its active
// locks and returns it.
func (e *Engine) RecomputeScore(ctx context.Context, contentID string) (int64, error) {
	var sum int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if sum, err = repo.SumActiveValue(ctx, tx, contentID); err != nil {
			return err
		}
		return repo.SetContentScore(ctx, tx, contentID, sum, 0)
	})
	return sum, err
}

// ScoreDrift lists contents whose cached score differs from the sum over
// their active locks.
func (e *Engine) ScoreDrift(ctx context.Context) ([]Drift, error) {
	actual, err := repo.ActiveValueByContent(ctx, e.db)
	if err != nil {
		return nil, err
	}
	var rows []domain.Content
	if err := e.db.WithContext(ctx).Select("id", "score").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	var out []Drift
	for _, c := range rows {
		if a := actual[c.ID]; a != c.Score {
			out = append(out, Drift{ContentID: c.ID, Cached: c.Score, Actual: a})
		}
	}
	return out, nil
}
