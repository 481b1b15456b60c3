// Package services – ContentService
//
// Read path for contents and their locks. Scores are served from the cached
// aggregate; when the cache lags the chain tip a decay pass is requested in
// the background and the reader gets the (slightly stale) cached value. A
// reader that needs a current score asks for fresh.

package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/repo"
	"github.com/tbourn/go-lockd-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Scorer applies decay and maintains cached scores.
type Scorer interface {
	RunDecayPass(ctx context.Context, height int64) (ledger.PassResult, error)
	RecomputeScore(ctx context.Context, contentID string) (int64, error)
	ScoreDrift(ctx context.Context) ([]ledger.Drift, error)
}

// CachedHeights serves the chain height, preferring a cached value.
type CachedHeights interface {
	HeightSource
	Cached(ctx context.Context) (int64, bool)
}

// DecayTrigger requests a background decay pass without blocking.
type DecayTrigger interface {
	Trigger()
}

// ContentService reads contents and their locks.
type ContentService struct {
	DB      *gorm.DB
	Scorer  Scorer
	Heights CachedHeights
	Decay   DecayTrigger // optional
}

// Get returns a content item. With fresh it first brings every lock up to
// the current height and recomputes the item's score from its active locks.
func (s *ContentService) Get(ctx context.Context, id string, fresh bool) (*domain.Content, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("content.id", id),
			attribute.Bool("fresh", fresh),
		),
	)
	defer span.End()

	c, err := repo.GetContent(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}

	if fresh {
		height, err := s.Heights.CurrentHeight(ctx)
		if err != nil {
			return nil, chainErr(err)
		}
		if _, err := s.Scorer.RunDecayPass(ctx, height); err != nil {
			return nil, err
		}
		score, err := s.Scorer.RecomputeScore(ctx, id)
		if err != nil {
			return nil, err
		}
		c.Score = score
		if height > c.ScoreHeight {
			c.ScoreHeight = height
		}
		return c, nil
	}

	if h, ok := s.Heights.Cached(ctx); ok && c.ScoreHeight < h && s.Decay != nil {
		log.Debug().
			Str("component", "services").
			Str("content_id", id).
			Int64("score_height", c.ScoreHeight).
			Int64("tip", h).
			Msg("score behind tip; decay pass requested")
		s.Decay.Trigger()
	}
	return c, nil
}

// List returns a page of contents matching f, highest score first, and the
// total number of matches.
func (s *ContentService) List(ctx context.Context, f domain.ContentFilter, page, pageSize int) ([]domain.Content, int64, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("filter.kind", string(f.Kind)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if err := f.Validate(); err != nil {
		return nil, 0, invalid("filter", "%v", err)
	}
	page, pageSize = utils.ClampPage(page, pageSize)

	total, err := repo.CountContents(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListContentsPage(ctx, s.DB, f, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Locks returns a page of a content item's locks, newest first.
func (s *ContentService) Locks(ctx context.Context, contentID string, page, pageSize int) ([]domain.Lock, int64, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "Locks",
		trace.WithAttributes(
			attribute.String("content.id", contentID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetContent(ctx, s.DB, contentID); errors.Is(err, repo.ErrNotFound) {
		return nil, 0, ErrContentNotFound
	} else if err != nil {
		return nil, 0, err
	}
	page, pageSize = utils.ClampPage(page, pageSize)

	total, err := repo.CountLocks(ctx, s.DB, contentID)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListLocksPage(ctx, s.DB, contentID, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
