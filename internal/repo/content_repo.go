// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Content rows
// and the ContentFilter compiler.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
)

// ErrListingChanged is returned by TransferOwnership when the owner or the
// listing no longer match what the buyer paid for.
var ErrListingChanged = errors.New("listing changed")

// CreateContent inserts c. It exists for the CLI seed command and tests;
// content CRUD belongs to another service.
func CreateContent(ctx context.Context, db *gorm.DB, c *domain.Content) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = domain.ContentPublished
	}
	return db.WithContext(ctx).Create(c).Error
}

// GetContent returns the content with id or ErrNotFound.
func GetContent(ctx context.Context, db *gorm.DB, id string) (*domain.Content, error) {
	var c domain.Content
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// AddContentScore adjusts the cached score by delta (negative to decrement).
func AddContentScore(ctx context.Context, db *gorm.DB, id string, delta int64) error {
	if delta == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Content{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"score":      gorm.Expr("score + ?", delta),
			"updated_at": time.Now().UTC(),
		}).Error
}

// SetContentScore overwrites the cached score, e.g. after a recompute.
func SetContentScore(ctx context.Context, db *gorm.DB, id string, score, height int64) error {
	return db.WithContext(ctx).
		Model(&domain.Content{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"score":        score,
			"score_height": gorm.Expr("MAX(score_height, ?)", height),
			"updated_at":   time.Now().UTC(),
		}).Error
}

// StampScoreHeight records that every cached score reflects decay up to
// height. Rows already stamped higher are left alone.
func StampScoreHeight(ctx context.Context, db *gorm.DB, height int64) error {
	return db.WithContext(ctx).
		Model(&domain.Content{}).
		Where("score_height < ?", height).
		UpdateColumn("score_height", height).Error
}

// MinScoreHeight returns the lowest score_height across contents, 0 when none.
func MinScoreHeight(ctx context.Context, db *gorm.DB) (int64, error) {
	var h int64
	err := db.WithContext(ctx).
		Model(&domain.Content{}).
		Select("COALESCE(MIN(score_height), 0)").
		Scan(&h).Error
	return h, err
}

// TransferOwnership hands c to newOwner and clears the listing, provided the
// row still carries the owner and price the buyer saw.
func TransferOwnership(ctx context.Context, db *gorm.DB, c *domain.Content, newOwner string) error {
	res := db.WithContext(ctx).
		Model(&domain.Content{}).
		Where("id = ? AND owner_id = ? AND for_sale = ? AND sale_price = ?", c.ID, c.OwnerID, true, c.SalePrice).
		UpdateColumns(map[string]any{
			"owner_id":   newOwner,
			"for_sale":   false,
			"sale_price": 0,
			"payout_key": "",
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrListingChanged
	}
	return nil
}

// ListContentsPage returns a page of contents matching f, highest score first.
func ListContentsPage(ctx context.Context, db *gorm.DB, f domain.ContentFilter, offset, limit int) ([]domain.Content, error) {
	q, err := ApplyContentFilter(db.WithContext(ctx).Model(&domain.Content{}), f)
	if err != nil {
		return nil, err
	}
	var out []domain.Content
	err = q.Order("score DESC").Order("created_at DESC").Order("id").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// CountContents returns how many contents match f.
func CountContents(ctx context.Context, db *gorm.DB, f domain.ContentFilter) (int64, error) {
	q, err := ApplyContentFilter(db.WithContext(ctx).Model(&domain.Content{}), f)
	if err != nil {
		return 0, err
	}
	var n int64
	err = q.Count(&n).Error
	return n, err
}

// ApplyContentFilter adds f as a WHERE clause on q. A zero filter matches
// everything.
func ApplyContentFilter(q *gorm.DB, f domain.ContentFilter) (*gorm.DB, error) {
	if f.IsZero() {
		return q, nil
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	sql, args := compileFilter(f)
	return q.Where(sql, args...), nil
}

func compileFilter(f domain.ContentFilter) (string, []any) {
	switch f.Kind {
	case "":
		return "1 = 1", nil
	case domain.FilterStatus:
		return "status = ?", []any{f.Value}
	case domain.FilterSearch:
		return "LOWER(title) LIKE ? ESCAPE '\\'", []any{"%" + escapeLike(strings.ToLower(f.Value)) + "%"}
	case domain.FilterFollowedBy:
		return "owner_id IN (SELECT followee_id FROM follows WHERE follower_id = ?)", []any{f.Value}
	case domain.FilterAll, domain.FilterAny:
		if len(f.Children) == 0 {
			if f.Kind == domain.FilterAll {
				return "1 = 1", nil
			}
			return "1 = 0", nil
		}
		sep := " AND "
		if f.Kind == domain.FilterAny {
			sep = " OR "
		}
		parts := make([]string, 0, len(f.Children))
		var args []any
		for _, ch := range f.Children {
			s, a := compileFilter(ch)
			parts = append(parts, "("+s+")")
			args = append(args, a...)
		}
		return strings.Join(parts, sep), args
	default:
		panic(fmt.Sprintf("repo: unknown filter kind %q", f.Kind))
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// CreateFollow inserts a follow edge. Used by the CLI seed command and tests.
func CreateFollow(ctx context.Context, db *gorm.DB, follower, followee string) error {
	err := db.WithContext(ctx).Create(&domain.Follow{
		FollowerID: follower,
		FolloweeID: followee,
		CreatedAt:  time.Now().UTC(),
	}).Error
	if isUniqueViolation(err) {
		return nil
	}
	return err
}
