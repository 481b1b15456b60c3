// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Lock model.
//
// Lock rows are written only inside the idempotency commit transaction
// (creation) or the decay transaction (RemainingBlocks, CurrentValue and
// Expired). Callers pass the transaction handle as db.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
)

// CreateLock inserts l and returns ErrDuplicate when its TxID was already
// recorded.
func CreateLock(ctx context.Context, db *gorm.DB, l *domain.Lock) error {
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetLockByTxID returns the lock funded by txid or ErrNotFound.
func GetLockByTxID(ctx context.Context, db *gorm.DB, txid string) (*domain.Lock, error) {
	var l domain.Lock
	if err := db.WithContext(ctx).Where("tx_id = ?", txid).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLocksPage returns a page of a content item's locks, newest first.
func ListLocksPage(ctx context.Context, db *gorm.DB, contentID string, offset, limit int) ([]domain.Lock, error) {
	var out []domain.Lock
	err := db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// CountLocks returns how many locks a content item has, active or not.
func CountLocks(ctx context.Context, db *gorm.DB, contentID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Lock{}).Where("content_id = ?", contentID).Count(&n).Error
	return n, err
}

// ActiveLocksAt returns every unexpired lock that has started by height.
func ActiveLocksAt(ctx context.Context, db *gorm.DB, height int64) ([]domain.Lock, error) {
	var out []domain.Lock
	err := db.WithContext(ctx).
		Where("expired = ? AND start_block <= ?", false, height).
		Order("id").
		Find(&out).Error
	return out, err
}

// ActiveLocksForContent returns a content item's unexpired locks.
func ActiveLocksForContent(ctx context.Context, db *gorm.DB, contentID string) ([]domain.Lock, error) {
	var out []domain.Lock
	err := db.WithContext(ctx).
		Where("content_id = ? AND expired = ?", contentID, false).
		Order("id").
		Find(&out).Error
	return out, err
}

// UpdateLockDecay writes a decay step for one lock, conditioned on the
// remaining blocks the caller read. It reports false when the row changed
// underneath (another pass already applied this or a later height).
func UpdateLockDecay(ctx context.Context, db *gorm.DB, id string, priorRemaining, remaining, current int64, expired bool) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Lock{}).
		Where("id = ? AND expired = ? AND remaining_blocks = ?", id, false, priorRemaining).
		Updates(map[string]any{
			"remaining_blocks": remaining,
			"current_value":    current,
			"expired":          expired,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SumActiveValue returns Σ current_value over a content item's active locks,
// the first-principles score.
func SumActiveValue(ctx context.Context, db *gorm.DB, contentID string) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).
		Model(&domain.Lock{}).
		Where("content_id = ? AND expired = ?", contentID, false).
		Select("COALESCE(SUM(current_value), 0)").
		Scan(&sum).Error
	return sum, err
}

// ActiveValueByContent returns Σ current_value over active locks grouped by
// content id.
func ActiveValueByContent(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		ContentID string
		Total     int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Lock{}).
		Select("content_id, COALESCE(SUM(current_value), 0) AS total").
		Where("expired = ?", false).
		Group("content_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ContentID] = r.Total
	}
	return out, nil
}
