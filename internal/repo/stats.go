// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains small aggregate queries used for ETag
// generation in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
)

// ContentsStats returns the number of contents matching f and the greatest
// UpdatedAt among them. maxUpdatedAt is nil when nothing matches.
func ContentsStats(ctx context.Context, db *gorm.DB, f domain.ContentFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q, err := ApplyContentFilter(db.WithContext(ctx).Model(&domain.Content{}), f)
	if err != nil {
		return 0, nil, err
	}
	return latest(q)
}

// LocksStats returns the number of locks on a content item and the greatest
// UpdatedAt among them.
func LocksStats(ctx context.Context, db *gorm.DB, contentID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latest(db.WithContext(ctx).Model(&domain.Lock{}).Where("content_id = ?", contentID))
}

func latest(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
