// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for idempotency
// records guarding financial mutations.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
)

// ErrStaleAttempt is returned when an attempt tries to settle a record it no
// longer owns (its lease lapsed and another attempt reclaimed the key).
var ErrStaleAttempt = errors.New("idempotency record owned by another attempt")

// GetIdempotency returns the record for (action, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, action, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("action = ? AND natural_key = ?", action, key).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts an in-flight record owned by attemptID and returns
// ErrDuplicate when (action, key) already exists.
func CreateIdempotency(ctx context.Context, db *gorm.DB, action, key, attemptID string, lease time.Duration) (*domain.IdempotencyRecord, error) {
	now := time.Now().UTC()
	rec := &domain.IdempotencyRecord{
		ID:         uuid.NewString(),
		Action:     action,
		NaturalKey: key,
		Status:     domain.IdemInFlight,
		AttemptID:  attemptID,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(lease),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// CompleteIdempotency flips the attempt's in-flight record to completed with
// result. Call it inside the same transaction as the business writes so the
// two commit together.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, id, attemptID string, result []byte) error {
	return settle(ctx, db, id, attemptID, map[string]any{
		"status":     domain.IdemCompleted,
		"result":     result,
		"error":      "",
		"updated_at": time.Now().UTC(),
	})
}

// FailIdempotency marks the attempt's in-flight record failed. A failed record
// is never replayed; the next attempt releases and re-creates it.
func FailIdempotency(ctx context.Context, db *gorm.DB, id, attemptID, reason string) error {
	return settle(ctx, db, id, attemptID, map[string]any{
		"status":     domain.IdemFailed,
		"error":      reason,
		"updated_at": time.Now().UTC(),
	})
}

func settle(ctx context.Context, db *gorm.DB, id, attemptID string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("id = ? AND attempt_id = ? AND status = ?", id, attemptID, domain.IdemInFlight).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleAttempt
	}
	return nil
}

// ReleaseIdempotency deletes rec if it is still reclaimable at now: failed, or
// in flight with a lapsed lease. It reports whether a row was removed; false
// means another attempt got there first.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, rec *domain.IdempotencyRecord, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Where("id = ? AND (status = ? OR (status = ? AND expires_at <= ?))",
			rec.ID, domain.IdemFailed, domain.IdemInFlight, now).
		Delete(&domain.IdempotencyRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PurgeIdempotency removes settled records older than cutoff. Completed
// records past the retention window no longer replay; the unique constraint
// on the business row still guards against reprocessing.
//
// A mutation retried after its record is purged is not replayed byte for
// byte. recordLock answers AlreadyProcessed with the stored lock and the
// content's current score, and buyContent answers with the stored purchase.
func PurgeIdempotency(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("status <> ? AND updated_at < ?", domain.IdemInFlight, cutoff).
		Delete(&domain.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
