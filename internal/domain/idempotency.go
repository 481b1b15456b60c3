// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository, ledger, guard and service layers.
package domain

import "time"

// IdempotencyStatus is the lifecycle state of an IdempotencyRecord.
type IdempotencyStatus string

const (
	IdemInFlight  IdempotencyStatus = "in_flight"
	IdemCompleted IdempotencyStatus = "completed"
	IdemFailed    IdempotencyStatus = "failed"
)

// IdempotencyRecord guards one financial mutation identified by
// (action, natural_key), e.g. ("recordLock", <txid>). The attempt that
// inserts the row owns it: only that attempt (matched by AttemptID) may
// complete or fail it. Completed rows carry the JSON result replayed to
// duplicate callers. In-flight rows whose ExpiresAt has passed are treated
// as abandoned and may be released by a later attempt.
type IdempotencyRecord struct {
	ID         string            `gorm:"type:char(36);primaryKey"`
	Action     string            `gorm:"type:varchar(32);not null;uniqueIndex:ux_idem_action_key,priority:1"`
	NaturalKey string            `gorm:"type:varchar(128);not null;uniqueIndex:ux_idem_action_key,priority:2"`
	Status     IdempotencyStatus `gorm:"type:varchar(16);not null;index"`
	AttemptID  string            `gorm:"type:char(36);not null"`
	Result     []byte            `gorm:"type:blob"`
	Error      string            `gorm:"type:text"`
	CreatedAt  time.Time         `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"not null;autoUpdateTime"`
	ExpiresAt  time.Time         `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// Expired reports whether an in-flight record's lease has lapsed at now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return r.Status == IdemInFlight && !now.Before(r.ExpiresAt)
}

// Reclaimable reports whether a later attempt may delete and re-create the
// record: failed records always, in-flight records once their lease lapsed.
func (r IdempotencyRecord) Reclaimable(now time.Time) bool {
	return r.Status == IdemFailed || r.Expired(now)
}
