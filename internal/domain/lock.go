package domain

import "time"

// Lock records one verified on-chain timelock committed against a content
// item. Its scored value decays linearly as blocks pass and reaches zero when
// the timelock elapses.
//
// Fields:
//   - TxID: the funding transaction id; unique, the natural idempotency key.
//   - Amount: base units observed on-chain (never the client's claim).
//   - InitialValue / CurrentValue: scored value at creation and now, in the
//     same unit as Amount.
//   - StartBlock / DurationBlocks / RemainingBlocks: the decay window.
//   - Expired: terminal flag; once set, RemainingBlocks and CurrentValue are 0.
//   - Verified / OnchainAmount / OnchainUnlockHeight: what verification saw.
//
// Invariants: 0 <= RemainingBlocks <= DurationBlocks, and while active
// CurrentValue == InitialValue*RemainingBlocks/DurationBlocks (integer floor).
type Lock struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	TxID      string `json:"tx_id"      gorm:"type:char(64);not null;uniqueIndex:ux_locks_txid"`
	UserID    string `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_locks_user"`
	ContentID string `json:"content_id" gorm:"type:char(36);not null;index:idx_locks_content"`

	Amount       int64  `json:"amount"        gorm:"not null;check:amount > 0"`
	InitialValue int64  `json:"initial_value" gorm:"not null"`
	CurrentValue int64  `json:"current_value" gorm:"not null"`
	Tag          string `json:"tag,omitempty" gorm:"type:varchar(64)"`
	Reference    string `json:"content_reference,omitempty" gorm:"type:varchar(256)"`

	StartBlock      int64 `json:"start_block"      gorm:"not null;index:idx_locks_active,priority:2"`
	DurationBlocks  int64 `json:"duration_blocks"  gorm:"not null;check:duration_blocks > 0"`
	RemainingBlocks int64 `json:"remaining_blocks" gorm:"not null;check:remaining_blocks >= 0"`
	Expired         bool  `json:"expired"          gorm:"not null;default:false;index:idx_locks_active,priority:1"`

	Verified            bool  `json:"verified"              gorm:"not null;default:false"`
	OnchainAmount       int64 `json:"onchain_amount"        gorm:"not null"`
	OnchainUnlockHeight int64 `json:"onchain_unlock_height" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Lock.
func (Lock) TableName() string { return "locks" }

// UnlockHeight is the block at which the lock stops contributing.
func (l Lock) UnlockHeight() int64 { return l.StartBlock + l.DurationBlocks }
