package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
)

// CreatePurchase inserts p together with its shares and returns ErrDuplicate
// when the payment transaction was already consumed.
func CreatePurchase(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	for i := range p.Shares {
		if p.Shares[i].ID == "" {
			p.Shares[i].ID = uuid.NewString()
		}
		p.Shares[i].PurchaseID = p.ID
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetPurchaseByTxID returns the purchase paid by txid, shares included.
func GetPurchaseByTxID(ctx context.Context, db *gorm.DB, txid string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := db.WithContext(ctx).
		Preload("Shares", func(q *gorm.DB) *gorm.DB { return q.Order("amount DESC").Order("lock_id") }).
		Where("tx_id = ?", txid).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}
