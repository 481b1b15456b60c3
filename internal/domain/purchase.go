package domain

import "time"

// Purchase records a verified payment that transferred ownership of a
// content item. TxID is unique: a payment transaction is consumed once.
type Purchase struct {
	ID         string          `json:"id"          gorm:"type:char(36);primaryKey"`
	TxID       string          `json:"tx_id"       gorm:"type:char(64);not null;uniqueIndex:ux_purchases_txid"`
	ContentID  string          `json:"content_id"  gorm:"type:char(36);not null;index"`
	BuyerID    string          `json:"buyer_id"    gorm:"type:varchar(64);not null;index"`
	SellerID   string          `json:"seller_id"   gorm:"type:varchar(64);not null"`
	Price      int64           `json:"price"       gorm:"not null"`
	Paid       int64           `json:"paid"        gorm:"not null"`
	OwnerShare int64           `json:"owner_share" gorm:"not null"`
	HolderPool int64           `json:"holder_pool" gorm:"not null"`
	Shares     []PurchaseShare `json:"holder_shares" gorm:"foreignKey:PurchaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TableName returns the database table name for Purchase.
func (Purchase) TableName() string { return "purchases" }

// PurchaseShare is one lock holder's cut of a sale, weighted by the lock's
// decayed value at the time of purchase.
type PurchaseShare struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	PurchaseID string `json:"purchase_id" gorm:"type:char(36);not null;index"`
	LockID     string `json:"lock_id"     gorm:"type:char(36);not null"`
	UserID     string `json:"user_id"     gorm:"type:varchar(64);not null"`
	Weight     int64  `json:"weight"      gorm:"not null"`
	Amount     int64  `json:"amount"      gorm:"not null"`
}

// TableName returns the database table name for PurchaseShare.
func (PurchaseShare) TableName() string { return "purchase_shares" }
