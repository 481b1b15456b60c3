package domain

import "time"

// Content lifecycle states. Only published content accepts new locks.
const (
	ContentPublished = "published"
	ContentHidden    = "hidden"
	ContentArchived  = "archived"
)

// Content is a lockable item. Rows are created by the content CRUD service;
// this backend reads them and mutates only the cached score and, on a sale,
// the ownership and listing fields.
//
// Score caches the sum of CurrentValue over the content's active locks as of
// ScoreHeight. The sum is the source of truth; the cache is corrected by each
// decay pass and can be recomputed on read.
type Content struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	OwnerID     string    `json:"owner_id"     gorm:"type:varchar(64);not null;index:idx_contents_owner"`
	Title       string    `json:"title"        gorm:"type:varchar(255);not null"`
	Status      string    `json:"status"       gorm:"type:varchar(16);not null;default:'published';index;check:status IN ('published','hidden','archived')"`
	Score       int64     `json:"score"        gorm:"not null;default:0"`
	ScoreHeight int64     `json:"score_height" gorm:"not null;default:0"`
	ForSale     bool      `json:"for_sale"     gorm:"not null;default:false"`
	SalePrice   int64     `json:"sale_price"   gorm:"not null;default:0"`
	PayoutKey   string    `json:"-"            gorm:"type:varchar(130)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Content.
func (Content) TableName() string { return "contents" }

// Listed reports whether the content can currently be bought.
func (c Content) Listed() bool { return c.ForSale && c.SalePrice > 0 && c.PayoutKey != "" }

// Follow is an edge in the follow graph, owned by the social service and
// read here only to filter content lists.
type Follow struct {
	FollowerID string    `json:"follower_id" gorm:"type:varchar(64);primaryKey"`
	FolloweeID string    `json:"followee_id" gorm:"type:varchar(64);primaryKey;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Follow.
func (Follow) TableName() string { return "follows" }
