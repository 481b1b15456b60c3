// Package handlers exposes the lockd HTTP API.
//
// Handlers are transport-thin: they bind and shape input, call application
// services, and translate results into HTTP responses (including conditional
// and replayed responses). Every business rule lives in internal/services.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/http/middleware"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/services"
	"github.com/tbourn/go-lockd-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// LockService records verified on-chain locks.
type LockService interface {
	// RecordLock verifies and stores a lock. The boolean reports a replay.
	RecordLock(ctx context.Context, claim services.LockClaim) (services.RecordLockResult, bool, error)
}

// PurchaseService sells listed content against a verified payment.
type PurchaseService interface {
	// BuyContent verifies the payment and transfers ownership. The boolean
	// reports a replay.
	BuyContent(ctx context.Context, claim services.PurchaseClaim) (services.PurchaseResult, bool, error)
}

// ContentService reads contents and their locks.
type ContentService interface {
	Get(ctx context.Context, id string, fresh bool) (*domain.Content, error)
	List(ctx context.Context, f domain.ContentFilter, page, pageSize int) ([]domain.Content, int64, error)
	Locks(ctx context.Context, contentID string, page, pageSize int) ([]domain.Lock, int64, error)
}

// AdminService runs operator tasks.
type AdminService interface {
	RunDecayPass(ctx context.Context, height int64) (ledger.PassResult, error)
	ScoreDrift(ctx context.Context) ([]ledger.Drift, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on service interfaces so
// tests can substitute fakes.
type Handlers struct {
	locks     LockService
	purchases PurchaseService
	contents  ContentService
	admin     AdminService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(locks LockService, purchases PurchaseService, contents ContentService, admin AdminService) *Handlers {
	return &Handlers{locks: locks, purchases: purchases, contents: contents, admin: admin}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses page and page_size query params and bounds them to
// the shared defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}

// requireUser returns the caller's id or writes a 401. Mutations are never
// anonymous.
func requireUser(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID required")
		return "", false
	}
	return uid, true
}
