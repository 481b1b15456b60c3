// Lock HTTP handlers.
//
// This file exposes:
//   - POST /locks   (record a verified timelock against a content item)
//
// Idempotency:
// The transaction id is the idempotency key. An Idempotency-Key header is
// optional; when present it must equal the body's tx_id. A repeated request
// for the same txid returns the stored result with `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/http/middleware"
	"github.com/tbourn/go-lockd-backend/internal/services"
)

// RecordLockRequest is the JSON payload a wallet sends after broadcasting a
// lock transaction. Amount and DurationBlocks are what the wallet claims;
// the stored lock uses the on-chain values.
type RecordLockRequest struct {
	TxID             string `json:"tx_id" binding:"required" example:"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"`
	Amount           int64  `json:"amount" example:"100000"`
	DurationBlocks   int64  `json:"duration_blocks" example:"1000"`
	ContentID        string `json:"content_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Tag              string `json:"tag,omitempty" example:"bsv"`
	ContentReference string `json:"content_reference,omitempty"`
	LockAddress      string `json:"lock_address,omitempty"`
}

// checkIdempotencyKey rejects a header key that names a different txid.
func checkIdempotencyKey(c *gin.Context, txID string) bool {
	key, present := middleware.GetIdempotencyKey(c)
	if present && key != strings.ToLower(strings.TrimSpace(txID)) {
		fail(c, http.StatusBadRequest, ErrCodeIdempotencyMismatch, "Idempotency-Key must equal tx_id")
		return false
	}
	return true
}

// RecordLock godoc
// @ID          recordLock
// @Summary     Record a lock
// @Description Verifies a timelock transaction on-chain and adds its value to the content's score.
// @Description Repeating the call with the same tx_id returns the first result.
// @Tags        Locks
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Locking user"  example(user123)
// @Param       Idempotency-Key  header  string  false "Must equal tx_id when sent"
// @Param       body             body    handlers.RecordLockRequest  true  "Lock claim"
//
// @Success     201  {object}  services.RecordLockResult  "Lock recorded"
// @Success     200  {object}  services.RecordLockResult  "Replayed result"
// @Failure     400  {object}  handlers.ErrorResponse     "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse     "Content or transaction not found"
// @Failure     409  {object}  handlers.ErrorResponse     "Conflict"
// @Failure     422  {object}  handlers.ErrorResponse     "Verification mismatch"
// @Failure     429  {object}  handlers.ErrorResponse     "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse     "Block data source unavailable"
// @Router      /locks [post]
func (h *Handlers) RecordLock(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}

	var req RecordLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: tx_id and content_id are required")
		return
	}
	if !checkIdempotencyKey(c, req.TxID) {
		return
	}

	res, wasReplay, err := h.locks.RecordLock(c.Request.Context(), services.LockClaim{
		UserID:           uid,
		TxID:             req.TxID,
		Amount:           req.Amount,
		DurationBlocks:   req.DurationBlocks,
		ContentID:        req.ContentID,
		Tag:              req.Tag,
		ContentReference: req.ContentReference,
		LockAddress:      req.LockAddress,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	if wasReplay || res.AlreadyProcessed {
		replayed(c)
		ok(c, http.StatusOK, res)
		return
	}
	ok(c, http.StatusCreated, res)
}
