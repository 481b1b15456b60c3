// Purchase HTTP handlers.
//
// This file exposes:
//   - POST /contents/{id}/purchases   (buy listed content with a verified payment)
//
// The payment txid keys the request the same way as POST /locks.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/services"
)

// BuyContentRequest is the JSON payload for a purchase.
type BuyContentRequest struct {
	// TxID is the broadcast payment transaction.
	TxID string `json:"tx_id" binding:"required" example:"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"`
}

// BuyContent godoc
// @ID          buyContent
// @Summary     Buy content
// @Description Verifies a payment to the listing's payout key, transfers ownership to the buyer
// @Description and splits the holder pool across active lock holders.
// @Tags        Purchases
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Buyer"  example(user123)
// @Param       Idempotency-Key  header  string  false "Must equal tx_id when sent"
// @Param       id               path    string  true  "Content ID"
// @Param       body             body    handlers.BuyContentRequest  true  "Payment"
//
// @Success     201  {object}  services.PurchaseResult  "Purchased"
// @Success     200  {object}  services.PurchaseResult  "Replayed result"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse   "Content or transaction not found"
// @Failure     409  {object}  handlers.ErrorResponse   "Not listed, own content, listing changed or tx consumed"
// @Failure     422  {object}  handlers.ErrorResponse   "Payment mismatch"
// @Failure     429  {object}  handlers.ErrorResponse   "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse   "Block data source unavailable"
// @Router      /contents/{id}/purchases [post]
func (h *Handlers) BuyContent(c *gin.Context) {
	uid, authed := requireUser(c)
	if !authed {
		return
	}

	var req BuyContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: tx_id is required")
		return
	}
	if !checkIdempotencyKey(c, req.TxID) {
		return
	}

	res, wasReplay, err := h.purchases.BuyContent(c.Request.Context(), services.PurchaseClaim{
		BuyerID:   uid,
		ContentID: c.Param("id"),
		TxID:      req.TxID,
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
