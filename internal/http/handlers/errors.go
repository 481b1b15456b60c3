// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes the symbolic error codes returned in ErrorResponse and
// the mapping from service errors to (status, code). Clients branch on codes,
// never on messages.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (bad_request, unauthorized, internal_error) mirror HTTP
//     status semantics.
//   - Domain codes name the business rule that rejected the request.
//   - Retryable outcomes carry Retry-After.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "verification_mismatch",
//	  "message": "amount: claimed 10000, on-chain 9000"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/guard"
	"github.com/tbourn/go-lockd-backend/internal/http/middleware"
	"github.com/tbourn/go-lockd-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeIdempotencyMismatch   = "idempotency_key_mismatch"
	ErrCodeNotFoundOnChain       = "not_found_on_chain"
	ErrCodeAwaitingConfirmations = "awaiting_confirmations"
	ErrCodeVerificationMismatch  = "verification_mismatch"
	ErrCodeDuplicateInFlight     = "duplicate_in_flight"
	ErrCodeTransientNetwork      = "transient_network_error"
	ErrCodeContentNotFound       = "content_not_found"
	ErrCodeContentNotPublished   = "content_not_published"
	ErrCodeNotListed             = "not_listed"
	ErrCodeSelfPurchase          = "self_purchase"
	ErrCodeListingChanged        = "listing_changed"
	ErrCodeTxConsumed            = "tx_consumed"
	ErrCodeLockRatio             = "lock_ratio"
)

// Retry hints. Broadcast transactions usually reach the data source within
// seconds; confirmations take a block.
const (
	retryNotFoundOnChain = 10 * time.Second
	retryConfirmations   = 60 * time.Second
	retryInFlight        = time.Second
	retryTransient       = 5 * time.Second
)

// failErr maps a service error onto the error envelope. Unknown errors become
// a 500 whose message does not echo internals; the cause is attached to the
// gin context for the access log.
func failErr(c *gin.Context, err error) {
	var (
		rl *guard.RateLimitError
		ve *services.ValidationError
		mm *services.MismatchError
	)
	switch {
	case errors.As(err, &rl):
		middleware.AbortRateLimited(c, err)
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, ve.Error())
	case errors.As(err, &mm):
		fail(c, http.StatusUnprocessableEntity, ErrCodeVerificationMismatch, mm.Error())
	case errors.Is(err, services.ErrNotFoundOnChain):
		failRetry(c, retryNotFoundOnChain, http.StatusNotFound, ErrCodeNotFoundOnChain, err.Error())
	case errors.Is(err, services.ErrAwaitingConfirmations):
		failRetry(c, retryConfirmations, http.StatusConflict, ErrCodeAwaitingConfirmations, err.Error())
	case errors.Is(err, guard.ErrDuplicateInFlight):
		failRetry(c, retryInFlight, http.StatusConflict, ErrCodeDuplicateInFlight, err.Error())
	case errors.Is(err, services.ErrTransientNetwork), errors.Is(err, context.DeadlineExceeded):
		_ = c.Error(err)
		failRetry(c, retryTransient, http.StatusServiceUnavailable, ErrCodeTransientNetwork, "block data source unavailable, retry later")
	case errors.Is(err, services.ErrContentNotFound):
		fail(c, http.StatusNotFound, ErrCodeContentNotFound, err.Error())
	case errors.Is(err, services.ErrContentNotPublished):
		fail(c, http.StatusConflict, ErrCodeContentNotPublished, err.Error())
	case errors.Is(err, services.ErrNotListed):
		fail(c, http.StatusConflict, ErrCodeNotListed, err.Error())
	case errors.Is(err, services.ErrSelfPurchase):
		fail(c, http.StatusConflict, ErrCodeSelfPurchase, err.Error())
	case errors.Is(err, services.ErrListingChanged):
		fail(c, http.StatusConflict, ErrCodeListingChanged, err.Error())
	case errors.Is(err, services.ErrTxConsumed):
		fail(c, http.StatusConflict, ErrCodeTxConsumed, err.Error())
	case errors.Is(err, services.ErrLockRatio):
		fail(c, http.StatusUnprocessableEntity, ErrCodeLockRatio, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
