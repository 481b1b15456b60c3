// Package services defines the mutation orchestrators (recording a lock,
// buying content) and the content read path. This file centralizes the error
// taxonomy so handlers can map each failure to a specific status and code.
//
// Retryable: ErrNotFoundOnChain, ErrAwaitingConfirmations,
// ErrTransientNetwork, guard.ErrDuplicateInFlight and rate-limit errors.
// Everything else is final for the given claim.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/go-lockd-backend/internal/chain"
	"github.com/tbourn/go-lockd-backend/internal/verify"
)

var (
	// ErrInvalidClaim is matched by every *ValidationError.
	ErrInvalidClaim = errors.New("invalid claim")

	// ErrContentNotFound indicates the content id does not exist.
	ErrContentNotFound = errors.New("content not found")

	// ErrContentNotPublished is returned when locking hidden or archived content.
	ErrContentNotPublished = errors.New("content is not accepting locks")

	// ErrNotListed is returned when buying content that is not for sale.
	ErrNotListed = errors.New("content is not for sale")

	// ErrSelfPurchase is returned when the buyer already owns the content.
	ErrSelfPurchase = errors.New("cannot buy your own content")

	// ErrListingChanged is returned when the owner or price changed between
	// verification and transfer.
	ErrListingChanged = errors.New("listing changed; payment not applied")

	// ErrTxConsumed is returned when a transaction id was already used for a
	// different lock or purchase.
	ErrTxConsumed = errors.New("transaction already used")

	// ErrLockRatio is returned when a lock on listed content is smaller than
	// the minimum share of its sale price.
	ErrLockRatio = errors.New("lock amount below minimum for listed price")

	// ErrNotFoundOnChain means the data source does not know the transaction
	// yet. Retry after propagation.
	ErrNotFoundOnChain = errors.New("transaction not found on chain")

	// ErrAwaitingConfirmations means the transaction is known but has fewer
	// confirmations than required.
	ErrAwaitingConfirmations = errors.New("transaction awaiting confirmations")

	// ErrVerificationMismatch is matched by every *MismatchError.
	ErrVerificationMismatch = errors.New("verification mismatch")

	// ErrTransientNetwork wraps data source timeouts and outages. Nothing was
	// written; retry with backoff.
	ErrTransientNetwork = errors.New("transient network error")
)

// ValidationError rejects a malformed claim field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

// Is matches ErrInvalidClaim.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidClaim }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MismatchError carries every field where the claim disagrees with the chain.
type MismatchError struct {
	TxID       string
	Mismatches []verify.Mismatch
}

func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	return strings.Join(parts, "; ")
}

// Is matches ErrVerificationMismatch.
func (e *MismatchError) Is(target error) bool { return target == ErrVerificationMismatch }

// chainErr classifies a data source failure. Timeouts and outages become
// ErrTransientNetwork; anything else is unexpected.
func chainErr(err error) error {
	if chain.IsRetryable(err) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	return err
}
