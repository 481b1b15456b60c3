// Package services – PurchaseService
//
// This file implements buyContent: a buyer reports a payment to the seller's
// payout key, the service verifies it on-chain, transfers ownership, clears
// the listing, and splits a share of the price across the content's current
// lock holders. All writes share one transaction guarded by the payment txid.

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/guard"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/repo"
	"github.com/tbourn/go-lockd-backend/internal/verify"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PaymentVerifier checks a claimed payment against the chain.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, txid string, expectedAmount int64, recipient string) (verify.PaymentVerification, error)
}

// PurchaseClaim is the buyer-submitted description of a payment.
type PurchaseClaim struct {
	BuyerID   string `json:"buyer_id"`
	ContentID string `json:"content_id"`
	TxID      string `json:"tx_id"`
}

// PurchaseResult is the stored outcome of a buyContent call. The purchase
// carries the owner share and each holder's share.
type PurchaseResult struct {
	Purchase         *domain.Purchase `json:"purchase"`
	AlreadyProcessed bool             `json:"already_processed,omitempty"`
}

// PurchaseService sells listed content.
type PurchaseService struct {
	Guard    *guard.Idempotency
	Limiter  Limiter
	Verifier PaymentVerifier
	Heights  HeightSource

	// HolderShareBps is the holders' cut of the price in basis points.
	HolderShareBps int64
}

// BuyContent verifies claim's payment and transfers the content to the
// buyer. A txid already spent on a lock, or on a purchase by someone else or
// of other content, is rejected before any chain call.
func (s *PurchaseService) BuyContent(ctx context.Context, claim PurchaseClaim) (PurchaseResult, bool, error) {
	tr := otel.Tracer("services/PurchaseService")
	ctx, span := tr.Start(ctx, "BuyContent",
		trace.WithAttributes(
			attribute.String("tx.id", claim.TxID),
			attribute.String("user.id", claim.BuyerID),
			attribute.String("content.id", claim.ContentID),
		),
	)
	defer span.End()

	var err error
	if claim.BuyerID, err = requireID("buyer_id", claim.BuyerID); err != nil {
		return PurchaseResult{}, false, err
	}
	if claim.ContentID, err = requireID("content_id", claim.ContentID); err != nil {
		return PurchaseResult{}, false, err
	}
	if claim.TxID, err = normalizeTxID(claim.TxID); err != nil {
		return PurchaseResult{}, false, err
	}

	if _, err := s.Limiter.Allow(ctx, guard.ActionBuyContent, claim.BuyerID); err != nil {
		return PurchaseResult{}, false, err
	}

	if err := s.checkConsumed(ctx, claim); err != nil {
		return PurchaseResult{}, false, err
	}

	res, replayed, err := guard.Run(ctx, s.Guard, guard.ActionBuyContent, claim.TxID, func(ctx context.Context) (guard.Commit[PurchaseResult], error) {
		return s.prepare(ctx, claim)
	})
	span.SetAttributes(attribute.Bool("replayed", replayed))
	if err != nil {
		return PurchaseResult{}, false, err
	}
	return res, replayed, nil
}

func (s *PurchaseService) checkConsumed(ctx context.Context, claim PurchaseClaim) error {
	db := s.Guard.DB()
	if _, err := repo.GetLockByTxID(ctx, db, claim.TxID); err == nil {
		return ErrTxConsumed
	} else if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load lock: %w", err)
	}
	p, err := repo.GetPurchaseByTxID(ctx, db, claim.TxID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load purchase: %w", err)
	case p.BuyerID != claim.BuyerID || p.ContentID != claim.ContentID:
		return ErrTxConsumed
	}
	return nil
}

func (s *PurchaseService) prepare(ctx context.Context, claim PurchaseClaim) (guard.Commit[PurchaseResult], error) {
	db := s.Guard.DB()

	if prior, err := repo.GetPurchaseByTxID(ctx, db, claim.TxID); err == nil {
		return func(*gorm.DB) (PurchaseResult, error) {
			return PurchaseResult{Purchase: prior, AlreadyProcessed: true}, nil
		}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load purchase: %w", err)
	}

	content, err := repo.GetContent(ctx, db, claim.ContentID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if !content.Listed() {
		return nil, ErrNotListed
	}
	if content.OwnerID == claim.BuyerID {
		return nil, ErrSelfPurchase
	}

	v, err := s.Verifier.VerifyPayment(ctx, claim.TxID, content.SalePrice, content.PayoutKey)
	if err != nil {
		return nil, chainErr(err)
	}
	switch {
	case v.NotFound:
		return nil, ErrNotFoundOnChain
	case len(v.Mismatches) > 0:
		return nil, &MismatchError{TxID: claim.TxID, Mismatches: v.Mismatches}
	case v.Pending:
		return nil, ErrAwaitingConfirmations
	}

	// Holder weights are decayed to the tip, not read from the last pass.
	height, err := s.Heights.CurrentHeight(ctx)
	if err != nil {
		return nil, chainErr(err)
	}

	// The listing as verified; the transfer only applies if it still holds.
	seen := *content

	return func(tx *gorm.DB) (PurchaseResult, error) {
		if err := repo.TransferOwnership(ctx, tx, &seen, claim.BuyerID); err != nil {
			if errors.Is(err, repo.ErrListingChanged) {
				return PurchaseResult{}, ErrListingChanged
			}
			return PurchaseResult{}, err
		}

		locks, err := repo.ActiveLocksForContent(ctx, tx, seen.ID)
		if err != nil {
			return PurchaseResult{}, err
		}
		holders := holdersAt(locks, height)
		var pool int64
		if len(holders) > 0 {
			pool = ledger.ScaleBps(seen.SalePrice, s.HolderShareBps)
		}
		split := ledger.ProfitShares(pool, holders)

		p := &domain.Purchase{
			TxID:       claim.TxID,
			ContentID:  seen.ID,
			BuyerID:    claim.BuyerID,
			SellerID:   seen.OwnerID,
			Price:      seen.SalePrice,
			Paid:       v.Paid,
			HolderPool: pool,
			OwnerShare: seen.SalePrice - pool,
			Shares:     make([]domain.PurchaseShare, len(split)),
		}
		for i, sh := range split {
			p.Shares[i] = domain.PurchaseShare{LockID: sh.LockID, UserID: sh.UserID, Weight: sh.Weight, Amount: sh.Amount}
		}
		if err := repo.CreatePurchase(ctx, tx, p); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return PurchaseResult{}, ErrTxConsumed
			}
			return PurchaseResult{}, err
		}

		log.Info().
			Str("component", "services").
			Str("tx_id", p.TxID).
			Str("content_id", p.ContentID).
			Str("seller_id", p.SellerID).
			Str("buyer_id", p.BuyerID).
			Int64("price", p.Price).
			Int64("holder_pool", pool).
			Int("holders", len(p.Shares)).
			Msg("content sold")
		return PurchaseResult{Purchase: p}, nil
	}, nil
}

// holdersAt weighs each lock by its value at height. Locks whose timelock has
// elapsed are left out even when no decay pass has flipped them yet.
func holdersAt(locks []domain.Lock, height int64) []ledger.Holder {
	holders := make([]ledger.Holder, 0, len(locks))
	for _, l := range locks {
		remaining := ledger.Remaining(l.StartBlock, l.DurationBlocks, height)
		if remaining == 0 {
			continue
		}
		holders = append(holders, ledger.Holder{
			LockID: l.ID,
			UserID: l.UserID,
			Weight: ledger.DecayValue(l.InitialValue, remaining, l.DurationBlocks),
		})
	}
	return holders
}
