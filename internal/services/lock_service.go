// Package services – LockService
//
// This file implements recordLock: a wallet reports a timelock transaction it
// broadcast for a content item, and the service verifies it against the chain
// before creating the Lock row and raising the content's score. The claim is
// untrusted; every amount used downstream is the on-chain one.
//
// Observability: RecordLock is OpenTelemetry-instrumented; the span carries the
// txid, user and content ids and whether the result was replayed.

package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/config"
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

// FieldLockAddress reports a lock whose script key is not the claimed one.
const FieldLockAddress = "lock_address"

// LockVerifier checks a claimed lock against the chain.
type LockVerifier interface {
	VerifyLock(ctx context.Context, txid string, expectedAmount, expectedUnlockHeight int64, reference string) (verify.LockVerification, error)
}

// HeightSource returns the current block height.
type HeightSource interface {
	CurrentHeight(ctx context.Context) (int64, error)
}

// Limiter admits or rejects an actor's call to an action.
type Limiter interface {
	Allow(ctx context.Context, action, actor string) (guard.Decision, error)
}

// LockClaim is the wallet-submitted description of a lock.
type LockClaim struct {
	UserID           string `json:"user_id"`
	TxID             string `json:"tx_id"`
	Amount           int64  `json:"amount"`
	DurationBlocks   int64  `json:"duration_blocks"`
	ContentID        string `json:"content_id"`
	Tag              string `json:"tag,omitempty"`
	ContentReference string `json:"content_reference,omitempty"`
	LockAddress      string `json:"lock_address,omitempty"`
}

// RecordLockResult is the stored outcome of a recordLock call. Duplicate
// calls for the same txid receive the same payload.
type RecordLockResult struct {
	Lock             *domain.Lock `json:"lock"`
	ContentScore     int64        `json:"content_score"`
	AlreadyProcessed bool         `json:"already_processed,omitempty"`
}

// LockService records verified locks.
type LockService struct {
	Guard    *guard.Idempotency
	Limiter  Limiter
	Verifier LockVerifier
	Heights  HeightSource
	Limits   config.LockConfig
	Params   *chaincfg.Params // for lock_address; nil means mainnet
}

// RecordLock validates, rate-limits and verifies claim, then creates the
// lock and raises the content score in one transaction guarded by the txid.
// The boolean reports a replay of an earlier result.
func (s *LockService) RecordLock(ctx context.Context, claim LockClaim) (RecordLockResult, bool, error) {
	tr := otel.Tracer("services/LockService")
	ctx, span := tr.Start(ctx, "RecordLock",
		trace.WithAttributes(
			attribute.String("tx.id", claim.TxID),
			attribute.String("user.id", claim.UserID),
			attribute.String("content.id", claim.ContentID),
		),
	)
	defer span.End()

	claim, err := s.normalize(claim)
	if err != nil {
		return RecordLockResult{}, false, err
	}

	if _, err := s.Limiter.Allow(ctx, guard.ActionRecordLock, claim.UserID); err != nil {
		return RecordLockResult{}, false, err
	}

	if err := s.checkConsumed(ctx, claim); err != nil {
		return RecordLockResult{}, false, err
	}

	res, replayed, err := guard.Run(ctx, s.Guard, guard.ActionRecordLock, claim.TxID, func(ctx context.Context) (guard.Commit[RecordLockResult], error) {
		return s.prepare(ctx, claim)
	})
	span.SetAttributes(attribute.Bool("replayed", replayed))
	if err != nil {
		return RecordLockResult{}, false, err
	}
	return res, replayed, nil
}

func (s *LockService) normalize(c LockClaim) (LockClaim, error) {
	var err error
	if c.UserID, err = requireID("user_id", c.UserID); err != nil {
		return c, err
	}
	if c.ContentID, err = requireID("content_id", c.ContentID); err != nil {
		return c, err
	}
	if c.TxID, err = normalizeTxID(c.TxID); err != nil {
		return c, err
	}
	if c.Amount < s.Limits.MinAmount || c.Amount > s.Limits.MaxAmount {
		return c, invalid("amount", "must be between %d and %d", s.Limits.MinAmount, s.Limits.MaxAmount)
	}
	if c.DurationBlocks < s.Limits.MinBlocks || c.DurationBlocks > s.Limits.MaxBlocks {
		return c, invalid("duration_blocks", "must be between %d and %d", s.Limits.MinBlocks, s.Limits.MaxBlocks)
	}
	if c.Tag, err = normalizeTag(c.Tag); err != nil {
		return c, err
	}
	c.ContentReference = strings.TrimSpace(c.ContentReference)
	if len(c.ContentReference) > maxReferenceLen {
		return c, invalid("content_reference", "at most %d bytes", maxReferenceLen)
	}
	c.LockAddress = strings.TrimSpace(c.LockAddress)
	return c, nil
}

// checkConsumed rejects a txid already spent on a purchase, or on a lock
// by another user or for other content.
func (s *LockService) checkConsumed(ctx context.Context, claim LockClaim) error {
	db := s.Guard.DB()
	l, err := repo.GetLockByTxID(ctx, db, claim.TxID)
	switch {
	case err == nil:
		if l.UserID != claim.UserID || l.ContentID != claim.ContentID {
			return ErrTxConsumed
		}
	case !errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("load lock: %w", err)
	}
	if _, err := repo.GetPurchaseByTxID(ctx, db, claim.TxID); err == nil {
		return ErrTxConsumed
	} else if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load purchase: %w", err)
	}
	return nil
}

// prepare does every read and chain call outside the write transaction and
// returns the commit that applies the lock.
func (s *LockService) prepare(ctx context.Context, claim LockClaim) (guard.Commit[RecordLockResult], error) {
	db := s.Guard.DB()

	existing, err := repo.GetLockByTxID(ctx, db, claim.TxID)
	switch {
	case err == nil:
		if existing.UserID != claim.UserID || existing.ContentID != claim.ContentID {
			return nil, ErrTxConsumed
		}
		return processed(ctx, existing), nil
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("load lock: %w", err)
	}

	content, err := repo.GetContent(ctx, db, claim.ContentID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	if content.Status != domain.ContentPublished {
		return nil, ErrContentNotPublished
	}

	height, err := s.Heights.CurrentHeight(ctx)
	if err != nil {
		return nil, chainErr(err)
	}

	v, err := s.Verifier.VerifyLock(ctx, claim.TxID, claim.Amount, height+claim.DurationBlocks, claim.ContentReference)
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
	if m, ok := s.checkLockAddress(claim.LockAddress, v.PubKeyHash); !ok {
		return nil, &MismatchError{TxID: claim.TxID, Mismatches: []verify.Mismatch{m}}
	}

	amount := v.OnchainAmount
	if content.Listed() && s.Limits.MinSaleRatioBps > 0 {
		if floor := ledger.ScaleBps(content.SalePrice, s.Limits.MinSaleRatioBps); amount < floor {
			return nil, fmt.Errorf("%w: %d < %d", ErrLockRatio, amount, floor)
		}
	}

	lock := &domain.Lock{
		ID:                  uuid.NewString(),
		TxID:                claim.TxID,
		UserID:              claim.UserID,
		ContentID:           claim.ContentID,
		Amount:              amount,
		InitialValue:        amount,
		CurrentValue:        amount,
		Tag:                 claim.Tag,
		Reference:           claim.ContentReference,
		StartBlock:          height,
		DurationBlocks:      claim.DurationBlocks,
		RemainingBlocks:     claim.DurationBlocks,
		Verified:            true,
		OnchainAmount:       v.OnchainAmount,
		OnchainUnlockHeight: v.OnchainUnlockHeight,
	}

	return func(tx *gorm.DB) (RecordLockResult, error) {
		if err := repo.CreateLock(ctx, tx, lock); err != nil {
			if !errors.Is(err, repo.ErrDuplicate) {
				return RecordLockResult{}, err
			}
			// Raced past the lookup; the winner's row is the result.
			prior, err := repo.GetLockByTxID(ctx, tx, claim.TxID)
			if err != nil {
				return RecordLockResult{}, err
			}
			return processed(ctx, prior)(tx)
		}
		if err := repo.AddContentScore(ctx, tx, lock.ContentID, lock.CurrentValue); err != nil {
			return RecordLockResult{}, err
		}
		c, err := repo.GetContent(ctx, tx, lock.ContentID)
		if err != nil {
			return RecordLockResult{}, err
		}
		log.Info().
			Str("component", "services").
			Str("tx_id", lock.TxID).
			Str("content_id", lock.ContentID).
			Int64("amount", lock.Amount).
			Int64("start_block", lock.StartBlock).
			Int64("duration_blocks", lock.DurationBlocks).
			Msg("lock recorded")
		return RecordLockResult{Lock: lock, ContentScore: c.Score}, nil
	}, nil
}

// checkLockAddress compares a claimed lock address with the key hash found
// in the lock script. An empty claim or an unknown script hash passes.
func (s *LockService) checkLockAddress(claimed, scriptHash string) (verify.Mismatch, bool) {
	if claimed == "" || scriptHash == "" {
		return verify.Mismatch{}, true
	}
	params := s.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	r, err := verify.ParseRecipient(claimed, params)
	if err != nil {
		return verify.Mismatch{Field: FieldLockAddress, Expected: claimed, Actual: "unrecognized"}, false
	}
	if got := hex.EncodeToString(r.Hash[:]); got != scriptHash {
		return verify.Mismatch{Field: FieldLockAddress, Expected: got, Actual: scriptHash}, false
	}
	return verify.Mismatch{}, true
}

// processed reports an existing lock with the content score as it stands now.
func processed(ctx context.Context, l *domain.Lock) guard.Commit[RecordLockResult] {
	return func(tx *gorm.DB) (RecordLockResult, error) {
		c, err := repo.GetContent(ctx, tx, l.ContentID)
		if err != nil {
			return RecordLockResult{}, err
		}
		return RecordLockResult{Lock: l, ContentScore: c.Score, AlreadyProcessed: true}, nil
	}
}
