// Package verify cross-checks wallet-submitted claims against transaction
// data fetched independently from the block data source.
//
// Verification never mutates local state. A claim that disagrees with the
// chain produces a verdict listing every mismatched field; an error is
// returned only when the data source itself could not answer, so callers
// never confuse a timeout with a rejected claim.
package verify

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-lockd-backend/internal/chain"
	"github.com/tbourn/go-lockd-backend/internal/script"
)

// DefaultHeightTolerance absorbs propagation delay between the block the
// wallet saw and the block the claim is checked against.
const DefaultHeightTolerance = 5

// Lock claims carry the timelock in output 0 and the optional reference
// envelope in output 1.
const (
	lockOutput      = 0
	referenceOutput = 1
)

var verifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lockd_verifications_total",
		Help: "On-chain verifications by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

func init() {
	prometheus.MustRegister(verifications)
}

// Options tunes a Verifier. Zero values fall back to defaults.
type Options struct {
	HeightTolerance  int64
	RequireUnspent   bool
	MinConfirmations int64
	ProtocolTag      string
	Params           *chaincfg.Params
}

// Verifier checks lock and payment claims.
type Verifier struct {
	src  chain.Source
	opts Options
}

// New returns a Verifier reading from src. A negative tolerance is treated as
// exact matching.
func New(src chain.Source, opts Options) *Verifier {
	if opts.HeightTolerance < 0 {
		opts.HeightTolerance = 0
	}
	if strings.TrimSpace(opts.ProtocolTag) == "" {
		opts.ProtocolTag = script.ProtocolTag
	}
	if opts.Params == nil {
		opts.Params = &chaincfg.MainNetParams
	}
	return &Verifier{src: src, opts: opts}
}

// VerifyLock checks that txid pays exactly expectedAmount into a recognized
// timelock script whose unlock height lies within the tolerance window around
// expectedUnlockHeight. A non-empty reference must also appear as the payload
// of a "lock" envelope in the second output.
func (v *Verifier) VerifyLock(ctx context.Context, txid string, expectedAmount, expectedUnlockHeight int64, reference string) (LockVerification, error) {
	tr := otel.Tracer("verify/Verifier")
	ctx, span := tr.Start(ctx, "VerifyLock",
		trace.WithAttributes(
			attribute.String("tx_id", txid),
			attribute.Int64("expected_amount", expectedAmount),
			attribute.Int64("expected_unlock_height", expectedUnlockHeight),
		),
	)
	defer span.End()

	res := LockVerification{TxID: txid}

	tx, err := v.src.GetTransaction(ctx, txid)
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			res.NotFound = true
			observe("lock", "not_found")
			return res, nil
		}
		span.RecordError(err)
		observe("lock", "error")
		return res, fmt.Errorf("verify lock %s: %w", txid, err)
	}
	res.Confirmations = tx.Confirmations

	out, ok := tx.Output(lockOutput)
	if !ok {
		res.mismatch(FieldOutput, "output 0", "none")
		return v.finishLock(res, span), nil
	}
	res.OutputFound = true
	res.OnchainAmount = out.Value

	res.AmountMatches = out.Value == expectedAmount
	if !res.AmountMatches {
		res.mismatch(FieldAmount, itoa(expectedAmount), itoa(out.Value))
	}

	if tl, ok := script.ParseTimelockScript(out.ScriptHex); ok {
		res.ScriptRecognized = true
		res.OnchainUnlockHeight = tl.UnlockHeight
		res.PubKeyHash = tl.PubKeyHashHex()
		res.UnlockHeightMatches = abs(tl.UnlockHeight-expectedUnlockHeight) <= v.opts.HeightTolerance
		if !res.UnlockHeightMatches {
			res.mismatch(FieldUnlockHeight, itoa(expectedUnlockHeight), itoa(tl.UnlockHeight))
		}
	} else {
		res.mismatch(FieldScript, "timelock", "unrecognized")
	}

	res.ReferenceMatches = true
	if reference != "" {
		res.ReferenceMatches = false
		actual := ""
		if refOut, ok := tx.Output(referenceOutput); ok {
			if env, ok := script.ParseProtocolEnvelopeTag(refOut.ScriptHex, v.opts.ProtocolTag); ok && env.Action == script.ActionLock {
				actual = env.Payload
				res.ReferenceMatches = env.Payload == reference
			}
		}
		if !res.ReferenceMatches {
			res.mismatch(FieldReference, reference, actual)
		}
	}

	if v.opts.RequireUnspent && res.ScriptRecognized {
		spent, err := v.src.IsOutputSpent(ctx, txid, lockOutput)
		if err != nil {
			span.RecordError(err)
			observe("lock", "error")
			return res, fmt.Errorf("verify lock %s: outspend: %w", txid, err)
		}
		if spent {
			res.mismatch(FieldOutputSpent, "unspent", "spent")
		}
	}

	if v.opts.MinConfirmations > 0 && tx.Confirmations < v.opts.MinConfirmations {
		res.Pending = true
	}

	return v.finishLock(res, span), nil
}

func (v *Verifier) finishLock(res LockVerification, span trace.Span) LockVerification {
	res.Verified = len(res.Mismatches) == 0 && !res.Pending &&
		res.OutputFound && res.AmountMatches && res.ScriptRecognized &&
		res.UnlockHeightMatches && res.ReferenceMatches

	outcome := "verified"
	switch {
	case len(res.Mismatches) > 0:
		outcome = "mismatch"
		log.Debug().
			Str("component", "verify").
			Str("tx_id", res.TxID).
			Str("reason", res.Reason()).
			Msg("lock claim rejected")
	case res.Pending:
		outcome = "pending"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	observe("lock", outcome)
	return res
}

// VerifyPayment sums every output of txid paying the recipient and requires
// the total to reach expectedAmount less a 1% fee tolerance (at least one
// unit). recipient may be an address, a 20-byte hash in hex, or a public key
// in hex; a public key also matches bare pay-to-pubkey outputs.
func (v *Verifier) VerifyPayment(ctx context.Context, txid string, expectedAmount int64, recipient string) (PaymentVerification, error) {
	tr := otel.Tracer("verify/Verifier")
	ctx, span := tr.Start(ctx, "VerifyPayment",
		trace.WithAttributes(
			attribute.String("tx_id", txid),
			attribute.Int64("expected_amount", expectedAmount),
		),
	)
	defer span.End()

	res := PaymentVerification{TxID: txid, Required: RequiredPayment(expectedAmount)}

	rcpt, err := ParseRecipient(recipient, v.opts.Params)
	if err != nil {
		res.Mismatches = append(res.Mismatches, Mismatch{Field: FieldRecipient, Expected: "address, hash or public key", Actual: recipient})
		observe("payment", "mismatch")
		return res, nil
	}

	tx, err := v.src.GetTransaction(ctx, txid)
	if err != nil {
		if errors.Is(err, chain.ErrTxNotFound) {
			res.NotFound = true
			observe("payment", "not_found")
			return res, nil
		}
		span.RecordError(err)
		observe("payment", "error")
		return res, fmt.Errorf("verify payment %s: %w", txid, err)
	}
	res.Confirmations = tx.Confirmations

	for _, out := range tx.Outputs {
		if paysTo(out, rcpt) {
			res.Paid += out.Value
		}
	}

	if res.Paid < res.Required {
		res.Mismatches = append(res.Mismatches, Mismatch{Field: FieldPayment, Expected: itoa(res.Required), Actual: itoa(res.Paid)})
	}
	if v.opts.MinConfirmations > 0 && tx.Confirmations < v.opts.MinConfirmations {
		res.Pending = true
	}
	res.Verified = len(res.Mismatches) == 0 && !res.Pending

	outcome := "verified"
	switch {
	case len(res.Mismatches) > 0:
		outcome = "mismatch"
	case res.Pending:
		outcome = "pending"
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int64("paid", res.Paid))
	observe("payment", outcome)
	return res, nil
}

// RequiredPayment is the minimum accepted payment for a listed price.
func RequiredPayment(price int64) int64 {
	tol := price / 100
	if tol < 1 {
		tol = 1
	}
	return price - tol
}

func paysTo(out chain.Output, r Recipient) bool {
	raw, err := hex.DecodeString(out.ScriptHex)
	if err != nil {
		return false
	}
	if h, ok := script.PayToHash(raw); ok {
		return h == r.Hash
	}
	if r.PubKeyHex != "" {
		return strings.Contains(strings.ToLower(script.Disassemble(raw)), r.PubKeyHex)
	}
	return false
}

func (v *LockVerification) mismatch(field, expected, actual string) {
	v.Mismatches = append(v.Mismatches, Mismatch{Field: field, Expected: expected, Actual: actual})
}

func observe(kind, outcome string) { verifications.WithLabelValues(kind, outcome).Inc() }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
