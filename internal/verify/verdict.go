package verify

import (
	"fmt"
	"strings"
)

// Mismatch fields.
const (
	FieldTx           = "tx"
	FieldOutput       = "output"
	FieldAmount       = "amount"
	FieldScript       = "script"
	FieldUnlockHeight = "unlock_height"
	FieldReference    = "content_reference"
	FieldOutputSpent  = "output_spent"
	FieldPayment      = "payment"
	FieldRecipient    = "recipient"
)

// Mismatch is one disagreement between a claim and the chain.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// String renders a user-facing sentence.
func (m Mismatch) String() string {
	switch m.Field {
	case FieldAmount:
		return fmt.Sprintf("on-chain amount %s sats does not match claimed %s sats", m.Actual, m.Expected)
	case FieldUnlockHeight:
		return fmt.Sprintf("on-chain unlock height %s is outside the allowed window around %s", m.Actual, m.Expected)
	case FieldScript:
		return "first output is not a recognized timelock script"
	case FieldOutput:
		return "transaction has no lock output"
	case FieldReference:
		return fmt.Sprintf("content reference %q does not match claimed %q", m.Actual, m.Expected)
	case FieldOutputSpent:
		return "lock output has already been spent"
	case FieldRecipient:
		return "seller payout key is not a recognized address, hash or public key"
	case FieldPayment:
		return fmt.Sprintf("payment of %s sats to the seller is below the required %s sats", m.Actual, m.Expected)
	default:
		return fmt.Sprintf("%s: expected %s, got %s", m.Field, m.Expected, m.Actual)
	}
}

// LockVerification is the verdict for a claimed lock. NotFound and Pending
// are retryable conditions, not mismatches.
type LockVerification struct {
	TxID                string     `json:"tx_id"`
	Verified            bool       `json:"verified"`
	NotFound            bool       `json:"not_found,omitempty"`
	Pending             bool       `json:"pending,omitempty"`
	OutputFound         bool       `json:"output_found"`
	AmountMatches       bool       `json:"amount_matches"`
	ScriptRecognized    bool       `json:"script_recognized"`
	UnlockHeightMatches bool       `json:"unlock_height_matches"`
	ReferenceMatches    bool       `json:"reference_matches"`
	OnchainAmount       int64      `json:"onchain_amount"`
	OnchainUnlockHeight int64      `json:"onchain_unlock_height"`
	PubKeyHash          string     `json:"pub_key_hash,omitempty"`
	Confirmations       int64      `json:"confirmations"`
	Mismatches          []Mismatch `json:"mismatches,omitempty"`
}

// Reason joins every mismatch into one message.
func (v LockVerification) Reason() string { return joinMismatches(v.Mismatches) }

// PaymentVerification is the verdict for a claimed payment.
type PaymentVerification struct {
	TxID          string     `json:"tx_id"`
	Verified      bool       `json:"verified"`
	NotFound      bool       `json:"not_found,omitempty"`
	Pending       bool       `json:"pending,omitempty"`
	Paid          int64      `json:"paid"`
	Required      int64      `json:"required"`
	Confirmations int64      `json:"confirmations"`
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
}

// Reason joins every mismatch into one message.
func (v PaymentVerification) Reason() string { return joinMismatches(v.Mismatches) }

func joinMismatches(ms []Mismatch) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.String()
	}
	return strings.Join(parts, "; ")
}
