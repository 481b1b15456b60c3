// Package chain reads confirmed facts from the block data source: raw
// transaction outputs, the chain tip, and output spend status. It never
// builds, signs or broadcasts transactions.
package chain

import (
	"context"
	"errors"
)

var (
	// ErrTxNotFound is returned when the data source does not know the
	// transaction yet. It is retryable: propagation may simply lag.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTransient wraps timeouts, throttling and 5xx responses. Callers must
	// not confuse it with a verification failure.
	ErrTransient = errors.New("chain data source unavailable")
)

// Output is one transaction output.
type Output struct {
	Index     int    `json:"index"`
	Value     int64  `json:"value"`
	ScriptHex string `json:"script"`
	Address   string `json:"address,omitempty"`
}

// Tx is the subset of transaction data verification needs.
type Tx struct {
	TxID          string   `json:"txid"`
	Outputs       []Output `json:"outputs"`
	Confirmed     bool     `json:"confirmed"`
	BlockHeight   int64    `json:"block_height,omitempty"`
	Confirmations int64    `json:"confirmations"`
}

// Output returns output i and whether it exists.
func (t *Tx) Output(i int) (Output, bool) {
	if t == nil || i < 0 || i >= len(t.Outputs) {
		return Output{}, false
	}
	return t.Outputs[i], true
}

// Source is the block data source consumed by verification and the decay
// scheduler.
type Source interface {
	GetTransaction(ctx context.Context, txid string) (*Tx, error)
	GetTipHeight(ctx context.Context) (int64, error)
	IsOutputSpent(ctx context.Context, txid string, index int) (bool, error)
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTxNotFound) || errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}
