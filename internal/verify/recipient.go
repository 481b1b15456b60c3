package verify

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrBadRecipient is returned for payout keys that are neither an address,
// a 20-byte hash nor a public key.
var ErrBadRecipient = errors.New("unrecognized payout key")

// Recipient is a resolved payout target. PubKeyHex is set only when the
// payout key was a full public key, which also allows bare pay-to-pubkey
// outputs to match.
type Recipient struct {
	Hash      [20]byte
	PubKeyHex string
}

// ParseRecipient accepts a base58 pay-to-pubkey-hash address for params, a
// 40-hex hash, or a 66/130-hex public key.
func ParseRecipient(key string, params *chaincfg.Params) (Recipient, error) {
	key = strings.TrimSpace(key)
	var r Recipient

	if raw, err := hex.DecodeString(key); err == nil {
		switch len(raw) {
		case 20:
			copy(r.Hash[:], raw)
			return r, nil
		case 33, 65:
			if (len(raw) == 33 && raw[0] != 0x02 && raw[0] != 0x03) || (len(raw) == 65 && raw[0] != 0x04) {
				return r, ErrBadRecipient
			}
			copy(r.Hash[:], btcutil.Hash160(raw))
			r.PubKeyHex = strings.ToLower(key)
			return r, nil
		}
	}

	addr, err := btcutil.DecodeAddress(key, params)
	if err != nil {
		return r, ErrBadRecipient
	}
	pkh, ok := addr.(*btcutil.AddressPubKeyHash)
	if !ok || !addr.IsForNet(params) {
		return r, ErrBadRecipient
	}
	copy(r.Hash[:], pkh.ScriptAddress())
	return r, nil
}

// NetParams maps a configured network name to chain parameters.
func NetParams(network string) *chaincfg.Params {
	switch network {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
