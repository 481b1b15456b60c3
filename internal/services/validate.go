package services

import (
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	maxTagRunes     = 32
	maxReferenceLen = 256
	maxIDLen        = 64
)

var tagFolder = cases.Lower(language.Und)

// normalizeTxID lowercases txid and checks it is a 32-byte hash in hex.
func normalizeTxID(txid string) (string, error) {
	txid = strings.ToLower(strings.TrimSpace(txid))
	if len(txid) != chainhash.MaxHashStringSize {
		return "", invalid("tx_id", "must be %d hex characters", chainhash.MaxHashStringSize)
	}
	if _, err := hex.DecodeString(txid); err != nil {
		return "", invalid("tx_id", "must be hex")
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return "", invalid("tx_id", "%v", err)
	}
	return txid, nil
}

// normalizeTag applies NFKC and lower-casing, then bounds the length.
// Empty stays empty.
func normalizeTag(tag string) (string, error) {
	tag = strings.TrimSpace(norm.NFKC.String(tag))
	if tag == "" {
		return "", nil
	}
	tag = tagFolder.String(tag)
	if utf8.RuneCountInString(tag) > maxTagRunes {
		return "", invalid("tag", "at most %d characters", maxTagRunes)
	}
	for _, r := range tag {
		if unicode.IsControl(r) {
			return "", invalid("tag", "must not contain control characters")
		}
	}
	return tag, nil
}

func requireID(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalid(field, "required")
	}
	if len(v) > maxIDLen {
		return "", invalid(field, "at most %d characters", maxIDLen)
	}
	return v, nil
}
