// Package script decodes the raw output scripts this service cares about:
// timelock locking scripts and protocol envelopes carried in null-data
// outputs. Every parser is pure and total: unrecognized input yields
// ok == false, never an error or a panic, and callers treat it as a
// verification failure.
package script

import (
	"encoding/hex"
	"errors"
	"strings"
)

// Byte layout of a timelock locking script:
//
//	[0:33)   TimelockPrefix, identifies the contract family
//	[33]     0x14, push of the 20-byte public key hash
//	[34:54)  public key hash
//	[54]     n in 1..5, push of the unlock height
//	[55:55+n) unlock height as a script number
//	...      remaining contract opcodes (not interpreted)
const (
	prefixLen    = 33
	pkhMarkerOff = 33
	pkhMarker    = 0x14
	pkhOff       = 34
	pkhLen       = 20
	heightOff    = pkhOff + pkhLen
	minScriptLen = heightOff + 2
)

// TimelockPrefix is the fixed 33-byte head shared by every timelock script:
// a 32-byte push of the contract's constant.
var TimelockPrefix = mustHex("2097dfd76851bf465e8f715593b217714858bbe9570ff3bd5e33840a34e20ff026")

// ErrHeightOutOfRange is returned by BuildTimelockScript for heights that do
// not fit a 1..5 byte positive script number.
var ErrHeightOutOfRange = errors.New("unlock height out of range")

// Timelock is a decoded timelock locking script.
type Timelock struct {
	UnlockHeight int64
	PubKeyHash   [20]byte
}

// PubKeyHashHex returns the hash as lowercase hex.
func (t Timelock) PubKeyHashHex() string { return hex.EncodeToString(t.PubKeyHash[:]) }

// ParseTimelockScript decodes a hex-encoded timelock script.
func ParseTimelockScript(scriptHex string) (Timelock, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(scriptHex))
	if err != nil {
		return Timelock{}, false
	}
	return ParseTimelock(raw)
}

// ParseTimelock decodes a raw timelock script.
func ParseTimelock(raw []byte) (Timelock, bool) {
	if len(raw) < minScriptLen {
		return Timelock{}, false
	}
	for i := 0; i < prefixLen; i++ {
		if raw[i] != TimelockPrefix[i] {
			return Timelock{}, false
		}
	}
	if raw[pkhMarkerOff] != pkhMarker {
		return Timelock{}, false
	}
	n := int(raw[heightOff])
	if n < 1 || n > maxHeightNumLen || len(raw) < heightOff+1+n {
		return Timelock{}, false
	}
	height, ok := DecodeScriptNum(raw[heightOff+1 : heightOff+1+n])
	if !ok || height < 0 {
		return Timelock{}, false
	}

	var tl Timelock
	tl.UnlockHeight = height
	copy(tl.PubKeyHash[:], raw[pkhOff:pkhOff+pkhLen])
	return tl, true
}

// BuildTimelockScript lays out a timelock script for height and pkh,
// followed by suffix. It is the inverse of ParseTimelock.
func BuildTimelockScript(height int64, pkh [20]byte, suffix []byte) ([]byte, error) {
	if height < 1 {
		return nil, ErrHeightOutOfRange
	}
	num := EncodeScriptNum(height)
	if len(num) > maxHeightNumLen {
		return nil, ErrHeightOutOfRange
	}
	out := make([]byte, 0, heightOff+1+len(num)+len(suffix))
	out = append(out, TimelockPrefix...)
	out = append(out, pkhMarker)
	out = append(out, pkh[:]...)
	out = append(out, byte(len(num)))
	out = append(out, num...)
	out = append(out, suffix...)
	return out, nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
