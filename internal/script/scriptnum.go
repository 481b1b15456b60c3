package script

import "github.com/btcsuite/btcd/txscript"

// maxHeightNumLen is the widest script number accepted for an unlock height.
// Five bytes covers every height a 32-bit nLockTime can express.
const maxHeightNumLen = 5

// DecodeScriptNum decodes a little-endian script number whose most
// significant bit of the last byte is the sign. Non-minimal encodings are
// accepted. It returns false for inputs wider than five bytes.
func DecodeScriptNum(b []byte) (int64, bool) {
	n, err := txscript.MakeScriptNum(b, false, maxHeightNumLen)
	if err != nil {
		return 0, false
	}
	return int64(n), true
}

// EncodeScriptNum returns the minimal script-number encoding of n.
func EncodeScriptNum(n int64) []byte {
	if n == 0 {
		return nil
	}
	neg := n < 0
	abs := n
	if neg {
		abs = -n
	}
	out := make([]byte, 0, 9)
	for abs > 0 {
		out = append(out, byte(abs&0xff))
		abs >>= 8
	}
	// A set high bit in the last byte would read as a sign, so add a byte.
	if out[len(out)-1]&0x80 != 0 {
		extra := byte(0x00)
		if neg {
			extra = 0x80
		}
		out = append(out, extra)
	} else if neg {
		out[len(out)-1] |= 0x80
	}
	return out
}
