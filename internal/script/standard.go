package script

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/txscript"
)

// PayToHash returns the 20-byte hash of a standard pay-to-pubkey-hash output.
func PayToHash(pkScript []byte) ([20]byte, bool) {
	var h [20]byte
	if txscript.GetScriptClass(pkScript) != txscript.PubKeyHashTy {
		return h, false
	}
	// OP_DUP OP_HASH160 OP_DATA_20 <hash> OP_EQUALVERIFY OP_CHECKSIG
	copy(h[:], pkScript[3:23])
	return h, true
}

// BuildPayToHash returns the standard pay-to-pubkey-hash script for h.
func BuildPayToHash(h [20]byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(h[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// Disassemble renders a script in the one-line opcode notation. Malformed
// scripts disassemble up to the fault.
func Disassemble(pkScript []byte) string {
	s, _ := txscript.DisasmString(pkScript)
	return s
}

// DisassembleHex is Disassemble over a hex string; bad hex yields "".
func DisassembleHex(scriptHex string) string {
	raw, err := hex.DecodeString(strings.TrimSpace(scriptHex))
	if err != nil {
		return ""
	}
	return Disassemble(raw)
}
