package script

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/txscript"
)

// ProtocolTag is the default envelope namespace.
const ProtocolTag = "lockd"

// ActionLock is the envelope action that ties a lock to a content reference.
const ActionLock = "lock"

// Envelope is an application message carried in a null-data output.
type Envelope struct {
	Tag     string
	Action  string
	Payload string
	// Extra holds items past the payload, if any.
	Extra []string
}

// ParseProtocolEnvelope decodes an envelope under the default ProtocolTag.
func ParseProtocolEnvelope(scriptHex string) (Envelope, bool) {
	return ParseProtocolEnvelopeTag(scriptHex, ProtocolTag)
}

// ParseProtocolEnvelopeTag decodes a hex null-data script of the form
// [OP_FALSE] OP_RETURN [OP_0] <tag> <action> <payload> ... and succeeds only
// when the first item equals tag and at least three items are present.
func ParseProtocolEnvelopeTag(scriptHex, tag string) (Envelope, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(scriptHex))
	if err != nil {
		return Envelope{}, false
	}
	return ParseEnvelope(raw, tag)
}

// ParseEnvelope is ParseProtocolEnvelopeTag over raw bytes.
func ParseEnvelope(raw []byte, tag string) (Envelope, bool) {
	switch {
	case len(raw) >= 2 && raw[0] == txscript.OP_FALSE && raw[1] == txscript.OP_RETURN:
		raw = raw[2:]
	case len(raw) >= 1 && raw[0] == txscript.OP_RETURN:
		raw = raw[1:]
	default:
		return Envelope{}, false
	}
	if len(raw) > 0 && raw[0] == txscript.OP_0 {
		raw = raw[1:]
	}

	items, ok := pushes(raw)
	if !ok || len(items) < 3 {
		return Envelope{}, false
	}
	if !bytes.Equal(items[0], []byte(tag)) {
		return Envelope{}, false
	}
	for _, it := range items[1:3] {
		if !utf8.Valid(it) {
			return Envelope{}, false
		}
	}

	env := Envelope{
		Tag:     tag,
		Action:  string(items[1]),
		Payload: string(items[2]),
	}
	for _, it := range items[3:] {
		env.Extra = append(env.Extra, string(it))
	}
	return env, true
}

// BuildProtocolEnvelope returns OP_FALSE OP_RETURN <tag> <action> <payload>.
func BuildProtocolEnvelope(tag, action, payload string) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_FALSE).
		AddOp(txscript.OP_RETURN).
		AddData([]byte(tag)).
		AddData([]byte(action)).
		AddData([]byte(payload)).
		Script()
}

// pushes decodes a run of data pushes (direct, OP_PUSHDATA1/2/4, and the
// small-integer opcodes a canonical builder emits for one-byte data). Any
// other opcode ends the parse unsuccessfully.
func pushes(raw []byte) ([][]byte, bool) {
	var out [][]byte
	tok := txscript.MakeScriptTokenizer(0, raw)
	for tok.Next() {
		op := tok.Opcode()
		switch {
		case op == txscript.OP_0:
			out = append(out, []byte{})
		case op <= txscript.OP_PUSHDATA4:
			out = append(out, tok.Data())
		case op == txscript.OP_1NEGATE:
			out = append(out, []byte{0x81})
		case op >= txscript.OP_1 && op <= txscript.OP_16:
			out = append(out, []byte{op - (txscript.OP_1 - 1)})
		default:
			return nil, false
		}
	}
	if tok.Err() != nil {
		return nil, false
	}
	return out, true
}
