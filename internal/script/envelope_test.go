package script

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProtocolEnvelope_Built(t *testing.T) {
	raw, err := BuildProtocolEnvelope(ProtocolTag, ActionLock, "post:42")
	require.NoError(t, err)

	env, ok := ParseProtocolEnvelope(hex.EncodeToString(raw))
	require.True(t, ok)
	require.Equal(t, ActionLock, env.Action)
	require.Equal(t, "post:42", env.Payload)
	require.Empty(t, env.Extra)
}

func TestParseProtocolEnvelope_Variants(t *testing.T) {
	tag := hex.EncodeToString([]byte(ProtocolTag))
	push := func(s string) string {
		return hex.EncodeToString([]byte{byte(len(s))}) + hex.EncodeToString([]byte(s))
	}
	body := "05" + tag + push("lock") + push("abc")

	// Bare OP_RETURN, with and without the zero push.
	for _, in := range []string{"6a" + body, "6a00" + body, "006a" + body} {
		env, ok := ParseProtocolEnvelope(in)
		require.True(t, ok, in)
		require.Equal(t, "lock", env.Action)
		require.Equal(t, "abc", env.Payload)
	}

	// OP_PUSHDATA1 and OP_PUSHDATA2 payloads.
	long := strings.Repeat("x", 80)
	pd1 := "6a05" + tag + push("lock") + "4c50" + hex.EncodeToString([]byte(long))
	env, ok := ParseProtocolEnvelope(pd1)
	require.True(t, ok)
	require.Equal(t, long, env.Payload)

	longer := strings.Repeat("y", 300)
	pd2 := "6a05" + tag + push("lock") + "4d2c01" + hex.EncodeToString([]byte(longer))
	env, ok = ParseProtocolEnvelope(pd2)
	require.True(t, ok)
	require.Equal(t, longer, env.Payload)

	// Extra items are kept.
	env, ok = ParseProtocolEnvelope("6a" + body + push("tip"))
	require.True(t, ok)
	require.Equal(t, []string{"tip"}, env.Extra)
}

func TestParseProtocolEnvelope_Rejects(t *testing.T) {
	tag := hex.EncodeToString([]byte(ProtocolTag))
	cases := map[string]string{
		"not hex":       "xyz",
		"no op_return":  "05" + tag + "046c6f636b",
		"wrong tag":     "6a05" + hex.EncodeToString([]byte("other")) + "046c6f636b0161",
		"two items":     "6a05" + tag + "046c6f636b",
		"truncated":     "6a05" + tag + "046c6f",
		"non push op":   "6a05" + tag + "046c6f636b" + "76",
		"invalid utf8":  "6a05" + tag + "02fffe" + "0161",
		"empty":         "",
		"only op_false": "00",
	}
	for name, in := range cases {
		_, ok := ParseProtocolEnvelope(in)
		require.False(t, ok, name)
	}

	_, ok := ParseProtocolEnvelopeTag("6a05"+tag+"046c6f636b0161", "other")
	require.False(t, ok)
}

func TestPayToHash(t *testing.T) {
	pkh := testPKH()
	p2pkh, err := BuildPayToHash(pkh)
	require.NoError(t, err)

	got, ok := PayToHash(p2pkh)
	require.True(t, ok)
	require.Equal(t, pkh, got)
	require.Contains(t, Disassemble(p2pkh), "OP_DUP OP_HASH160 0102030405060708090a0b0c0d0e0f1011121314")

	tl, err := BuildTimelockScript(10, pkh, nil)
	require.NoError(t, err)
	_, ok = PayToHash(tl)
	require.False(t, ok)

	require.Equal(t, "", DisassembleHex("zz"))
}
