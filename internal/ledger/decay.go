// Package ledger keeps lock values and content scores in step with the
// chain. A lock's value decays linearly with its remaining blocks and drops
// to zero, permanently, when its timelock elapses; a content's score caches
// the sum of its active locks' values.
package ledger

import "math/bits"

// Remaining returns the blocks left on a lock of duration blocks that started
// at start, as seen at height. Before start the full duration remains.
func Remaining(start, duration, height int64) int64 {
	if duration <= 0 {
		return 0
	}
	elapsed := height - start
	if elapsed <= 0 {
		return duration
	}
	if elapsed >= duration {
		return 0
	}
	return duration - elapsed
}

// DecayValue is floor(initial × remaining / duration), computed with a
// 128-bit intermediate. Lock creation and every decay pass use it so values
// never drift between the two.
func DecayValue(initial, remaining, duration int64) int64 {
	if initial <= 0 || remaining <= 0 || duration <= 0 {
		return 0
	}
	if remaining >= duration {
		return initial
	}
	q, _ := mulDiv(initial, remaining, duration)
	return q
}

// mulDiv returns floor(a×b/c) and the remainder for non-negative a, b and
// positive c whose quotient fits in an int64.
func mulDiv(a, b, c int64) (q, r int64) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	uq, ur := bits.Div64(hi, lo, uint64(c))
	return int64(uq), int64(ur)
}
