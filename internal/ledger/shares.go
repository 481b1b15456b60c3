package ledger

import (
	"math"
	"math/bits"
	"sort"
)

// Holder is one lock eligible for a share of a sale.
type Holder struct {
	LockID string
	UserID string
	Weight int64
}

// Share is a holder's cut.
type Share struct {
	LockID string `json:"lock_id"`
	UserID string `json:"user_id"`
	Weight int64  `json:"weight"`
	Amount int64  `json:"amount"`
}

// ProfitShares splits pool across holders in proportion to Weight (their
// current decayed value). When every weight is zero the pool is split
// equally. Units lost to flooring go one each to the holders with the largest
// remainders, ties broken by LockID, so the amounts always sum to pool.
func ProfitShares(pool int64, holders []Holder) []Share {
	if pool <= 0 || len(holders) == 0 {
		return nil
	}

	weights := make([]int64, len(holders))
	var total int64
	for i, h := range holders {
		if h.Weight > 0 {
			weights[i] = h.Weight
			total += h.Weight
		}
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = int64(len(weights))
	}

	shares := make([]Share, len(holders))
	rems := make([]int64, len(holders))
	var given int64
	for i, h := range holders {
		q, r := mulDiv(pool, weights[i], total)
		shares[i] = Share{LockID: h.LockID, UserID: h.UserID, Weight: h.Weight, Amount: q}
		rems[i] = r
		given += q
	}

	order := make([]int, len(holders))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if rems[ia] != rems[ib] {
			return rems[ia] > rems[ib]
		}
		return shares[ia].LockID < shares[ib].LockID
	})
	for k := 0; given < pool; k++ {
		shares[order[k%len(order)]].Amount++
		given++
	}
	return shares
}

// ScaleBps returns floor(v × bps / 10000), saturating at MaxInt64. It sizes
// the holders' pool of a sale and the minimum lock for a listed price.
func ScaleBps(v, bps int64) int64 {
	if v <= 0 || bps <= 0 {
		return 0
	}
	hi, _ := bits.Mul64(uint64(v), uint64(bps))
	if hi >= 10_000 {
		return math.MaxInt64
	}
	q, _ := mulDiv(v, bps, 10_000)
	if q < 0 {
		return math.MaxInt64
	}
	return q
}
