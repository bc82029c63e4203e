package common

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrQuotaRequestsExceeded  = errors.New("quota requests exceeded")
	ErrQuotaCreditCapExceeded = errors.New("quota credit cap exceeded")
	ErrQuotaCounterOverflow   = errors.New("quota counter overflow")
)

// QuotaNow captures one address's running counters within an epoch. Minted
// credit is tracked as a big integer because mint amounts are unbounded.
type QuotaNow struct {
	ReqCount   uint32
	CreditUsed *big.Int
	EpochID    uint64
}

// Quota bounds per-address request rate and per-epoch minted credit volume.
// A zero limit disables the corresponding check.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxCreditPerEpoch uint64
	EpochSeconds      uint32
}

// CheckQuota verifies the additional request and credit usage fit the quota,
// returning updated counters on success and the unchanged previous counters
// on denial. Counters reset when the epoch advances.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addCredit *big.Int) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}
	if next.CreditUsed == nil {
		next.CreditUsed = new(big.Int)
	} else {
		next.CreditUsed = new(big.Int).Set(next.CreditUsed)
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerMin > 0 && next.ReqCount > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}

	if addCredit != nil && addCredit.Sign() > 0 {
		next.CreditUsed.Add(next.CreditUsed, addCredit)
	}
	if q.MaxCreditPerEpoch > 0 && next.CreditUsed.Cmp(new(big.Int).SetUint64(q.MaxCreditPerEpoch)) > 0 {
		return prev, ErrQuotaCreditCapExceeded
	}

	return next, nil
}
