package cdp

import "math/big"

// CounterTally is the built-in basket tally. It maintains the per-denom
// supply counters and the aggregate debt counter that back the basket's cap
// accounting. The value-ratio cap enforcement itself lives with the external
// tally collaborator in a full deployment.
type CounterTally struct{}

// NewCounterTally returns the counter-only tally implementation.
func NewCounterTally() *CounterTally { return &CounterTally{} }

// UpdateBasketTally adjusts the per-denomination supply counters.
func (t *CounterTally) UpdateBasketTally(basket *Basket, assets []Asset, add bool) error {
	if basket == nil {
		return errNilState
	}
	for _, asset := range assets {
		cap := basket.SupplyCapFor(asset.Denom)
		if cap == nil {
			continue
		}
		if cap.CurrentSupply == nil {
			cap.CurrentSupply = new(big.Int)
		}
		if add {
			cap.CurrentSupply = new(big.Int).Add(cap.CurrentSupply, asset.Amount)
			continue
		}
		cap.CurrentSupply = new(big.Int).Sub(cap.CurrentSupply, asset.Amount)
		if cap.CurrentSupply.Sign() < 0 {
			return errStateBroken
		}
	}
	return nil
}

// UpdateBasketDebt books the debt movement against a cap entry keyed by the
// credit denomination. The entry is created on first use and carries only
// debt, never collateral supply.
func (t *CounterTally) UpdateBasketDebt(basket *Basket, amount *big.Int, add bool) error {
	if basket == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	cap := basket.SupplyCapFor(basket.CreditAsset.Denom)
	if cap == nil {
		basket.SupplyCaps = append(basket.SupplyCaps, SupplyCap{
			Denom:         basket.CreditAsset.Denom,
			CurrentSupply: new(big.Int),
			DebtTotal:     new(big.Int),
		})
		cap = &basket.SupplyCaps[len(basket.SupplyCaps)-1]
	}
	if cap.DebtTotal == nil {
		cap.DebtTotal = new(big.Int)
	}
	if add {
		cap.DebtTotal = new(big.Int).Add(cap.DebtTotal, amount)
		return nil
	}
	cap.DebtTotal = new(big.Int).Sub(cap.DebtTotal, amount)
	if cap.DebtTotal.Sign() < 0 {
		return errStateBroken
	}
	return nil
}
