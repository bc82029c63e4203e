package cdp

import "math/big"

// InsolvencyMode selects which LTV threshold an insolvency check applies.
type InsolvencyMode int

const (
	// ModeMaxBorrow checks against the borrow-time ceiling. Used to gate
	// withdrawals and new debt.
	ModeMaxBorrow InsolvencyMode = iota
	// ModeMaxLTV checks against the liquidation threshold, the true default.
	ModeMaxLTV
)

// AvgLTV aggregates the value-weighted risk parameters of a collateral set.
type AvgLTV struct {
	AvgBorrowLTV *big.Rat
	AvgMaxLTV    *big.Rat
	TotalValue   *big.Rat
	Prices       []*big.Rat
}

// InsolvencyResult reports a position's solvency against the selected
// threshold. AvailableFee is the liquidator incentive ceiling in credit
// units, zero while solvent.
type InsolvencyResult struct {
	Insolvent    bool
	CurrentLTV   *big.Rat
	AvailableFee *big.Int
}

var ratOne = big.NewRat(1, 1)

func ratFromBps(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), big.NewInt(10_000))
}

// avgLTV computes the value-weighted average borrow and liquidation LTVs for
// the collateral set. LP shares are decomposed into the basket's registered
// underlying collateral first, so an LP position inherits the risk parameters
// of what actually backs it.
func (e *Engine) avgLTV(basket *Basket, collateral []*CollateralAsset) (*AvgLTV, error) {
	decomposed, err := e.decomposeForBasket(basket, collateral)
	if err != nil {
		return nil, err
	}
	result := &AvgLTV{
		AvgBorrowLTV: new(big.Rat),
		AvgMaxLTV:    new(big.Rat),
		TotalValue:   new(big.Rat),
	}
	if len(decomposed) == 0 {
		return result, nil
	}

	valuation, err := e.valueCollateral(decomposed)
	if err != nil {
		return nil, err
	}
	for _, value := range valuation.Values {
		result.TotalValue.Add(result.TotalValue, value)
	}
	result.Prices = valuation.Prices

	if len(decomposed) == 1 {
		result.AvgBorrowLTV = ratFromBps(decomposed[0].MaxBorrowLTVBps)
		result.AvgMaxLTV = ratFromBps(decomposed[0].MaxLTVBps)
		return result, nil
	}

	ratios := ratiosOf(valuation.Values)
	for i, entry := range decomposed {
		borrow := new(big.Rat).Mul(ratios[i], ratFromBps(entry.MaxBorrowLTVBps))
		max := new(big.Rat).Mul(ratios[i], ratFromBps(entry.MaxLTVBps))
		result.AvgBorrowLTV.Add(result.AvgBorrowLTV, borrow)
		result.AvgMaxLTV.Add(result.AvgMaxLTV, max)
	}
	return result, nil
}

// insolvencyCheck decides whether debt of creditAmount at creditPrice is
// insolvent against the collateral set at the mode's threshold. Debt with no
// backing collateral is insolvent at 100% LTV outright; the short-circuit
// also avoids dividing by a zero collateral value.
func (e *Engine) insolvencyCheck(basket *Basket, collateral []*CollateralAsset, creditAmount *big.Int, creditPrice *big.Rat, mode InsolvencyMode) (*InsolvencyResult, error) {
	result := &InsolvencyResult{CurrentLTV: new(big.Rat), AvailableFee: big.NewInt(0)}
	if creditAmount == nil || creditAmount.Sign() == 0 {
		return result, nil
	}
	if len(collateral) == 0 {
		result.Insolvent = true
		result.CurrentLTV = new(big.Rat).Set(ratOne)
		return result, nil
	}

	ltv, err := e.avgLTV(basket, collateral)
	if err != nil {
		return nil, err
	}
	threshold := ltv.AvgMaxLTV
	if mode == ModeMaxBorrow {
		threshold = ltv.AvgBorrowLTV
	}

	if ltv.TotalValue.Sign() == 0 {
		result.Insolvent = true
		result.CurrentLTV = new(big.Rat).Set(ratOne)
		return result, nil
	}

	debtValue := new(big.Rat).Mul(new(big.Rat).SetInt(creditAmount), creditPrice)
	result.CurrentLTV = new(big.Rat).Quo(debtValue, ltv.TotalValue)
	if result.CurrentLTV.Cmp(threshold) > 0 {
		result.Insolvent = true
		if creditPrice.Sign() > 0 {
			// Fee headroom in credit units: the value between the current
			// LTV and the threshold.
			margin := new(big.Rat).Sub(result.CurrentLTV, threshold)
			feeValue := new(big.Rat).Mul(margin, ltv.TotalValue)
			feeValue.Quo(feeValue, creditPrice)
			result.AvailableFee = new(big.Int).Quo(feeValue.Num(), feeValue.Denom())
		}
	}
	return result, nil
}

// creditPrice resolves the credit asset price over the longer credit window
// and refreshes the basket's cached copy.
func (e *Engine) creditPrice(basket *Basket) (*big.Rat, error) {
	price, err := e.GetPrice(basket.CreditAsset.Denom, e.creditWindow())
	if err != nil {
		return nil, err
	}
	basket.CreditPrice = new(big.Rat).Set(price)
	return price, nil
}
