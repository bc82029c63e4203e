package cdp

import (
	"math/big"
	"time"
)

// Valuation pairs each collateral entry with its price and value at current
// oracle prices, index-aligned with the input list.
type Valuation struct {
	Values []*big.Rat
	Prices []*big.Rat
}

// TotalValue sums the per-entry values.
func (v *Valuation) TotalValue() *big.Rat {
	total := new(big.Rat)
	if v == nil {
		return total
	}
	for _, value := range v.Values {
		total.Add(total, value)
	}
	return total
}

func (e *Engine) collateralWindow() time.Duration {
	return time.Duration(e.cfg.CollateralTWAPMinutes) * time.Minute
}

func (e *Engine) creditWindow() time.Duration {
	return time.Duration(e.cfg.CreditTWAPMinutes) * time.Minute
}

// valueCollateral prices a collateral list. LP shares are valued through the
// pool: the held share's pro-rata slice of each reserve is priced and summed,
// and the implied per-share price derived from that value.
func (e *Engine) valueCollateral(collateral []*CollateralAsset) (*Valuation, error) {
	valuation := &Valuation{
		Values: make([]*big.Rat, 0, len(collateral)),
		Prices: make([]*big.Rat, 0, len(collateral)),
	}
	for _, entry := range collateral {
		if entry.Pool != nil {
			value, err := e.lpValue(entry)
			if err != nil {
				return nil, err
			}
			price := new(big.Rat)
			if entry.Asset.Amount != nil && entry.Asset.Amount.Sign() > 0 {
				price = new(big.Rat).Quo(value, new(big.Rat).SetInt(entry.Asset.Amount))
			}
			valuation.Values = append(valuation.Values, value)
			valuation.Prices = append(valuation.Prices, price)
			continue
		}
		price, err := e.GetPrice(entry.Asset.Denom, e.collateralWindow())
		if err != nil {
			return nil, err
		}
		value := new(big.Rat).Mul(price, new(big.Rat).SetInt(entry.Asset.Amount))
		valuation.Values = append(valuation.Values, value)
		valuation.Prices = append(valuation.Prices, price)
	}
	return valuation, nil
}

// lpValue prices the held LP shares by redeeming them on paper against the
// pool's reserves.
func (e *Engine) lpValue(entry *CollateralAsset) (*big.Rat, error) {
	underlying, err := e.underlyingAmounts(entry)
	if err != nil {
		return nil, err
	}
	value := new(big.Rat)
	for _, asset := range underlying {
		price, err := e.GetPrice(asset.Denom, e.collateralWindow())
		if err != nil {
			return nil, err
		}
		value.Add(value, new(big.Rat).Mul(price, new(big.Rat).SetInt(asset.Amount)))
	}
	return value, nil
}

// underlyingAmounts resolves the pro-rata reserve amounts backing the held
// share amount.
func (e *Engine) underlyingAmounts(entry *CollateralAsset) ([]Asset, error) {
	if e.pools == nil {
		return nil, errNilState
	}
	pool, err := e.pools.PoolState(entry.Pool.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.ShareSupply == nil || pool.ShareSupply.Sign() == 0 {
		return nil, errZeroShareSupply
	}
	held := entry.Asset.Amount
	if held == nil {
		held = big.NewInt(0)
	}
	out := make([]Asset, 0, len(pool.Reserves))
	for _, reserve := range pool.Reserves {
		amount := new(big.Int).Mul(reserve.Asset.Amount, held)
		amount.Quo(amount, pool.ShareSupply)
		slice := reserve.Asset.Clone()
		slice.Amount = amount
		out = append(out, slice)
	}
	return out, nil
}

// ratiosOf converts values into shares of the total, zero-filled when the
// total value is zero.
func ratiosOf(values []*big.Rat) []*big.Rat {
	total := new(big.Rat)
	for _, value := range values {
		total.Add(total, value)
	}
	ratios := make([]*big.Rat, 0, len(values))
	for _, value := range values {
		if total.Sign() == 0 {
			ratios = append(ratios, new(big.Rat))
			continue
		}
		ratios = append(ratios, new(big.Rat).Quo(value, total))
	}
	return ratios
}

// decomposeForBasket expands LP collateral into the basket's registered
// underlying collateral types, summing amounts across duplicates. The
// expansion feeds the average-LTV computation only; ratio-based collateral
// distribution always operates on the literal collateral list.
func (e *Engine) decomposeForBasket(basket *Basket, collateral []*CollateralAsset) ([]*CollateralAsset, error) {
	out := make([]*CollateralAsset, 0, len(collateral))
	add := func(registered *CollateralAsset, amount *big.Int) {
		for _, existing := range out {
			if existing.Asset.Equal(registered.Asset) {
				existing.Asset.Amount = new(big.Int).Add(existing.Asset.Amount, amount)
				return
			}
		}
		entry := registered.Clone()
		entry.Asset.Amount = new(big.Int).Set(amount)
		out = append(out, entry)
	}
	for _, entry := range collateral {
		if entry.Pool == nil {
			add(entry, entry.Asset.Amount)
			continue
		}
		underlying, err := e.underlyingAmounts(entry)
		if err != nil {
			return nil, err
		}
		for _, asset := range underlying {
			registered := basket.CollateralType(asset)
			if registered == nil {
				return nil, errPoolAssetMissing
			}
			add(registered, asset.Amount)
		}
	}
	return out, nil
}
