package cdp

import (
	"math/big"
	"strings"

	nativecommon "basketd/native/common"
)

// rayOne is the starting value of every collateral rate index.
var rayOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

const (
	bpsDenominator   = uint64(10_000)
	queuePremiumBase = uint64(9_500)
)

// CreateBasketParams configures the one-time basket creation.
type CreateBasketParams struct {
	BasketID            uint64
	Collateral          []*CollateralAsset
	CreditAsset         Asset
	CreditPrice         *big.Rat
	BaseInterestRateBps uint64
	LiquidityMultiplier *big.Rat
	LiqQueue            string
}

// BasketUpdate carries the owner-editable basket fields. Nil pointers leave
// the current value untouched.
type BasketUpdate struct {
	AddedCollateral     *CollateralAsset
	SupplyCaps          []SupplyCap
	MultiAssetCaps      []MultiAssetSupplyCap
	LiqQueue            *string
	BaseInterestRateBps *uint64
	LiquidityMultiplier *big.Rat
	DesiredDebtCapUtil  *big.Rat
	CPCMarginOfError    *big.Rat
	NegativeRates       *bool
	Frozen              *bool
	RevToStakers        *bool
	// RecheckOracle re-probes every registered collateral and refreshes the
	// basket's oracle flag, used after the oracle's TWAP source changes.
	RecheckOracle bool
}

// CreateBasket initialises the singleton basket. It runs once, only for the
// configured owner, and every initial collateral must already have a working
// oracle feed and a valid LTV ordering. When a liquidation queue address is
// supplied each collateral is registered with it at a premium of 95% minus
// its liquidation LTV, floored at the configured default when the LTV is too
// high for the subtraction.
func (e *Engine) CreateBasket(caller string, params CreateBasketParams) ([]Instruction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !isOwner(e.cfg.Owner, caller) {
		return nil, errUnauthorized
	}
	existing, err := e.state.GetBasket()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errBasketExists
	}
	if strings.TrimSpace(params.CreditAsset.Denom) == "" {
		return nil, errInvalidCollateral
	}
	if params.CreditPrice == nil || params.CreditPrice.Sign() <= 0 {
		return nil, errOraclePriceInvalid
	}

	basket := &Basket{
		BasketID:            params.BasketID,
		CreditAsset:         params.CreditAsset.Clone(),
		CreditPrice:         new(big.Rat).Set(params.CreditPrice),
		BaseInterestRateBps: params.BaseInterestRateBps,
		PendingRevenue:      new(big.Int),
		LiqQueue:            strings.TrimSpace(params.LiqQueue),
		RevToStakers:        true,
	}
	if params.LiquidityMultiplier != nil {
		basket.LiquidityMultiplier = new(big.Rat).Set(params.LiquidityMultiplier)
	}

	var instructions []Instruction
	for _, entry := range params.Collateral {
		registered, err := e.registerCollateral(basket, entry)
		if err != nil {
			return nil, err
		}
		if basket.LiqQueue != "" {
			instructions = append(instructions, e.queueRegistration(basket, registered))
		}
	}
	basket.OracleSet = true

	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}
	return instructions, nil
}

// EditBasket applies owner updates to the basket: adding one collateral type,
// replacing supply caps, or flipping rate and flag parameters. Added LP
// collateral reads its pool composition from the pool collaborator rather
// than the caller, and every underlying must already be registered.
func (e *Engine) EditBasket(caller string, update BasketUpdate) ([]Instruction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !isOwner(e.cfg.Owner, caller) {
		return nil, errUnauthorized
	}
	basket, err := e.loadBasket()
	if err != nil {
		return nil, err
	}

	var instructions []Instruction
	if update.AddedCollateral != nil {
		registered, err := e.registerCollateral(basket, update.AddedCollateral)
		if err != nil {
			return nil, err
		}
		if basket.LiqQueue != "" {
			instructions = append(instructions, e.queueRegistration(basket, registered))
		}
	}
	for _, cap := range update.SupplyCaps {
		current := basket.SupplyCapFor(cap.Denom)
		if current == nil {
			return nil, errInvalidCollateral
		}
		if cap.CapRatio != nil {
			current.CapRatio = new(big.Rat).Set(cap.CapRatio)
		}
		if cap.StabilityPoolRatio != nil {
			current.StabilityPoolRatio = new(big.Rat).Set(cap.StabilityPoolRatio)
		}
	}
	if update.MultiAssetCaps != nil {
		basket.MultiAssetCaps = basket.MultiAssetCaps[:0]
		for _, cap := range update.MultiAssetCaps {
			for _, denom := range cap.Denoms {
				if basket.SupplyCapFor(denom) == nil {
					return nil, errInvalidCollateral
				}
			}
			basket.MultiAssetCaps = append(basket.MultiAssetCaps, cap.Clone())
		}
	}
	if update.LiqQueue != nil {
		basket.LiqQueue = strings.TrimSpace(*update.LiqQueue)
	}
	if update.BaseInterestRateBps != nil {
		basket.BaseInterestRateBps = *update.BaseInterestRateBps
	}
	if update.LiquidityMultiplier != nil {
		basket.LiquidityMultiplier = new(big.Rat).Set(update.LiquidityMultiplier)
	}
	if update.DesiredDebtCapUtil != nil {
		basket.DesiredDebtCapUtil = new(big.Rat).Set(update.DesiredDebtCapUtil)
	}
	if update.CPCMarginOfError != nil {
		basket.CPCMarginOfError = new(big.Rat).Set(update.CPCMarginOfError)
	}
	if update.NegativeRates != nil {
		basket.NegativeRates = *update.NegativeRates
	}
	if update.Frozen != nil {
		basket.Frozen = *update.Frozen
	}
	if update.RevToStakers != nil {
		basket.RevToStakers = *update.RevToStakers
	}
	if update.RecheckOracle {
		if e.oracle == nil {
			return nil, errOracleNotSet
		}
		ok := true
		for _, entry := range basket.CollateralTypes {
			if entry.Pool != nil {
				continue
			}
			if _, err := e.oracle.Price(entry.Asset.Denom, e.collateralWindow()); err != nil {
				ok = false
				break
			}
		}
		basket.OracleSet = ok
	}

	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}
	return instructions, nil
}

// registerCollateral validates and appends one collateral type to the basket,
// returning the stored entry.
func (e *Engine) registerCollateral(basket *Basket, entry *CollateralAsset) (*CollateralAsset, error) {
	if entry == nil || strings.TrimSpace(entry.Asset.Denom) == "" {
		return nil, errInvalidCollateral
	}
	if basket.CollateralType(entry.Asset) != nil {
		return nil, errInvalidCollateral
	}
	if entry.MaxBorrowLTVBps >= entry.MaxLTVBps || entry.MaxLTVBps >= bpsDenominator {
		return nil, errInvalidLTVOrdering
	}

	registered := entry.Clone()
	registered.Asset.Amount = new(big.Int)
	registered.RateIndex = new(big.Int).Set(rayOne)

	if entry.Pool != nil {
		// Pool composition comes from the AMM proxy, never the caller.
		if e.pools == nil {
			return nil, errPoolAssetMissing
		}
		pool, err := e.pools.PoolState(entry.Pool.PoolID)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(pool.ShareDenom, entry.Asset.Denom) {
			return nil, errInvalidCollateral
		}
		info := &PoolInfo{PoolID: entry.Pool.PoolID}
		for _, reserve := range pool.Reserves {
			if basket.CollateralType(Asset{Kind: AssetKindNative, Denom: reserve.Asset.Denom}) == nil {
				return nil, errPoolAssetMissing
			}
			leg := PoolAsset{Denom: reserve.Asset.Denom, Decimals: reserve.Decimals}
			if reserve.Weight != nil {
				leg.Weight = new(big.Rat).Set(reserve.Weight)
			}
			info.Assets = append(info.Assets, leg)
		}
		registered.Pool = info
	} else {
		if e.oracle == nil {
			return nil, errOracleNotSet
		}
		if _, err := e.oracle.Price(entry.Asset.Denom, e.collateralWindow()); err != nil {
			return nil, errOracleNotSet
		}
	}

	basket.CollateralTypes = append(basket.CollateralTypes, registered)
	basket.SupplyCaps = append(basket.SupplyCaps, SupplyCap{
		Denom:         registered.Asset.Denom,
		CurrentSupply: new(big.Int),
		CapRatio:      new(big.Rat).SetInt64(1),
		DebtTotal:     new(big.Int),
		IsLP:          registered.Pool != nil,
	})
	return registered, nil
}

// queueRegistration derives the liquidation-queue bid premium for a
// collateral type. The premium tracks the gap between full liquidation and
// the collateral's threshold so queue bids stay below the stability pool's
// fee, with a floor when the threshold sits above the base.
func (e *Engine) queueRegistration(basket *Basket, entry *CollateralAsset) QueueRegistration {
	premium := e.cfg.DefaultLiqPremiumBps
	if entry.MaxLTVBps < queuePremiumBase {
		premium = queuePremiumBase - entry.MaxLTVBps
	}
	return QueueRegistration{
		Queue:         basket.LiqQueue,
		Asset:         entry.Asset.Clone(),
		MaxPremiumBps: premium,
	}
}

func isOwner(owner, caller string) bool {
	owner = strings.TrimSpace(owner)
	return owner != "" && strings.EqualFold(owner, strings.TrimSpace(caller))
}
