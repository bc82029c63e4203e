package cdp

import (
	"math/big"
	"strings"
)

// AssetKind distinguishes chain-native coins from reference (bridged or
// tokenised) assets. Two assets are the same collateral type only when both
// the kind and the denomination match.
type AssetKind string

const (
	AssetKindNative    AssetKind = "native"
	AssetKindReference AssetKind = "reference"
)

// Asset pairs a denomination with an unsigned amount. Amounts are expressed
// as big integers in the asset's base units to match on-chain precision.
type Asset struct {
	Kind   AssetKind
	Denom  string
	Amount *big.Int
}

// Equal reports whether two assets describe the same collateral type. The
// amount is deliberately excluded from the comparison.
func (a Asset) Equal(other Asset) bool {
	return a.Kind == other.Kind && strings.EqualFold(a.Denom, other.Denom)
}

// Clone returns a deep copy of the asset.
func (a Asset) Clone() Asset {
	clone := Asset{Kind: a.Kind, Denom: a.Denom}
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	}
	return clone
}

// PoolAsset describes one leg of an AMM pool backing an LP share collateral.
type PoolAsset struct {
	Denom    string
	Decimals uint8
	// Weight is the pool's normalised weight for this leg.
	Weight *big.Rat
}

// Clone returns a deep copy of the pool asset.
func (p PoolAsset) Clone() PoolAsset {
	clone := PoolAsset{Denom: p.Denom, Decimals: p.Decimals}
	if p.Weight != nil {
		clone.Weight = new(big.Rat).Set(p.Weight)
	}
	return clone
}

// PoolInfo carries the LP decomposition metadata for share-token collateral.
// The asset ordering matches the pool contract and must never be accepted
// from untrusted callers.
type PoolInfo struct {
	PoolID uint64
	Assets []PoolAsset
}

// Clone returns a deep copy of the pool info.
func (p *PoolInfo) Clone() *PoolInfo {
	if p == nil {
		return nil
	}
	clone := &PoolInfo{PoolID: p.PoolID, Assets: make([]PoolAsset, 0, len(p.Assets))}
	for _, asset := range p.Assets {
		clone.Assets = append(clone.Assets, asset.Clone())
	}
	return clone
}

// CollateralAsset couples an asset with its risk parameters. Inside a
// position the embedded asset's amount tracks the holding; inside the
// basket's master list the amount field is unused.
type CollateralAsset struct {
	Asset Asset
	// MaxBorrowLTVBps is the borrow-time loan-to-value ceiling in basis
	// points. Always below MaxLTVBps.
	MaxBorrowLTVBps uint64
	// MaxLTVBps is the liquidation loan-to-value threshold in basis points.
	MaxLTVBps uint64
	// Pool is set only for LP share collateral.
	Pool *PoolInfo
	// RateIndex is the cumulative interest multiplier applied to debt backed
	// by this collateral, ray scaled and starting at 1.
	RateIndex *big.Int
}

// Clone returns a deep copy of the collateral asset.
func (c *CollateralAsset) Clone() *CollateralAsset {
	if c == nil {
		return nil
	}
	clone := &CollateralAsset{
		Asset:           c.Asset.Clone(),
		MaxBorrowLTVBps: c.MaxBorrowLTVBps,
		MaxLTVBps:       c.MaxLTVBps,
		Pool:            c.Pool.Clone(),
	}
	if c.RateIndex != nil {
		clone.RateIndex = new(big.Int).Set(c.RateIndex)
	}
	return clone
}

// Position is a single collateralised debt position. A position holds at most
// one collateral entry per distinct denomination and is removed from its
// owner's list once the collateral list empties.
type Position struct {
	ID           uint64
	Owner        string
	Collateral   []*CollateralAsset
	CreditAmount *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{ID: p.ID, Owner: p.Owner, Collateral: make([]*CollateralAsset, 0, len(p.Collateral))}
	for _, entry := range p.Collateral {
		clone.Collateral = append(clone.Collateral, entry.Clone())
	}
	if p.CreditAmount != nil {
		clone.CreditAmount = new(big.Int).Set(p.CreditAmount)
	}
	return clone
}

// CollateralFor returns the position's holding of the given asset type, or
// nil when the denomination is not held.
func (p *Position) CollateralFor(asset Asset) *CollateralAsset {
	if p == nil {
		return nil
	}
	for _, entry := range p.Collateral {
		if entry.Asset.Equal(asset) {
			return entry
		}
	}
	return nil
}

// SupplyCap tracks the per-denomination supply ceiling and debt tally. A zero
// cap ratio marks the collateral as expunged: holders may only fully withdraw
// it.
type SupplyCap struct {
	Denom         string
	CurrentSupply *big.Int
	// CapRatio bounds the denomination's share of total basket value.
	CapRatio  *big.Rat
	DebtTotal *big.Int
	IsLP      bool
	// StabilityPoolRatio optionally overrides the share of liquidations
	// routed through the stability pool for this denomination.
	StabilityPoolRatio *big.Rat
}

// Clone returns a deep copy of the supply cap entry.
func (s SupplyCap) Clone() SupplyCap {
	clone := SupplyCap{Denom: s.Denom, IsLP: s.IsLP}
	if s.CurrentSupply != nil {
		clone.CurrentSupply = new(big.Int).Set(s.CurrentSupply)
	}
	if s.CapRatio != nil {
		clone.CapRatio = new(big.Rat).Set(s.CapRatio)
	}
	if s.DebtTotal != nil {
		clone.DebtTotal = new(big.Int).Set(s.DebtTotal)
	}
	if s.StabilityPoolRatio != nil {
		clone.StabilityPoolRatio = new(big.Rat).Set(s.StabilityPoolRatio)
	}
	return clone
}

// MultiAssetSupplyCap bounds the combined share of basket value held across a
// group of denominations.
type MultiAssetSupplyCap struct {
	Denoms   []string
	CapRatio *big.Rat
}

// Clone returns a deep copy of the multi asset cap.
func (m MultiAssetSupplyCap) Clone() MultiAssetSupplyCap {
	clone := MultiAssetSupplyCap{Denoms: append([]string{}, m.Denoms...)}
	if m.CapRatio != nil {
		clone.CapRatio = new(big.Rat).Set(m.CapRatio)
	}
	return clone
}

// Basket is the singleton market configuration governing one credit asset and
// its accepted collateral. Exactly one basket exists per engine instance and
// CurrentPositionID only ever increases.
type Basket struct {
	BasketID          uint64
	CurrentPositionID uint64
	// CollateralTypes is the master list of accepted collateral and their
	// risk parameters. The amount field of each entry is unused here.
	CollateralTypes []*CollateralAsset
	SupplyCaps      []SupplyCap
	MultiAssetCaps  []MultiAssetSupplyCap
	CreditAsset     Asset
	CreditPrice     *big.Rat
	// BaseInterestRateBps seeds the external rate engine.
	BaseInterestRateBps uint64
	LiquidityMultiplier *big.Rat
	DesiredDebtCapUtil  *big.Rat
	// PendingRevenue is interest revenue awaiting routing to stakers; repaid
	// credit up to this amount is deposited as revenue instead of burned.
	PendingRevenue    *big.Int
	CreditLastAccrued int64
	RatesLastAccrued  int64
	// LiqQueue is the liquidation queue contract address, empty when unset.
	LiqQueue         string
	NegativeRates    bool
	OracleSet        bool
	Frozen           bool
	RevToStakers     bool
	CPCMarginOfError *big.Rat
}

// Clone returns a deep copy of the basket.
func (b *Basket) Clone() *Basket {
	if b == nil {
		return nil
	}
	clone := &Basket{
		BasketID:            b.BasketID,
		CurrentPositionID:   b.CurrentPositionID,
		CollateralTypes:     make([]*CollateralAsset, 0, len(b.CollateralTypes)),
		SupplyCaps:          make([]SupplyCap, 0, len(b.SupplyCaps)),
		MultiAssetCaps:      make([]MultiAssetSupplyCap, 0, len(b.MultiAssetCaps)),
		CreditAsset:         b.CreditAsset.Clone(),
		BaseInterestRateBps: b.BaseInterestRateBps,
		CreditLastAccrued:   b.CreditLastAccrued,
		RatesLastAccrued:    b.RatesLastAccrued,
		LiqQueue:            b.LiqQueue,
		NegativeRates:       b.NegativeRates,
		OracleSet:           b.OracleSet,
		Frozen:              b.Frozen,
		RevToStakers:        b.RevToStakers,
	}
	for _, entry := range b.CollateralTypes {
		clone.CollateralTypes = append(clone.CollateralTypes, entry.Clone())
	}
	for _, cap := range b.SupplyCaps {
		clone.SupplyCaps = append(clone.SupplyCaps, cap.Clone())
	}
	for _, cap := range b.MultiAssetCaps {
		clone.MultiAssetCaps = append(clone.MultiAssetCaps, cap.Clone())
	}
	if b.CreditPrice != nil {
		clone.CreditPrice = new(big.Rat).Set(b.CreditPrice)
	}
	if b.LiquidityMultiplier != nil {
		clone.LiquidityMultiplier = new(big.Rat).Set(b.LiquidityMultiplier)
	}
	if b.DesiredDebtCapUtil != nil {
		clone.DesiredDebtCapUtil = new(big.Rat).Set(b.DesiredDebtCapUtil)
	}
	if b.PendingRevenue != nil {
		clone.PendingRevenue = new(big.Int).Set(b.PendingRevenue)
	}
	if b.CPCMarginOfError != nil {
		clone.CPCMarginOfError = new(big.Rat).Set(b.CPCMarginOfError)
	}
	return clone
}

// CollateralType resolves the basket's registered risk parameters for the
// asset type, or nil when the collateral is not accepted.
func (b *Basket) CollateralType(asset Asset) *CollateralAsset {
	if b == nil {
		return nil
	}
	for _, entry := range b.CollateralTypes {
		if entry.Asset.Equal(asset) {
			return entry
		}
	}
	return nil
}

// SupplyCapFor returns the supply cap entry for the denomination, or nil.
func (b *Basket) SupplyCapFor(denom string) *SupplyCap {
	if b == nil {
		return nil
	}
	for i := range b.SupplyCaps {
		if strings.EqualFold(b.SupplyCaps[i].Denom, denom) {
			return &b.SupplyCaps[i]
		}
	}
	return nil
}

// VolLimiterPrice is the volatility reference point for the circuit breaker.
// It refreshes at most once per configured interval so that the 20% band is
// measured against a price at least that old.
type VolLimiterPrice struct {
	Price       *big.Rat
	LastUpdated int64
}

// StoredPrice is the cached oracle price for one denomination.
type StoredPrice struct {
	Price       *big.Rat
	LastUpdated int64
	VolLimiter  VolLimiterPrice
}

// Clone returns a deep copy of the stored price.
func (s *StoredPrice) Clone() *StoredPrice {
	if s == nil {
		return nil
	}
	clone := &StoredPrice{LastUpdated: s.LastUpdated, VolLimiter: VolLimiterPrice{LastUpdated: s.VolLimiter.LastUpdated}}
	if s.Price != nil {
		clone.Price = new(big.Rat).Set(s.Price)
	}
	if s.VolLimiter.Price != nil {
		clone.VolLimiter.Price = new(big.Rat).Set(s.VolLimiter.Price)
	}
	return clone
}

// WithdrawPropagation is the continuation record persisted before the bank
// send raised by a withdrawal. The reply handler cross-checks the reloaded
// position against the pre-withdrawal snapshot.
type WithdrawPropagation struct {
	ReplyID        string
	Owner          string
	PositionID     uint64
	WithdrawAssets []Asset
	PrevCollateral []Asset
	SendTo         string
}

// ClosePositionPropagation snapshots a close-position sale so the settlement
// reply can refund leftovers and retire the position.
type ClosePositionPropagation struct {
	ReplyID        string
	Owner          string
	PositionID     uint64
	SendTo         string
	MaxSpread      *big.Rat
	PrevCollateral []Asset
}

// LiquidationPropagation identifies the position under liquidation for the
// stability pool's repay call and carries the agreed liquidation fee.
type LiquidationPropagation struct {
	ReplyID    string
	Owner      string
	PositionID uint64
	LiqFee     *big.Rat
}
