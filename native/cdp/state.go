package cdp

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"basketd/storage"
)

var (
	basketKey         = []byte("cdp/basket")
	positionsPrefix   = []byte("cdp/positions/")
	pricePrefix       = []byte("cdp/price/")
	withdrawReplyKey  = []byte("cdp/reply/withdraw")
	closeReplyKey     = []byte("cdp/reply/close")
	liquidateReplyKey = []byte("cdp/reply/liquidate")
)

// StateStore persists the engine state in a key-value database. Rational
// values are stored as strings and optional sub-records behind presence
// flags, keeping every record RLP encodable.
type StateStore struct {
	db storage.Database
}

// NewStateStore binds the store to a database backend.
func NewStateStore(db storage.Database) *StateStore {
	return &StateStore{db: db}
}

type storedAsset struct {
	Kind   string
	Denom  string
	Amount *big.Int
}

type storedPoolAsset struct {
	Denom    string
	Decimals uint8
	Weight   string
}

type storedPoolInfo struct {
	PoolID uint64
	Assets []storedPoolAsset
}

type storedCollateral struct {
	Asset           storedAsset
	MaxBorrowLTVBps uint64
	MaxLTVBps       uint64
	HasPool         bool
	Pool            storedPoolInfo
	RateIndex       *big.Int
}

type storedPosition struct {
	ID           uint64
	Owner        string
	Collateral   []storedCollateral
	CreditAmount *big.Int
}

type storedSupplyCap struct {
	Denom              string
	CurrentSupply      *big.Int
	CapRatio           string
	DebtTotal          *big.Int
	IsLP               bool
	StabilityPoolRatio string
}

type storedMultiAssetCap struct {
	Denoms   []string
	CapRatio string
}

type storedBasket struct {
	BasketID            uint64
	CurrentPositionID   uint64
	CollateralTypes     []storedCollateral
	SupplyCaps          []storedSupplyCap
	MultiAssetCaps      []storedMultiAssetCap
	CreditAsset         storedAsset
	CreditPrice         string
	BaseInterestRateBps uint64
	LiquidityMultiplier string
	DesiredDebtCapUtil  string
	PendingRevenue      *big.Int
	CreditLastAccrued   uint64
	RatesLastAccrued    uint64
	LiqQueue            string
	NegativeRates       bool
	OracleSet           bool
	Frozen              bool
	RevToStakers        bool
	CPCMarginOfError    string
}

type storedPriceRecord struct {
	Price          string
	LastUpdated    uint64
	LimiterPrice   string
	LimiterUpdated uint64
}

type storedWithdrawReply struct {
	ReplyID        string
	Owner          string
	PositionID     uint64
	WithdrawAssets []storedAsset
	PrevCollateral []storedAsset
	SendTo         string
}

type storedCloseReply struct {
	ReplyID        string
	Owner          string
	PositionID     uint64
	SendTo         string
	MaxSpread      string
	PrevCollateral []storedAsset
}

type storedLiquidationReply struct {
	ReplyID    string
	Owner      string
	PositionID uint64
	LiqFee     string
}

// GetBasket loads the basket, returning nil when none was created yet.
func (s *StateStore) GetBasket() (*Basket, error) {
	var stored storedBasket
	ok, err := s.load(basketKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return basketFromStored(&stored)
}

// PutBasket persists the basket.
func (s *StateStore) PutBasket(basket *Basket) error {
	if basket == nil {
		return errStateBroken
	}
	return s.save(basketKey, basketToStored(basket))
}

// GetPositions loads the owner's position list. A never-seen owner yields an
// empty list.
func (s *StateStore) GetPositions(owner string) ([]*Position, error) {
	var stored []storedPosition
	ok, err := s.load(positionsKey(owner), &stored)
	if err != nil || !ok {
		return nil, err
	}
	positions := make([]*Position, 0, len(stored))
	for i := range stored {
		position, err := positionFromStored(&stored[i])
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, nil
}

// PutPositions replaces the owner's position list. An empty list removes the
// record.
func (s *StateStore) PutPositions(owner string, positions []*Position) error {
	if len(positions) == 0 {
		return s.db.Delete(positionsKey(owner))
	}
	stored := make([]storedPosition, 0, len(positions))
	for _, position := range positions {
		stored = append(stored, positionToStored(position))
	}
	return s.save(positionsKey(owner), stored)
}

// GetPrice loads the cached oracle price for a denomination.
func (s *StateStore) GetPrice(denom string) (*StoredPrice, error) {
	var stored storedPriceRecord
	ok, err := s.load(priceKey(denom), &stored)
	if err != nil || !ok {
		return nil, err
	}
	price, err := decodeRat(stored.Price)
	if err != nil {
		return nil, err
	}
	limiter, err := decodeRat(stored.LimiterPrice)
	if err != nil {
		return nil, err
	}
	return &StoredPrice{
		Price:       price,
		LastUpdated: int64(stored.LastUpdated),
		VolLimiter: VolLimiterPrice{
			Price:       limiter,
			LastUpdated: int64(stored.LimiterUpdated),
		},
	}, nil
}

// PutPrice persists the cached oracle price.
func (s *StateStore) PutPrice(denom string, price *StoredPrice) error {
	if price == nil {
		return errStateBroken
	}
	return s.save(priceKey(denom), storedPriceRecord{
		Price:          encodeRat(price.Price),
		LastUpdated:    clampUnix(price.LastUpdated),
		LimiterPrice:   encodeRat(price.VolLimiter.Price),
		LimiterUpdated: clampUnix(price.VolLimiter.LastUpdated),
	})
}

// GetWithdrawPropagation loads the pending withdraw continuation, if any.
func (s *StateStore) GetWithdrawPropagation() (*WithdrawPropagation, error) {
	var stored storedWithdrawReply
	ok, err := s.load(withdrawReplyKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &WithdrawPropagation{
		ReplyID:        stored.ReplyID,
		Owner:          stored.Owner,
		PositionID:     stored.PositionID,
		WithdrawAssets: assetsFromStored(stored.WithdrawAssets),
		PrevCollateral: assetsFromStored(stored.PrevCollateral),
		SendTo:         stored.SendTo,
	}, nil
}

// PutWithdrawPropagation persists the withdraw continuation; a nil record
// clears the slot.
func (s *StateStore) PutWithdrawPropagation(record *WithdrawPropagation) error {
	if record == nil {
		return s.db.Delete(withdrawReplyKey)
	}
	return s.save(withdrawReplyKey, storedWithdrawReply{
		ReplyID:        record.ReplyID,
		Owner:          record.Owner,
		PositionID:     record.PositionID,
		WithdrawAssets: assetsToStored(record.WithdrawAssets),
		PrevCollateral: assetsToStored(record.PrevCollateral),
		SendTo:         record.SendTo,
	})
}

// GetClosePropagation loads the pending close continuation, if any.
func (s *StateStore) GetClosePropagation() (*ClosePositionPropagation, error) {
	var stored storedCloseReply
	ok, err := s.load(closeReplyKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	spread, err := decodeRat(stored.MaxSpread)
	if err != nil {
		return nil, err
	}
	return &ClosePositionPropagation{
		ReplyID:        stored.ReplyID,
		Owner:          stored.Owner,
		PositionID:     stored.PositionID,
		SendTo:         stored.SendTo,
		MaxSpread:      spread,
		PrevCollateral: assetsFromStored(stored.PrevCollateral),
	}, nil
}

// PutClosePropagation persists the close continuation; nil clears the slot.
func (s *StateStore) PutClosePropagation(record *ClosePositionPropagation) error {
	if record == nil {
		return s.db.Delete(closeReplyKey)
	}
	return s.save(closeReplyKey, storedCloseReply{
		ReplyID:        record.ReplyID,
		Owner:          record.Owner,
		PositionID:     record.PositionID,
		SendTo:         record.SendTo,
		MaxSpread:      encodeRat(record.MaxSpread),
		PrevCollateral: assetsToStored(record.PrevCollateral),
	})
}

// GetLiquidationPropagation loads the pending liquidation continuation.
func (s *StateStore) GetLiquidationPropagation() (*LiquidationPropagation, error) {
	var stored storedLiquidationReply
	ok, err := s.load(liquidateReplyKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	fee, err := decodeRat(stored.LiqFee)
	if err != nil {
		return nil, err
	}
	return &LiquidationPropagation{
		ReplyID:    stored.ReplyID,
		Owner:      stored.Owner,
		PositionID: stored.PositionID,
		LiqFee:     fee,
	}, nil
}

// PutLiquidationPropagation persists the liquidation continuation; nil clears
// the slot.
func (s *StateStore) PutLiquidationPropagation(record *LiquidationPropagation) error {
	if record == nil {
		return s.db.Delete(liquidateReplyKey)
	}
	return s.save(liquidateReplyKey, storedLiquidationReply{
		ReplyID:    record.ReplyID,
		Owner:      record.Owner,
		PositionID: record.PositionID,
		LiqFee:     encodeRat(record.LiqFee),
	})
}

func (s *StateStore) load(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("cdp state: decode %s: %w", string(key), err)
	}
	return true, nil
}

func (s *StateStore) save(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("cdp state: encode %s: %w", string(key), err)
	}
	return s.db.Put(key, raw)
}

func positionsKey(owner string) []byte {
	return append(append([]byte{}, positionsPrefix...), []byte(strings.ToLower(strings.TrimSpace(owner)))...)
}

func priceKey(denom string) []byte {
	return append(append([]byte{}, pricePrefix...), []byte(strings.ToLower(strings.TrimSpace(denom)))...)
}

func encodeRat(r *big.Rat) string {
	if r == nil {
		return ""
	}
	return r.RatString()
}

func decodeRat(s string) (*big.Rat, error) {
	if s == "" {
		return nil, nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("cdp state: malformed rational %q", s)
	}
	return r, nil
}

func clampUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func assetToStored(a Asset) storedAsset {
	return storedAsset{Kind: string(a.Kind), Denom: a.Denom, Amount: bigOrZero(a.Amount)}
}

func assetFromStored(a storedAsset) Asset {
	return Asset{Kind: AssetKind(a.Kind), Denom: a.Denom, Amount: bigOrZero(a.Amount)}
}

func assetsToStored(assets []Asset) []storedAsset {
	out := make([]storedAsset, 0, len(assets))
	for _, asset := range assets {
		out = append(out, assetToStored(asset))
	}
	return out
}

func assetsFromStored(stored []storedAsset) []Asset {
	out := make([]Asset, 0, len(stored))
	for _, asset := range stored {
		out = append(out, assetFromStored(asset))
	}
	return out
}

func collateralToStored(c *CollateralAsset) storedCollateral {
	stored := storedCollateral{
		Asset:           assetToStored(c.Asset),
		MaxBorrowLTVBps: c.MaxBorrowLTVBps,
		MaxLTVBps:       c.MaxLTVBps,
		RateIndex:       bigOrZero(c.RateIndex),
	}
	if c.Pool != nil {
		stored.HasPool = true
		stored.Pool.PoolID = c.Pool.PoolID
		for _, asset := range c.Pool.Assets {
			stored.Pool.Assets = append(stored.Pool.Assets, storedPoolAsset{
				Denom:    asset.Denom,
				Decimals: asset.Decimals,
				Weight:   encodeRat(asset.Weight),
			})
		}
	}
	return stored
}

func collateralFromStored(stored *storedCollateral) (*CollateralAsset, error) {
	entry := &CollateralAsset{
		Asset:           assetFromStored(stored.Asset),
		MaxBorrowLTVBps: stored.MaxBorrowLTVBps,
		MaxLTVBps:       stored.MaxLTVBps,
		RateIndex:       bigOrZero(stored.RateIndex),
	}
	if stored.HasPool {
		info := &PoolInfo{PoolID: stored.Pool.PoolID}
		for _, asset := range stored.Pool.Assets {
			weight, err := decodeRat(asset.Weight)
			if err != nil {
				return nil, err
			}
			info.Assets = append(info.Assets, PoolAsset{Denom: asset.Denom, Decimals: asset.Decimals, Weight: weight})
		}
		entry.Pool = info
	}
	return entry, nil
}

func positionToStored(p *Position) storedPosition {
	stored := storedPosition{ID: p.ID, Owner: p.Owner, CreditAmount: bigOrZero(p.CreditAmount)}
	for _, entry := range p.Collateral {
		stored.Collateral = append(stored.Collateral, collateralToStored(entry))
	}
	return stored
}

func positionFromStored(stored *storedPosition) (*Position, error) {
	position := &Position{ID: stored.ID, Owner: stored.Owner, CreditAmount: bigOrZero(stored.CreditAmount)}
	for i := range stored.Collateral {
		entry, err := collateralFromStored(&stored.Collateral[i])
		if err != nil {
			return nil, err
		}
		position.Collateral = append(position.Collateral, entry)
	}
	return position, nil
}

func basketToStored(b *Basket) *storedBasket {
	stored := &storedBasket{
		BasketID:            b.BasketID,
		CurrentPositionID:   b.CurrentPositionID,
		CreditAsset:         assetToStored(b.CreditAsset),
		CreditPrice:         encodeRat(b.CreditPrice),
		BaseInterestRateBps: b.BaseInterestRateBps,
		LiquidityMultiplier: encodeRat(b.LiquidityMultiplier),
		DesiredDebtCapUtil:  encodeRat(b.DesiredDebtCapUtil),
		PendingRevenue:      bigOrZero(b.PendingRevenue),
		CreditLastAccrued:   clampUnix(b.CreditLastAccrued),
		RatesLastAccrued:    clampUnix(b.RatesLastAccrued),
		LiqQueue:            b.LiqQueue,
		NegativeRates:       b.NegativeRates,
		OracleSet:           b.OracleSet,
		Frozen:              b.Frozen,
		RevToStakers:        b.RevToStakers,
		CPCMarginOfError:    encodeRat(b.CPCMarginOfError),
	}
	for _, entry := range b.CollateralTypes {
		stored.CollateralTypes = append(stored.CollateralTypes, collateralToStored(entry))
	}
	for _, cap := range b.SupplyCaps {
		stored.SupplyCaps = append(stored.SupplyCaps, storedSupplyCap{
			Denom:              cap.Denom,
			CurrentSupply:      bigOrZero(cap.CurrentSupply),
			CapRatio:           encodeRat(cap.CapRatio),
			DebtTotal:          bigOrZero(cap.DebtTotal),
			IsLP:               cap.IsLP,
			StabilityPoolRatio: encodeRat(cap.StabilityPoolRatio),
		})
	}
	for _, cap := range b.MultiAssetCaps {
		stored.MultiAssetCaps = append(stored.MultiAssetCaps, storedMultiAssetCap{
			Denoms:   append([]string{}, cap.Denoms...),
			CapRatio: encodeRat(cap.CapRatio),
		})
	}
	return stored
}

func basketFromStored(stored *storedBasket) (*Basket, error) {
	creditPrice, err := decodeRat(stored.CreditPrice)
	if err != nil {
		return nil, err
	}
	liquidityMultiplier, err := decodeRat(stored.LiquidityMultiplier)
	if err != nil {
		return nil, err
	}
	debtCapUtil, err := decodeRat(stored.DesiredDebtCapUtil)
	if err != nil {
		return nil, err
	}
	margin, err := decodeRat(stored.CPCMarginOfError)
	if err != nil {
		return nil, err
	}
	basket := &Basket{
		BasketID:            stored.BasketID,
		CurrentPositionID:   stored.CurrentPositionID,
		CreditAsset:         assetFromStored(stored.CreditAsset),
		CreditPrice:         creditPrice,
		BaseInterestRateBps: stored.BaseInterestRateBps,
		LiquidityMultiplier: liquidityMultiplier,
		DesiredDebtCapUtil:  debtCapUtil,
		PendingRevenue:      bigOrZero(stored.PendingRevenue),
		CreditLastAccrued:   int64(stored.CreditLastAccrued),
		RatesLastAccrued:    int64(stored.RatesLastAccrued),
		LiqQueue:            stored.LiqQueue,
		NegativeRates:       stored.NegativeRates,
		OracleSet:           stored.OracleSet,
		Frozen:              stored.Frozen,
		RevToStakers:        stored.RevToStakers,
		CPCMarginOfError:    margin,
	}
	for i := range stored.CollateralTypes {
		entry, err := collateralFromStored(&stored.CollateralTypes[i])
		if err != nil {
			return nil, err
		}
		basket.CollateralTypes = append(basket.CollateralTypes, entry)
	}
	for _, cap := range stored.SupplyCaps {
		capRatio, err := decodeRat(cap.CapRatio)
		if err != nil {
			return nil, err
		}
		poolRatio, err := decodeRat(cap.StabilityPoolRatio)
		if err != nil {
			return nil, err
		}
		basket.SupplyCaps = append(basket.SupplyCaps, SupplyCap{
			Denom:              cap.Denom,
			CurrentSupply:      bigOrZero(cap.CurrentSupply),
			CapRatio:           capRatio,
			DebtTotal:          bigOrZero(cap.DebtTotal),
			IsLP:               cap.IsLP,
			StabilityPoolRatio: poolRatio,
		})
	}
	for _, cap := range stored.MultiAssetCaps {
		capRatio, err := decodeRat(cap.CapRatio)
		if err != nil {
			return nil, err
		}
		basket.MultiAssetCaps = append(basket.MultiAssetCaps, MultiAssetSupplyCap{
			Denoms:   append([]string{}, cap.Denoms...),
			CapRatio: capRatio,
		})
	}
	return basket, nil
}
