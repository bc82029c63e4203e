package cdp

import (
	"math/big"
	"testing"
)

func TestInsolvencyCheckZeroDebtIsSolvent(t *testing.T) {
	env := newTestEnv(t)
	basket := env.state.basket

	res, err := env.engine.insolvencyCheck(basket, nil, new(big.Int), big.NewRat(1, 1), ModeMaxLTV)
	if err != nil {
		t.Fatalf("insolvency check: %v", err)
	}
	if res.Insolvent {
		t.Fatal("zero debt flagged insolvent")
	}
}

func TestInsolvencyCheckUnbackedDebt(t *testing.T) {
	env := newTestEnv(t)
	basket := env.state.basket

	for _, mode := range []InsolvencyMode{ModeMaxBorrow, ModeMaxLTV} {
		res, err := env.engine.insolvencyCheck(basket, nil, big.NewInt(10), big.NewRat(1, 1), mode)
		if err != nil {
			t.Fatalf("mode %d: %v", mode, err)
		}
		if !res.Insolvent {
			t.Fatalf("mode %d: unbacked debt must be insolvent", mode)
		}
		if res.CurrentLTV.Cmp(big.NewRat(1, 1)) != 0 {
			t.Fatalf("mode %d: LTV = %s, want 1", mode, res.CurrentLTV.RatString())
		}
	}
}

func TestInsolvencyCheckAvailableFee(t *testing.T) {
	env := newTestEnv(t)
	basket := env.state.basket
	collateral := []*CollateralAsset{{
		Asset:           atom(100),
		MaxBorrowLTVBps: 5000,
		MaxLTVBps:       7000,
	}}

	// 80 debt over 100 value is 80% LTV, 10 points past the 70% threshold.
	res, err := env.engine.insolvencyCheck(basket, collateral, big.NewInt(80), big.NewRat(1, 1), ModeMaxLTV)
	if err != nil {
		t.Fatalf("insolvency check: %v", err)
	}
	if !res.Insolvent {
		t.Fatal("expected insolvent")
	}
	if res.CurrentLTV.Cmp(big.NewRat(4, 5)) != 0 {
		t.Fatalf("LTV = %s, want 4/5", res.CurrentLTV.RatString())
	}
	if res.AvailableFee.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("available fee = %s, want 10", res.AvailableFee)
	}
}

func TestAvgLTVIsValueWeighted(t *testing.T) {
	env := newTestEnv(t)
	env.registerCollateralType("uosmo", 4000, 6000, nil)
	env.oracle.prices["uosmo"] = big.NewRat(2, 1)
	basket := env.state.basket

	collateral := []*CollateralAsset{
		{Asset: atom(100), MaxBorrowLTVBps: 5000, MaxLTVBps: 7000},
		{Asset: Asset{Kind: AssetKindNative, Denom: "uosmo", Amount: big.NewInt(50)}, MaxBorrowLTVBps: 4000, MaxLTVBps: 6000},
	}

	ltv, err := env.engine.avgLTV(basket, collateral)
	if err != nil {
		t.Fatalf("avg LTV: %v", err)
	}
	// Both entries carry 100 of value, so the parameters average evenly.
	if ltv.TotalValue.Cmp(big.NewRat(200, 1)) != 0 {
		t.Fatalf("total value = %s, want 200", ltv.TotalValue.RatString())
	}
	if ltv.AvgBorrowLTV.Cmp(big.NewRat(9, 20)) != 0 {
		t.Fatalf("avg borrow LTV = %s, want 9/20", ltv.AvgBorrowLTV.RatString())
	}
	if ltv.AvgMaxLTV.Cmp(big.NewRat(13, 20)) != 0 {
		t.Fatalf("avg max LTV = %s, want 13/20", ltv.AvgMaxLTV.RatString())
	}
}

func TestAvgLTVDecomposesLPShares(t *testing.T) {
	env := newTestEnv(t)
	env.registerCollateralType("uosmo", 4000, 6000, nil)
	env.registerCollateralType("gamm/pool/7", 0, 1, &PoolInfo{PoolID: 7})
	env.oracle.prices["uosmo"] = big.NewRat(2, 1)
	env.engine.SetPoolSource(&stubPools{pools: map[uint64]PoolState{
		7: {
			Reserves: []PoolReserve{
				{Asset: Asset{Kind: AssetKindNative, Denom: "uatom", Amount: big.NewInt(1000)}},
				{Asset: Asset{Kind: AssetKindNative, Denom: "uosmo", Amount: big.NewInt(500)}},
			},
			ShareDenom:  "gamm/pool/7",
			ShareSupply: big.NewInt(100),
		},
	}})
	basket := env.state.basket

	// 10 of 100 shares redeem to 100 uatom and 50 uosmo, 100 of value each,
	// so the share inherits the evenly averaged underlying parameters.
	collateral := []*CollateralAsset{{
		Asset: Asset{Kind: AssetKindNative, Denom: "gamm/pool/7", Amount: big.NewInt(10)},
		Pool:  &PoolInfo{PoolID: 7},
	}}

	ltv, err := env.engine.avgLTV(basket, collateral)
	if err != nil {
		t.Fatalf("avg LTV: %v", err)
	}
	if ltv.TotalValue.Cmp(big.NewRat(200, 1)) != 0 {
		t.Fatalf("total value = %s, want 200", ltv.TotalValue.RatString())
	}
	if ltv.AvgBorrowLTV.Cmp(big.NewRat(9, 20)) != 0 {
		t.Fatalf("avg borrow LTV = %s, want 9/20", ltv.AvgBorrowLTV.RatString())
	}
	if ltv.AvgMaxLTV.Cmp(big.NewRat(13, 20)) != 0 {
		t.Fatalf("avg max LTV = %s, want 13/20", ltv.AvgMaxLTV.RatString())
	}
}

func TestAvgLTVRejectsUnregisteredPoolAsset(t *testing.T) {
	env := newTestEnv(t)
	env.registerCollateralType("gamm/pool/7", 0, 1, &PoolInfo{PoolID: 7})
	env.engine.SetPoolSource(&stubPools{pools: map[uint64]PoolState{
		7: {
			Reserves: []PoolReserve{
				{Asset: Asset{Kind: AssetKindNative, Denom: "uatom", Amount: big.NewInt(1000)}},
				{Asset: Asset{Kind: AssetKindNative, Denom: "ustray", Amount: big.NewInt(500)}},
			},
			ShareDenom:  "gamm/pool/7",
			ShareSupply: big.NewInt(100)},
	}})
	basket := env.state.basket

	collateral := []*CollateralAsset{{
		Asset: Asset{Kind: AssetKindNative, Denom: "gamm/pool/7", Amount: big.NewInt(10)},
		Pool:  &PoolInfo{PoolID: 7},
	}}
	if _, err := env.engine.avgLTV(basket, collateral); err != errPoolAssetMissing {
		t.Fatalf("got %v, want errPoolAssetMissing", err)
	}
}

func TestSolveTargetDebt(t *testing.T) {
	ltv := &AvgLTV{
		AvgBorrowLTV: big.NewRat(1, 2),
		AvgMaxLTV:    big.NewRat(7, 10),
		TotalValue:   big.NewRat(100, 1),
	}
	price := big.NewRat(1, 1)

	amount, err := solveTargetDebt(new(big.Int), big.NewRat(2, 5), ltv, price)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if amount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("amount = %s, want 40", amount)
	}

	if _, err := solveTargetDebt(new(big.Int), big.NewRat(3, 5), ltv, price); err != errTargetLTVOutOfRange {
		t.Fatalf("target above ceiling: got %v", err)
	}
	if _, err := solveTargetDebt(big.NewInt(40), big.NewRat(2, 5), ltv, price); err != errTargetLTVOutOfRange {
		t.Fatalf("target at current debt: got %v", err)
	}
	if _, err := solveTargetDebt(new(big.Int), new(big.Rat), ltv, price); err != errTargetLTVOutOfRange {
		t.Fatalf("zero target: got %v", err)
	}
}

func TestLPValuationDerivesSharePrice(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetPoolSource(&stubPools{pools: map[uint64]PoolState{
		3: {
			Reserves: []PoolReserve{
				{Asset: Asset{Kind: AssetKindNative, Denom: "uatom", Amount: big.NewInt(400)}},
			},
			ShareDenom:  "gamm/pool/3",
			ShareSupply: big.NewInt(200),
		},
	}})

	entry := &CollateralAsset{
		Asset: Asset{Kind: AssetKindNative, Denom: "gamm/pool/3", Amount: big.NewInt(50)},
		Pool:  &PoolInfo{PoolID: 3},
	}
	valuation, err := env.engine.valueCollateral([]*CollateralAsset{entry})
	if err != nil {
		t.Fatalf("value collateral: %v", err)
	}
	// 50 of 200 shares redeem to 100 uatom at price 1.
	if valuation.Values[0].Cmp(big.NewRat(100, 1)) != 0 {
		t.Fatalf("value = %s, want 100", valuation.Values[0].RatString())
	}
	if valuation.Prices[0].Cmp(big.NewRat(2, 1)) != 0 {
		t.Fatalf("implied share price = %s, want 2", valuation.Prices[0].RatString())
	}
}

func TestLPValuationZeroShareSupply(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetPoolSource(&stubPools{pools: map[uint64]PoolState{
		3: {ShareDenom: "gamm/pool/3", ShareSupply: new(big.Int)},
	}})

	entry := &CollateralAsset{
		Asset: Asset{Kind: AssetKindNative, Denom: "gamm/pool/3", Amount: big.NewInt(50)},
		Pool:  &PoolInfo{PoolID: 3},
	}
	if _, err := env.engine.valueCollateral([]*CollateralAsset{entry}); err != errZeroShareSupply {
		t.Fatalf("got %v, want errZeroShareSupply", err)
	}
}
