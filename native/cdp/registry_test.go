package cdp

import (
	"errors"
	"math/big"
	"testing"
)

func collateralParam(denom string, borrowBps, maxBps uint64) *CollateralAsset {
	return &CollateralAsset{
		Asset:           Asset{Kind: AssetKindNative, Denom: denom},
		MaxBorrowLTVBps: borrowBps,
		MaxLTVBps:       maxBps,
	}
}

func basketParams() CreateBasketParams {
	return CreateBasketParams{
		BasketID:            1,
		Collateral:          []*CollateralAsset{collateralParam("uatom", 5000, 7000)},
		CreditAsset:         Asset{Kind: AssetKindNative, Denom: "ucdt"},
		CreditPrice:         big.NewRat(1, 1),
		BaseInterestRateBps: 200,
		LiqQueue:            "queue1",
	}
}

func newRegistryEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.state.basket = nil
	return env
}

func TestCreateBasket(t *testing.T) {
	env := newRegistryEnv(t)

	instructions, err := env.engine.CreateBasket("gov", basketParams())
	if err != nil {
		t.Fatalf("create basket: %v", err)
	}
	if len(instructions) != 1 {
		t.Fatalf("expected one queue registration, got %d instructions", len(instructions))
	}
	registration, ok := instructions[0].(QueueRegistration)
	if !ok {
		t.Fatalf("expected QueueRegistration, got %T", instructions[0])
	}
	if registration.Queue != "queue1" || registration.Asset.Denom != "uatom" {
		t.Fatalf("unexpected registration: %+v", registration)
	}
	// Premium is the distance from the 95% base to the 70% threshold.
	if registration.MaxPremiumBps != 2500 {
		t.Fatalf("premium = %d, want 2500", registration.MaxPremiumBps)
	}

	basket := env.state.basket
	if basket == nil {
		t.Fatal("basket not persisted")
	}
	if !basket.OracleSet || !basket.RevToStakers || basket.Frozen {
		t.Fatalf("unexpected basket flags: %+v", basket)
	}
	if len(basket.CollateralTypes) != 1 || basket.CollateralTypes[0].RateIndex.Cmp(rayOne) != 0 {
		t.Fatalf("unexpected collateral types: %+v", basket.CollateralTypes)
	}
	if len(basket.SupplyCaps) != 1 || basket.SupplyCaps[0].CapRatio.Cmp(big.NewRat(1, 1)) != 0 {
		t.Fatalf("unexpected supply caps: %+v", basket.SupplyCaps)
	}

	if _, err := env.engine.CreateBasket("gov", basketParams()); !errors.Is(err, errBasketExists) {
		t.Fatalf("second create: got %v", err)
	}
}

func TestCreateBasketAuthorization(t *testing.T) {
	env := newRegistryEnv(t)

	if _, err := env.engine.CreateBasket("mallory", basketParams()); !errors.Is(err, errUnauthorized) {
		t.Fatalf("non-owner create: got %v", err)
	}
	if env.state.basket != nil {
		t.Fatal("unauthorized create must not persist")
	}
}

func TestCreateBasketValidation(t *testing.T) {
	env := newRegistryEnv(t)

	params := basketParams()
	params.Collateral = []*CollateralAsset{collateralParam("uatom", 7000, 7000)}
	if _, err := env.engine.CreateBasket("gov", params); !errors.Is(err, errInvalidLTVOrdering) {
		t.Fatalf("borrow LTV at threshold: got %v", err)
	}

	params = basketParams()
	params.Collateral = []*CollateralAsset{collateralParam("uatom", 5000, 10000)}
	if _, err := env.engine.CreateBasket("gov", params); !errors.Is(err, errInvalidLTVOrdering) {
		t.Fatalf("threshold at 100%%: got %v", err)
	}

	params = basketParams()
	params.CreditPrice = new(big.Rat)
	if _, err := env.engine.CreateBasket("gov", params); !errors.Is(err, errOraclePriceInvalid) {
		t.Fatalf("zero credit price: got %v", err)
	}

	params = basketParams()
	params.Collateral = append(params.Collateral, collateralParam("uatom", 5000, 7000))
	if _, err := env.engine.CreateBasket("gov", params); !errors.Is(err, errInvalidCollateral) {
		t.Fatalf("duplicate collateral: got %v", err)
	}

	// Collateral without a working oracle feed cannot be accepted.
	params = basketParams()
	params.Collateral = []*CollateralAsset{collateralParam("urare", 5000, 7000)}
	if _, err := env.engine.CreateBasket("gov", params); !errors.Is(err, errOracleNotSet) {
		t.Fatalf("unquoted collateral: got %v", err)
	}
}

func TestCreateBasketQueuePremiumFloor(t *testing.T) {
	env := newRegistryEnv(t)

	params := basketParams()
	params.Collateral = []*CollateralAsset{collateralParam("uatom", 9000, 9600)}
	instructions, err := env.engine.CreateBasket("gov", params)
	if err != nil {
		t.Fatalf("create basket: %v", err)
	}
	registration := instructions[0].(QueueRegistration)
	if registration.MaxPremiumBps != 1000 {
		t.Fatalf("premium = %d, want the 1000 floor", registration.MaxPremiumBps)
	}
}

func TestCreateBasketRegistersLPFromPoolSource(t *testing.T) {
	env := newRegistryEnv(t)
	env.oracle.prices["uosmo"] = big.NewRat(1, 1)
	env.engine.SetPoolSource(&stubPools{pools: map[uint64]PoolState{
		7: {
			Reserves: []PoolReserve{
				{Asset: Asset{Kind: AssetKindNative, Denom: "uatom", Amount: big.NewInt(1000)}, Decimals: 6, Weight: big.NewRat(1, 2)},
				{Asset: Asset{Kind: AssetKindNative, Denom: "uosmo", Amount: big.NewInt(500)}, Decimals: 6, Weight: big.NewRat(1, 2)},
			},
			ShareDenom:  "gamm/pool/7",
			ShareSupply: big.NewInt(100),
		},
	}})

	lp := collateralParam("gamm/pool/7", 4500, 6500)
	// Caller-supplied composition must be ignored in favour of the pool.
	lp.Pool = &PoolInfo{PoolID: 7, Assets: []PoolAsset{{Denom: "ubogus"}}}

	params := basketParams()
	params.Collateral = []*CollateralAsset{
		collateralParam("uatom", 5000, 7000),
		collateralParam("uosmo", 4000, 6000),
		lp,
	}
	if _, err := env.engine.CreateBasket("gov", params); err != nil {
		t.Fatalf("create basket: %v", err)
	}

	registered := env.state.basket.CollateralType(Asset{Kind: AssetKindNative, Denom: "gamm/pool/7"})
	if registered == nil || registered.Pool == nil {
		t.Fatal("LP collateral not registered")
	}
	if len(registered.Pool.Assets) != 2 {
		t.Fatalf("pool composition = %+v", registered.Pool.Assets)
	}
	if registered.Pool.Assets[0].Denom != "uatom" || registered.Pool.Assets[1].Denom != "uosmo" {
		t.Fatalf("composition not taken from the pool source: %+v", registered.Pool.Assets)
	}
	leg := registered.Pool.Assets[0]
	if leg.Decimals != 6 || leg.Weight == nil || leg.Weight.Cmp(big.NewRat(1, 2)) != 0 {
		t.Fatalf("pool leg metadata not carried: %+v", leg)
	}
	cap := env.state.basket.SupplyCapFor("gamm/pool/7")
	if cap == nil || !cap.IsLP {
		t.Fatalf("LP supply cap missing or untagged: %+v", cap)
	}
}

func TestCreateBasketRejectsLPWithUnregisteredUnderlying(t *testing.T) {
	env := newRegistryEnv(t)
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

	lp := collateralParam("gamm/pool/7", 4500, 6500)
	lp.Pool = &PoolInfo{PoolID: 7}
	params := basketParams()
	// uosmo is missing from the basket, so the share cannot decompose.
	params.Collateral = []*CollateralAsset{collateralParam("uatom", 5000, 7000), lp}
	if _, err := env.engine.CreateBasket("gov", params); !errors.Is(err, errPoolAssetMissing) {
		t.Fatalf("got %v, want errPoolAssetMissing", err)
	}
}

func TestEditBasket(t *testing.T) {
	env := newTestEnv(t)

	frozen := true
	rate := uint64(350)
	queue := "queue2"
	if _, err := env.engine.EditBasket("gov", BasketUpdate{
		Frozen:              &frozen,
		BaseInterestRateBps: &rate,
		LiqQueue:            &queue,
	}); err != nil {
		t.Fatalf("edit basket: %v", err)
	}
	basket := env.state.basket
	if !basket.Frozen || basket.BaseInterestRateBps != 350 || basket.LiqQueue != "queue2" {
		t.Fatalf("update not applied: %+v", basket)
	}

	if _, err := env.engine.EditBasket("mallory", BasketUpdate{Frozen: &frozen}); !errors.Is(err, errUnauthorized) {
		t.Fatalf("non-owner edit: got %v", err)
	}
}

func TestEditBasketSupplyCaps(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.EditBasket("gov", BasketUpdate{
		SupplyCaps: []SupplyCap{{Denom: "uatom", CapRatio: new(big.Rat)}},
	}); err != nil {
		t.Fatalf("edit supply caps: %v", err)
	}
	if got := env.state.basket.SupplyCapFor("uatom").CapRatio; got.Sign() != 0 {
		t.Fatalf("cap ratio = %s, want 0", got.RatString())
	}

	if _, err := env.engine.EditBasket("gov", BasketUpdate{
		SupplyCaps: []SupplyCap{{Denom: "ujunk", CapRatio: big.NewRat(1, 2)}},
	}); !errors.Is(err, errInvalidCollateral) {
		t.Fatalf("cap for unknown denom: got %v", err)
	}
}

func TestEditBasketAddsCollateral(t *testing.T) {
	env := newTestEnv(t)
	env.state.basket.LiqQueue = "queue1"
	env.oracle.prices["uosmo"] = big.NewRat(1, 1)

	instructions, err := env.engine.EditBasket("gov", BasketUpdate{
		AddedCollateral: collateralParam("uosmo", 4000, 6000),
	})
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	if env.state.basket.CollateralType(Asset{Kind: AssetKindNative, Denom: "uosmo"}) == nil {
		t.Fatal("collateral not added")
	}
	if len(instructions) != 1 {
		t.Fatalf("expected queue registration for the new collateral, got %d", len(instructions))
	}
	registration := instructions[0].(QueueRegistration)
	if registration.Asset.Denom != "uosmo" || registration.MaxPremiumBps != 3500 {
		t.Fatalf("unexpected registration: %+v", registration)
	}
}

func TestEditBasketOracleRecheck(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.errs = map[string]error{"uatom": errors.New("feed down")}

	if _, err := env.engine.EditBasket("gov", BasketUpdate{RecheckOracle: true}); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if env.state.basket.OracleSet {
		t.Fatal("oracle flag must clear when a quote fails")
	}

	env.oracle.errs = nil
	if _, err := env.engine.EditBasket("gov", BasketUpdate{RecheckOracle: true}); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if !env.state.basket.OracleSet {
		t.Fatal("oracle flag must restore once quotes return")
	}
}

func TestEditBasketOracleRecheckWithoutOracle(t *testing.T) {
	env := newTestEnv(t)
	engine := NewEngine(baseConfig())
	engine.SetState(env.state)
	engine.SetTally(NewCounterTally())

	if _, err := engine.EditBasket("gov", BasketUpdate{RecheckOracle: true}); !errors.Is(err, errOracleNotSet) {
		t.Fatalf("recheck without oracle: got %v", err)
	}
	if !env.state.basket.OracleSet {
		t.Fatal("failed recheck must not flip the oracle flag")
	}
}
