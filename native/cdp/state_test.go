package cdp

import (
	"math/big"
	"testing"

	"basketd/storage"
)

func newTestStore() *StateStore {
	return NewStateStore(storage.NewMemDB())
}

func TestStateStoreBasketRoundTrip(t *testing.T) {
	store := newTestStore()

	basket, err := store.GetBasket()
	if err != nil {
		t.Fatalf("get empty basket: %v", err)
	}
	if basket != nil {
		t.Fatal("expected nil basket before creation")
	}

	original := &Basket{
		BasketID:          1,
		CurrentPositionID: 7,
		CollateralTypes: []*CollateralAsset{
			{
				Asset:           Asset{Kind: AssetKindNative, Denom: "uatom", Amount: new(big.Int)},
				MaxBorrowLTVBps: 5000,
				MaxLTVBps:       7000,
				RateIndex:       new(big.Int).Set(rayOne),
			},
			{
				Asset: Asset{Kind: AssetKindNative, Denom: "gamm/pool/7", Amount: new(big.Int)},
				Pool: &PoolInfo{PoolID: 7, Assets: []PoolAsset{
					{Denom: "uatom", Decimals: 6, Weight: big.NewRat(1, 2)},
					{Denom: "uosmo", Decimals: 6, Weight: big.NewRat(1, 2)},
				}},
				MaxBorrowLTVBps: 4500,
				MaxLTVBps:       6500,
				RateIndex:       new(big.Int).Set(rayOne),
			},
		},
		SupplyCaps: []SupplyCap{{
			Denom:         "uatom",
			CurrentSupply: big.NewInt(12345),
			CapRatio:      big.NewRat(1, 3),
			DebtTotal:     big.NewInt(678),
		}},
		MultiAssetCaps: []MultiAssetSupplyCap{{
			Denoms:   []string{"uatom", "uosmo"},
			CapRatio: big.NewRat(2, 3),
		}},
		CreditAsset:         Asset{Kind: AssetKindNative, Denom: "ucdt"},
		CreditPrice:         big.NewRat(99, 100),
		BaseInterestRateBps: 200,
		LiquidityMultiplier: big.NewRat(3, 2),
		PendingRevenue:      big.NewInt(55),
		CreditLastAccrued:   1_700_000_000,
		RatesLastAccrued:    1_700_000_100,
		LiqQueue:            "queue1",
		OracleSet:           true,
		RevToStakers:        true,
	}
	if err := store.PutBasket(original); err != nil {
		t.Fatalf("put basket: %v", err)
	}

	loaded, err := store.GetBasket()
	if err != nil {
		t.Fatalf("get basket: %v", err)
	}
	if loaded.BasketID != 1 || loaded.CurrentPositionID != 7 {
		t.Fatalf("identity fields lost: %+v", loaded)
	}
	if loaded.CreditPrice.Cmp(big.NewRat(99, 100)) != 0 {
		t.Fatalf("credit price = %s, want 99/100", loaded.CreditPrice.RatString())
	}
	if loaded.LiquidityMultiplier.Cmp(big.NewRat(3, 2)) != 0 {
		t.Fatalf("liquidity multiplier = %s", loaded.LiquidityMultiplier.RatString())
	}
	if len(loaded.CollateralTypes) != 2 {
		t.Fatalf("collateral types = %d, want 2", len(loaded.CollateralTypes))
	}
	if loaded.CollateralTypes[0].Pool != nil {
		t.Fatal("non-LP entry gained a pool")
	}
	lp := loaded.CollateralTypes[1]
	if lp.Pool == nil || lp.Pool.PoolID != 7 || len(lp.Pool.Assets) != 2 {
		t.Fatalf("LP pool info lost: %+v", lp.Pool)
	}
	if lp.Pool.Assets[0].Weight.Cmp(big.NewRat(1, 2)) != 0 {
		t.Fatalf("pool weight = %s", lp.Pool.Assets[0].Weight.RatString())
	}
	if lp.RateIndex.Cmp(rayOne) != 0 {
		t.Fatalf("rate index = %s", lp.RateIndex)
	}
	cap := loaded.SupplyCapFor("uatom")
	if cap.CurrentSupply.Cmp(big.NewInt(12345)) != 0 || cap.CapRatio.Cmp(big.NewRat(1, 3)) != 0 {
		t.Fatalf("supply cap lost: %+v", cap)
	}
	if len(loaded.MultiAssetCaps) != 1 || loaded.MultiAssetCaps[0].CapRatio.Cmp(big.NewRat(2, 3)) != 0 {
		t.Fatalf("multi asset caps lost: %+v", loaded.MultiAssetCaps)
	}
	if loaded.CreditLastAccrued != 1_700_000_000 || loaded.RatesLastAccrued != 1_700_000_100 {
		t.Fatalf("accrual timestamps lost: %+v", loaded)
	}
	if !loaded.OracleSet || !loaded.RevToStakers || loaded.Frozen {
		t.Fatalf("flags lost: %+v", loaded)
	}
}

func TestStateStorePositionsRoundTrip(t *testing.T) {
	store := newTestStore()

	positions, err := store.GetPositions("alice")
	if err != nil {
		t.Fatalf("get unknown owner: %v", err)
	}
	if positions != nil {
		t.Fatalf("expected nil for unknown owner, got %+v", positions)
	}

	stored := []*Position{{
		ID:    3,
		Owner: "alice",
		Collateral: []*CollateralAsset{{
			Asset:           atom(100),
			MaxBorrowLTVBps: 5000,
			MaxLTVBps:       7000,
			RateIndex:       new(big.Int).Set(rayOne),
		}},
		CreditAmount: big.NewInt(40),
	}}
	if err := store.PutPositions("alice", stored); err != nil {
		t.Fatalf("put positions: %v", err)
	}

	loaded, err := store.GetPositions("alice")
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != 3 || loaded[0].Owner != "alice" {
		t.Fatalf("positions lost: %+v", loaded)
	}
	if loaded[0].CreditAmount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("debt = %s, want 40", loaded[0].CreditAmount)
	}
	if loaded[0].Collateral[0].Asset.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("collateral = %s, want 100", loaded[0].Collateral[0].Asset.Amount)
	}

	// Owner casing must not split the record.
	upper, err := store.GetPositions("ALICE")
	if err != nil {
		t.Fatalf("get positions by upper case: %v", err)
	}
	if len(upper) != 1 {
		t.Fatalf("case sensitive owner keys: %+v", upper)
	}

	// An empty list deletes the record entirely.
	if err := store.PutPositions("alice", nil); err != nil {
		t.Fatalf("clear positions: %v", err)
	}
	loaded, err = store.GetPositions("alice")
	if err != nil {
		t.Fatalf("get cleared positions: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil after clear, got %+v", loaded)
	}
}

func TestStateStorePriceRoundTrip(t *testing.T) {
	store := newTestStore()

	price, err := store.GetPrice("uatom")
	if err != nil {
		t.Fatalf("get missing price: %v", err)
	}
	if price != nil {
		t.Fatal("expected nil for missing price")
	}

	if err := store.PutPrice("uatom", &StoredPrice{
		Price:       big.NewRat(7, 5),
		LastUpdated: 1_700_000_000,
		VolLimiter: VolLimiterPrice{
			Price:       big.NewRat(4, 3),
			LastUpdated: 1_699_999_700,
		},
	}); err != nil {
		t.Fatalf("put price: %v", err)
	}

	loaded, err := store.GetPrice("UATOM")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if loaded == nil || loaded.Price.Cmp(big.NewRat(7, 5)) != 0 {
		t.Fatalf("price lost: %+v", loaded)
	}
	if loaded.LastUpdated != 1_700_000_000 {
		t.Fatalf("timestamp = %d", loaded.LastUpdated)
	}
	if loaded.VolLimiter.Price.Cmp(big.NewRat(4, 3)) != 0 || loaded.VolLimiter.LastUpdated != 1_699_999_700 {
		t.Fatalf("limiter lost: %+v", loaded.VolLimiter)
	}
}

func TestStateStorePropagationSlots(t *testing.T) {
	store := newTestStore()

	record, err := store.GetWithdrawPropagation()
	if err != nil {
		t.Fatalf("get empty withdraw slot: %v", err)
	}
	if record != nil {
		t.Fatal("expected empty withdraw slot")
	}

	if err := store.PutWithdrawPropagation(&WithdrawPropagation{
		ReplyID:        "w-1",
		Owner:          "alice",
		PositionID:     3,
		WithdrawAssets: []Asset{atom(20)},
		PrevCollateral: []Asset{atom(100)},
		SendTo:         "bob",
	}); err != nil {
		t.Fatalf("put withdraw record: %v", err)
	}
	record, err = store.GetWithdrawPropagation()
	if err != nil {
		t.Fatalf("get withdraw record: %v", err)
	}
	if record.ReplyID != "w-1" || record.SendTo != "bob" || record.PositionID != 3 {
		t.Fatalf("withdraw record lost: %+v", record)
	}
	if record.WithdrawAssets[0].Amount.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("withdraw amount = %s", record.WithdrawAssets[0].Amount)
	}
	if err := store.PutWithdrawPropagation(nil); err != nil {
		t.Fatalf("clear withdraw slot: %v", err)
	}
	if record, _ = store.GetWithdrawPropagation(); record != nil {
		t.Fatal("withdraw slot not cleared")
	}

	if err := store.PutClosePropagation(&ClosePositionPropagation{
		ReplyID:        "c-1",
		Owner:          "alice",
		PositionID:     3,
		SendTo:         "alice",
		MaxSpread:      big.NewRat(1, 10),
		PrevCollateral: []Asset{atom(100)},
	}); err != nil {
		t.Fatalf("put close record: %v", err)
	}
	closeRecord, err := store.GetClosePropagation()
	if err != nil {
		t.Fatalf("get close record: %v", err)
	}
	if closeRecord.ReplyID != "c-1" || closeRecord.MaxSpread.Cmp(big.NewRat(1, 10)) != 0 {
		t.Fatalf("close record lost: %+v", closeRecord)
	}
	if err := store.PutClosePropagation(nil); err != nil {
		t.Fatalf("clear close slot: %v", err)
	}
	if closeRecord, _ = store.GetClosePropagation(); closeRecord != nil {
		t.Fatal("close slot not cleared")
	}

	if err := store.PutLiquidationPropagation(&LiquidationPropagation{
		ReplyID:    "l-1",
		Owner:      "alice",
		PositionID: 3,
		LiqFee:     big.NewRat(1, 20),
	}); err != nil {
		t.Fatalf("put liquidation record: %v", err)
	}
	liqRecord, err := store.GetLiquidationPropagation()
	if err != nil {
		t.Fatalf("get liquidation record: %v", err)
	}
	if liqRecord.ReplyID != "l-1" || liqRecord.LiqFee.Cmp(big.NewRat(1, 20)) != 0 {
		t.Fatalf("liquidation record lost: %+v", liqRecord)
	}
	if err := store.PutLiquidationPropagation(nil); err != nil {
		t.Fatalf("clear liquidation slot: %v", err)
	}
	if liqRecord, _ = store.GetLiquidationPropagation(); liqRecord != nil {
		t.Fatal("liquidation slot not cleared")
	}
}

func TestStateStoreBacksEngine(t *testing.T) {
	env := newTestEnv(t)
	store := newTestStore()
	if err := store.PutBasket(env.state.basket); err != nil {
		t.Fatalf("seed basket: %v", err)
	}
	env.engine.SetState(store)

	id := mustDeposit(t, env, "alice", 0, atom(100))
	mustBorrow(t, env, "alice", id, 40)

	position, err := env.engine.Position("alice", id)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.CreditAmount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("debt = %s, want 40", position.CreditAmount)
	}
	basket, err := env.engine.Basket()
	if err != nil {
		t.Fatalf("basket: %v", err)
	}
	if basket.SupplyCapFor("uatom").CurrentSupply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply tally lost through persistence")
	}
}
