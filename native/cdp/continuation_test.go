package cdp

import (
	"errors"
	"math/big"
	"testing"
)

func TestClosePositionDebtFreeRefundsDirectly(t *testing.T) {
	env := newTestEnv(t)
	id := mustDeposit(t, env, "alice", 0, atom(100))

	res, err := env.engine.ClosePosition("alice", id, big.NewRat(1, 100), "")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.ReplyID != "" {
		t.Fatal("debt-free close must not raise a continuation")
	}
	if len(res.Instructions) != 1 {
		t.Fatalf("expected a single refund, got %d instructions", len(res.Instructions))
	}
	send := res.Instructions[0].(BankSend)
	if send.To != "alice" || send.Assets[0].Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected refund: %+v", send)
	}
	if loadPosition(t, env, "alice", id) != nil {
		t.Fatal("closed position must be removed")
	}
	if got := env.state.basket.SupplyCapFor("uatom").CurrentSupply; got.Sign() != 0 {
		t.Fatalf("supply tally = %s, want 0", got)
	}
	if env.state.close != nil {
		t.Fatal("no close continuation expected")
	}
}

func TestClosePositionSellsForDebtValue(t *testing.T) {
	env := newTestEnv(t)
	id := mustDeposit(t, env, "alice", 0, atom(100))
	mustBorrow(t, env, "alice", id, 40)

	// Sale target is the 40 debt padded by the 10% spread: 44 of value.
	res, err := env.engine.ClosePosition("alice", id, big.NewRat(1, 10), "")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.ReplyID == "" {
		t.Fatal("close with debt must raise a continuation")
	}
	if len(res.Instructions) != 1 {
		t.Fatalf("expected one swap, got %d instructions", len(res.Instructions))
	}
	swap, ok := res.Instructions[0].(RouterSwap)
	if !ok {
		t.Fatalf("expected RouterSwap, got %T", res.Instructions[0])
	}
	if swap.Sell.Denom != "uatom" || swap.Sell.Amount.Cmp(big.NewInt(44)) != 0 {
		t.Fatalf("unexpected sale: %+v", swap.Sell)
	}
	if swap.BuyDenom != "ucdt" || swap.MaxSpread.Cmp(big.NewRat(1, 10)) != 0 {
		t.Fatalf("unexpected swap terms: %+v", swap)
	}
	if swap.Hook.Owner != "alice" || swap.Hook.PositionID != id || swap.Hook.SendExcessTo != "alice" {
		t.Fatalf("unexpected repay hook: %+v", swap.Hook)
	}
	if got := loadPosition(t, env, "alice", id).Collateral[0].Asset.Amount; got.Cmp(big.NewInt(56)) != 0 {
		t.Fatalf("remaining collateral = %s, want 56", got)
	}

	// Settlement before the debt cleared is a broken state.
	if _, err := env.engine.HandleClosePositionReply(res.ReplyID); !errors.Is(err, errStateBroken) {
		t.Fatalf("reply with open debt: got %v", err)
	}
	if _, err := env.engine.HandleClosePositionReply("wrong-id"); !errors.Is(err, errReplyMismatch) {
		t.Fatalf("mismatched reply: got %v", err)
	}

	// The swap proceeds come back through the router's repay hook.
	if _, err := env.engine.Repay("router1", "alice", id, credit(40), ""); err != nil {
		t.Fatalf("hook repay: %v", err)
	}

	instructions, err := env.engine.HandleClosePositionReply(res.ReplyID)
	if err != nil {
		t.Fatalf("close reply: %v", err)
	}
	if len(instructions) != 1 {
		t.Fatalf("expected leftover refund, got %d instructions", len(instructions))
	}
	refund := instructions[0].(BankSend)
	if refund.To != "alice" || refund.Assets[0].Amount.Cmp(big.NewInt(56)) != 0 {
		t.Fatalf("unexpected leftover refund: %+v", refund)
	}
	if loadPosition(t, env, "alice", id) != nil {
		t.Fatal("settled position must be removed")
	}
	if env.state.close != nil {
		t.Fatal("close continuation not cleared")
	}
	if _, err := env.engine.HandleClosePositionReply(res.ReplyID); !errors.Is(err, errNoReplyPending) {
		t.Fatalf("replayed close reply: got %v", err)
	}
}

func TestClosePositionRejectsBadSpread(t *testing.T) {
	env := newTestEnv(t)
	id := mustDeposit(t, env, "alice", 0, atom(100))

	if _, err := env.engine.ClosePosition("alice", id, nil, ""); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("nil spread: got %v", err)
	}
	if _, err := env.engine.ClosePosition("alice", id, big.NewRat(-1, 10), ""); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("negative spread: got %v", err)
	}
}

func TestBeginLiquidationRequiresInsolvency(t *testing.T) {
	env := newTestEnv(t)
	id := mustDeposit(t, env, "alice", 0, atom(100))
	mustBorrow(t, env, "alice", id, 40)

	if _, _, err := env.engine.BeginLiquidation("alice", id, big.NewRat(1, 10)); !errors.Is(err, errPositionSolvent) {
		t.Fatalf("solvent position: got %v", err)
	}
	if env.state.liquidate != nil {
		t.Fatal("no liquidation record expected for solvent position")
	}
}

func TestLiquidationFlow(t *testing.T) {
	env := newTestEnv(t)
	id := mustDeposit(t, env, "alice", 0, atom(100))
	mustBorrow(t, env, "alice", id, 40)

	// Collateral halves in value: 40 debt over 50 value is 80% LTV, past the
	// 70% liquidation threshold.
	half := big.NewRat(1, 2)
	env.oracle.prices["uatom"] = half
	seedPrice(env, "uatom", half, 0, 0)

	record, res, err := env.engine.BeginLiquidation("alice", id, big.NewRat(1, 10))
	if err != nil {
		t.Fatalf("begin liquidation: %v", err)
	}
	if !res.Insolvent || res.CurrentLTV.Cmp(big.NewRat(4, 5)) != 0 {
		t.Fatalf("unexpected insolvency result: %+v", res)
	}
	if res.AvailableFee.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("available fee = %s, want 5", res.AvailableFee)
	}
	if record.Owner != "alice" || record.PositionID != id || record.LiqFee.Cmp(big.NewRat(1, 10)) != 0 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if env.state.liquidate == nil {
		t.Fatal("liquidation record not persisted")
	}

	instructions, err := env.engine.LiqRepay("stability1", credit(20))
	if err != nil {
		t.Fatalf("liq repay: %v", err)
	}
	if len(instructions) != 2 {
		t.Fatalf("expected burn and distribution, got %d instructions", len(instructions))
	}
	burn := instructions[0].(Burn)
	if burn.Asset.Amount.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("burned = %s, want 20", burn.Asset.Amount)
	}
	dist, ok := instructions[1].(Distribution)
	if !ok {
		t.Fatalf("expected Distribution, got %T", instructions[1])
	}
	// 20 repaid plus the 10% fee is 22 of value, 44 uatom at the halved
	// price.
	if dist.To != "stability1" || dist.CreditRepaid.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected distribution: %+v", dist)
	}
	if len(dist.Assets) != 1 || dist.Assets[0].Amount.Cmp(big.NewInt(44)) != 0 {
		t.Fatalf("claimed = %+v, want 44 uatom", dist.Assets)
	}

	position := loadPosition(t, env, "alice", id)
	if position.CreditAmount.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("remaining debt = %s, want 20", position.CreditAmount)
	}
	if position.Collateral[0].Asset.Amount.Cmp(big.NewInt(56)) != 0 {
		t.Fatalf("remaining collateral = %s, want 56", position.Collateral[0].Asset.Amount)
	}
	if got := env.state.basket.SupplyCapFor("ucdt").DebtTotal; got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("debt tally = %s, want 20", got)
	}
	if got := env.state.basket.SupplyCapFor("uatom").CurrentSupply; got.Cmp(big.NewInt(56)) != 0 {
		t.Fatalf("supply tally = %s, want 56", got)
	}

	// The record is consumed exactly once.
	if env.state.liquidate != nil {
		t.Fatal("liquidation record not cleared")
	}
	if _, err := env.engine.LiqRepay("stability1", credit(10)); !errors.Is(err, errNoReplyPending) {
		t.Fatalf("repeat liq repay: got %v", err)
	}
}

func TestLiqRepayAuthorization(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.LiqRepay("mallory", credit(10)); !errors.Is(err, errUnauthorized) {
		t.Fatalf("outsider: got %v", err)
	}
	if _, err := env.engine.LiqRepay("stability1", credit(10)); !errors.Is(err, errNoReplyPending) {
		t.Fatalf("no pending liquidation: got %v", err)
	}
}

func TestLiqRepayRejectsWrongAsset(t *testing.T) {
	env := newTestEnv(t)
	id := mustDeposit(t, env, "alice", 0, atom(100))
	mustBorrow(t, env, "alice", id, 40)
	env.state.liquidate = &LiquidationPropagation{
		ReplyID:    "liq-1",
		Owner:      "alice",
		PositionID: id,
		LiqFee:     new(big.Rat),
	}

	if _, err := env.engine.LiqRepay("stability1", atom(10)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("collateral payment: got %v", err)
	}
	if _, err := env.engine.LiqRepay("stability1", credit(0)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("zero payment: got %v", err)
	}
}
