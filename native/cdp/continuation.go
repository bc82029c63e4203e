package cdp

import (
	"math/big"
	"strings"

	"github.com/google/uuid"

	nativecommon "basketd/native/common"
)

// CloseResult carries the continuation identity and the sale instructions
// raised by a close-position call.
type CloseResult struct {
	ReplyID      string
	Instructions []Instruction
}

// ClosePosition sells enough collateral to retire the position's debt and
// settles the remainder through the close continuation. The sale target is
// the debt value padded by maxSpread so slippage cannot leave the sale short;
// any overshoot comes back as repay excess. Sales are split across collateral
// by value ratio and capped at each held balance. LP collateral is exited
// from its pool first and each underlying routed separately; every routed
// sale carries a hook that repays this position with the proceeds.
func (e *Engine) ClosePosition(owner string, positionID uint64, maxSpread *big.Rat, sendTo string) (*CloseResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	basket, err := e.loadBasket()
	if err != nil {
		return nil, err
	}
	if basket.Frozen {
		return nil, errBasketFrozen
	}
	if maxSpread == nil || maxSpread.Sign() < 0 {
		return nil, errInvalidAmount
	}

	position, err := e.getPosition(owner, positionID)
	if err != nil {
		return nil, err
	}
	if err := e.accrue(basket, position); err != nil {
		return nil, err
	}
	if err := e.putPosition(owner, position); err != nil {
		return nil, err
	}

	recipient := strings.TrimSpace(sendTo)
	if recipient == "" {
		recipient = owner
	}

	// Debt-free positions have nothing to sell; refund and retire directly.
	if position.CreditAmount.Sign() == 0 {
		refund := collateralSnapshot(position)
		if err := e.removePosition(owner, positionID); err != nil {
			return nil, err
		}
		if err := e.updateTally(basket, refund, false); err != nil {
			return nil, err
		}
		if err := e.state.PutBasket(basket); err != nil {
			return nil, err
		}
		return &CloseResult{Instructions: []Instruction{BankSend{To: recipient, Assets: refund}}}, nil
	}

	creditPrice, err := e.creditPrice(basket)
	if err != nil {
		return nil, err
	}
	valuation, err := e.valueCollateral(position.Collateral)
	if err != nil {
		return nil, err
	}
	ratios := ratiosOf(valuation.Values)
	prevCollateral := collateralSnapshot(position)

	// valueToSell = debt * creditPrice * (1 + maxSpread)
	valueToSell := new(big.Rat).Mul(new(big.Rat).SetInt(position.CreditAmount), creditPrice)
	valueToSell.Mul(valueToSell, new(big.Rat).Add(ratOne, maxSpread))

	hook := RepayHook{Owner: owner, PositionID: positionID, SendExcessTo: recipient}
	var exits []Instruction
	var swaps []Instruction
	sold := make([]Asset, 0, len(position.Collateral))

	for i, entry := range position.Collateral {
		saleValue := new(big.Rat).Mul(valueToSell, ratios[i])
		if valuation.Prices[i].Sign() == 0 {
			continue
		}
		saleAmount := new(big.Rat).Quo(saleValue, valuation.Prices[i])
		amount := ceilRat(saleAmount)
		if amount.Cmp(entry.Asset.Amount) > 0 {
			amount = new(big.Int).Set(entry.Asset.Amount)
		}
		if amount.Sign() == 0 {
			continue
		}
		sale := entry.Asset.Clone()
		sale.Amount = amount
		sold = append(sold, sale)

		if entry.Pool != nil {
			exits = append(exits, PoolExit{PoolID: entry.Pool.PoolID, ShareAsset: sale.Clone()})
			shareSlice := entry.Clone()
			shareSlice.Asset.Amount = amount
			underlying, err := e.underlyingAmounts(shareSlice)
			if err != nil {
				return nil, err
			}
			for _, asset := range underlying {
				if asset.Amount.Sign() == 0 {
					continue
				}
				swaps = append(swaps, RouterSwap{
					Sell:      asset,
					BuyDenom:  basket.CreditAsset.Denom,
					MaxSpread: new(big.Rat).Set(maxSpread),
					Hook:      hook,
				})
			}
			continue
		}
		swaps = append(swaps, RouterSwap{
			Sell:      sale.Clone(),
			BuyDenom:  basket.CreditAsset.Denom,
			MaxSpread: new(big.Rat).Set(maxSpread),
			Hook:      hook,
		})
	}

	// Deduct sold collateral; the proceeds flow back through the repay hook
	// and the reply settles the remainder.
	for _, sale := range sold {
		entry := position.CollateralFor(sale)
		entry.Asset.Amount = new(big.Int).Sub(entry.Asset.Amount, sale.Amount)
		if entry.Asset.Amount.Sign() == 0 {
			removeCollateral(position, sale)
		}
	}
	if err := e.putPosition(owner, position); err != nil {
		return nil, err
	}
	if err := e.updateTally(basket, sold, false); err != nil {
		return nil, err
	}

	record := &ClosePositionPropagation{
		ReplyID:        uuid.NewString(),
		Owner:          owner,
		PositionID:     positionID,
		SendTo:         recipient,
		MaxSpread:      new(big.Rat).Set(maxSpread),
		PrevCollateral: prevCollateral,
	}
	if err := e.state.PutClosePropagation(record); err != nil {
		return nil, err
	}
	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}
	return &CloseResult{ReplyID: record.ReplyID, Instructions: append(exits, swaps...)}, nil
}

// HandleClosePositionReply settles a close once the routed sales and their
// repay hooks have run. The debt must be fully repaid; whatever collateral
// the ratio split left behind is refunded and the position retired.
func (e *Engine) HandleClosePositionReply(replyID string) ([]Instruction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.state.GetClosePropagation()
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errNoReplyPending
	}
	if record.ReplyID != replyID {
		return nil, errReplyMismatch
	}
	basket, err := e.loadBasket()
	if err != nil {
		return nil, err
	}
	position, err := e.findPosition(record.Owner, record.PositionID)
	if err != nil && err != errNoUserPositions {
		return nil, err
	}

	var instructions []Instruction
	if position != nil {
		if position.CreditAmount != nil && position.CreditAmount.Sign() > 0 {
			return nil, errStateBroken
		}
		leftover := collateralSnapshot(position)
		if err := e.removePosition(record.Owner, record.PositionID); err != nil {
			return nil, err
		}
		if len(leftover) > 0 {
			if err := e.updateTally(basket, leftover, false); err != nil {
				return nil, err
			}
			instructions = append(instructions, BankSend{To: record.SendTo, Assets: leftover})
		}
		if err := e.state.PutBasket(basket); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutClosePropagation(nil); err != nil {
		return nil, err
	}
	return instructions, nil
}

// BeginLiquidation verifies the position breaches the liquidation threshold
// and persists the continuation record the stability pool's repay call will
// consume. The returned available fee is the liquidator incentive ceiling.
func (e *Engine) BeginLiquidation(owner string, positionID uint64, liqFee *big.Rat) (*LiquidationPropagation, *InsolvencyResult, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	basket, err := e.loadBasket()
	if err != nil {
		return nil, nil, err
	}
	position, err := e.getPosition(owner, positionID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.accrue(basket, position); err != nil {
		return nil, nil, err
	}
	if err := e.putPosition(owner, position); err != nil {
		return nil, nil, err
	}

	creditPrice, err := e.creditPrice(basket)
	if err != nil {
		return nil, nil, err
	}
	res, err := e.insolvencyCheck(basket, position.Collateral, position.CreditAmount, creditPrice, ModeMaxLTV)
	if err != nil {
		return nil, nil, err
	}
	if !res.Insolvent {
		return nil, nil, errPositionSolvent
	}
	if liqFee == nil {
		liqFee = new(big.Rat)
	}

	record := &LiquidationPropagation{
		ReplyID:    uuid.NewString(),
		Owner:      owner,
		PositionID: positionID,
		LiqFee:     new(big.Rat).Set(liqFee),
	}
	if err := e.state.PutLiquidationPropagation(record); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutBasket(basket); err != nil {
		return nil, nil, err
	}
	return record, res, nil
}

// LiqRepay lets the stability pool repay a liquidated position's debt and
// claim the matching collateral plus the liquidation fee, pro-rata by value
// across the position's collateral. Only the registered stability pool may
// call it, and only while a liquidation continuation is pending.
func (e *Engine) LiqRepay(caller string, payment Asset) ([]Instruction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pool := strings.TrimSpace(e.cfg.StabilityPool)
	if pool == "" || !strings.EqualFold(strings.TrimSpace(caller), pool) {
		return nil, errUnauthorized
	}
	record, err := e.state.GetLiquidationPropagation()
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errNoReplyPending
	}

	basket, err := e.loadBasket()
	if err != nil {
		return nil, err
	}
	if !payment.Equal(basket.CreditAsset) || payment.Amount == nil || payment.Amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	position, err := e.getPosition(record.Owner, record.PositionID)
	if err != nil {
		return nil, err
	}
	if err := e.accrue(basket, position); err != nil {
		return nil, err
	}

	repaid := new(big.Int).Set(payment.Amount)
	if repaid.Cmp(position.CreditAmount) > 0 {
		repaid = new(big.Int).Set(position.CreditAmount)
	}
	position.CreditAmount = new(big.Int).Sub(position.CreditAmount, repaid)

	creditPrice, err := e.creditPrice(basket)
	if err != nil {
		return nil, err
	}
	valuation, err := e.valueCollateral(position.Collateral)
	if err != nil {
		return nil, err
	}
	ratios := ratiosOf(valuation.Values)

	// Collateral owed: repaid value plus the liquidation fee, split by the
	// same value ratios used everywhere else.
	owedValue := new(big.Rat).Mul(new(big.Rat).SetInt(repaid), creditPrice)
	owedValue.Mul(owedValue, new(big.Rat).Add(ratOne, record.LiqFee))

	claimed := make([]Asset, 0, len(position.Collateral))
	for i, entry := range position.Collateral {
		if valuation.Prices[i].Sign() == 0 {
			continue
		}
		claimValue := new(big.Rat).Mul(owedValue, ratios[i])
		claimAmount := new(big.Rat).Quo(claimValue, valuation.Prices[i])
		amount := new(big.Int).Quo(claimAmount.Num(), claimAmount.Denom())
		if amount.Cmp(entry.Asset.Amount) > 0 {
			amount = new(big.Int).Set(entry.Asset.Amount)
		}
		if amount.Sign() == 0 {
			continue
		}
		claim := entry.Asset.Clone()
		claim.Amount = amount
		claimed = append(claimed, claim)
	}
	for _, claim := range claimed {
		entry := position.CollateralFor(claim)
		entry.Asset.Amount = new(big.Int).Sub(entry.Asset.Amount, claim.Amount)
		if entry.Asset.Amount.Sign() == 0 {
			removeCollateral(position, claim)
		}
	}
	if err := e.putPosition(record.Owner, position); err != nil {
		return nil, err
	}
	if len(position.Collateral) == 0 && position.CreditAmount.Sign() == 0 {
		if err := e.removePosition(record.Owner, record.PositionID); err != nil {
			return nil, err
		}
	}

	if err := e.updateDebtTally(basket, repaid, false); err != nil {
		return nil, err
	}
	if err := e.updateTally(basket, claimed, false); err != nil {
		return nil, err
	}

	instructions := settleRepaid(basket, repaid)
	instructions = append(instructions, Distribution{
		To:           pool,
		Assets:       claimed,
		Owner:        record.Owner,
		PositionID:   record.PositionID,
		CreditRepaid: repaid,
	})
	if err := e.state.PutLiquidationPropagation(nil); err != nil {
		return nil, err
	}
	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}
	return instructions, nil
}

func ceilRat(r *big.Rat) *big.Int {
	out := new(big.Int).Quo(r.Num(), r.Denom())
	if new(big.Int).Mul(out, r.Denom()).Cmp(r.Num()) != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}
