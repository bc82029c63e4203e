package cdp

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	nativecommon "basketd/native/common"
)

const moduleName = "cdp"

// engineState is the persistence surface the engine mutates. Implementations
// must return deep-owned values; the engine treats loaded objects as private
// working copies until they are put back.
type engineState interface {
	GetBasket() (*Basket, error)
	PutBasket(basket *Basket) error
	GetPositions(owner string) ([]*Position, error)
	PutPositions(owner string, positions []*Position) error
	GetPrice(denom string) (*StoredPrice, error)
	PutPrice(denom string, price *StoredPrice) error
	GetWithdrawPropagation() (*WithdrawPropagation, error)
	PutWithdrawPropagation(record *WithdrawPropagation) error
	GetClosePropagation() (*ClosePositionPropagation, error)
	PutClosePropagation(record *ClosePositionPropagation) error
	GetLiquidationPropagation() (*LiquidationPropagation, error)
	PutLiquidationPropagation(record *LiquidationPropagation) error
}

// PriceQuote is a single oracle observation.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
}

// OracleSource resolves a time-weighted price for an asset denomination over
// the requested window.
type OracleSource interface {
	Price(denom string, window time.Duration) (PriceQuote, error)
}

// InterestAccruer applies the time and volatility indexed rate update to a
// position and the basket before the engine reads either. The engine calls it
// ahead of every mutating operation.
type InterestAccruer interface {
	Accrue(basket *Basket, position *Position, now time.Time) error
}

// BasketTally maintains the aggregate supply and debt counters checked
// against the basket's caps.
type BasketTally interface {
	UpdateBasketTally(basket *Basket, assets []Asset, add bool) error
	UpdateBasketDebt(basket *Basket, amount *big.Int, add bool) error
}

// PoolState reports an AMM pool's reserves and share issuance.
// PoolReserve is one pool leg as reported by the AMM proxy, with the token
// metadata carried into the registered collateral's pool info.
type PoolReserve struct {
	Asset    Asset
	Decimals uint8
	Weight   *big.Rat
}

type PoolState struct {
	Reserves    []PoolReserve
	ShareDenom  string
	ShareSupply *big.Int
}

// PoolSource exposes the AMM proxy queries used for LP valuation and
// decomposition.
type PoolSource interface {
	PoolState(poolID uint64) (PoolState, error)
}

// PriceAuditor receives every accepted oracle price for the audit trail.
type PriceAuditor interface {
	RecordAccepted(denom string, price *big.Rat, observed time.Time, limiterAdvanced bool)
}

// Engine owns the position lifecycle and solvency checks for one basket.
type Engine struct {
	state   engineState
	cfg     Config
	oracle  OracleSource
	accruer InterestAccruer
	tally   BasketTally
	pools   PoolSource
	audit   PriceAuditor
	pauses  nativecommon.PauseView
	nowFn   func() time.Time
}

// NewEngine constructs an engine with the supplied configuration.
func NewEngine(cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{cfg: cfg, nowFn: time.Now}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle configures the oracle collaborator consulted by the price cache.
func (e *Engine) SetOracle(oracle OracleSource) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetAccruer configures the interest accrual collaborator.
func (e *Engine) SetAccruer(accruer InterestAccruer) {
	if e == nil {
		return
	}
	e.accruer = accruer
}

// SetTally configures the basket tally collaborator.
func (e *Engine) SetTally(tally BasketTally) {
	if e == nil {
		return
	}
	e.tally = tally
}

// SetPoolSource configures the AMM proxy used for LP collateral.
func (e *Engine) SetPoolSource(pools PoolSource) {
	if e == nil {
		return
	}
	e.pools = pools
}

// SetPriceAuditor configures the optional accepted-price audit sink.
func (e *Engine) SetPriceAuditor(audit PriceAuditor) {
	if e == nil {
		return
	}
	e.audit = audit
}

// SetPauses wires the operational pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

// DepositResult reports the position a deposit landed in.
type DepositResult struct {
	PositionID uint64
}

// Deposit merges the supplied assets into an existing position, or opens a
// new one when positionID is zero. Deposits stay available while the basket
// is frozen. The position is reloaded from storage between assets so repeated
// entries of the same denomination in one call cannot double-count against a
// stale in-memory copy.
func (e *Engine) Deposit(owner string, positionID uint64, assets []Asset) (*DepositResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if strings.TrimSpace(owner) == "" || len(assets) == 0 {
		return nil, errInvalidAmount
	}
	basket, err := e.loadBasket()
	if err != nil {
		return nil, err
	}
	for _, asset := range assets {
		if asset.Amount == nil || asset.Amount.Sign() <= 0 {
			return nil, errInvalidAmount
		}
		if basket.CollateralType(asset) == nil {
			return nil, errInvalidCollateral
		}
	}

	if positionID == 0 {
		basket.CurrentPositionID++
		position := &Position{ID: basket.CurrentPositionID, Owner: owner, CreditAmount: big.NewInt(0)}
		for _, asset := range assets {
			mergeDeposit(basket, position, asset)
		}
		positions, err := e.state.GetPositions(owner)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
		if err := e.state.PutPositions(owner, positions); err != nil {
			return nil, err
		}
		if err := e.updateTally(basket, assets, true); err != nil {
			return nil, err
		}
		if err := e.state.PutBasket(basket); err != nil {
			return nil, err
		}
		return &DepositResult{PositionID: position.ID}, nil
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
	snapshot := collateralSnapshot(position)

	for _, asset := range assets {
		position, err = e.getPosition(owner, positionID)
		if err != nil {
			return nil, err
		}
		mergeDeposit(basket, position, asset)
		if err := e.putPosition(owner, position); err != nil {
			return nil, err
		}
	}

	reloaded, err := e.getPosition(owner, positionID)
	if err != nil {
		return nil, err
	}
	if !depositApplied(snapshot, assets, reloaded) {
		return nil, errStateBroken
	}
	if err := e.updateTally(basket, assets, true); err != nil {
		return nil, err
	}
	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}
	return &DepositResult{PositionID: positionID}, nil
}

// WithdrawResult carries the continuation identity and the transfer
// instruction raised by a withdrawal.
type WithdrawResult struct {
	ReplyID      string
	Instructions []Instruction
}

// Withdraw releases collateral from a position after proving the remainder
// still satisfies the borrow-time LTV ceiling against the current debt.
func (e *Engine) Withdraw(owner string, positionID uint64, assets []Asset, sendTo string) (*WithdrawResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, errInvalidAmount
	}
	basket, err := e.loadBasket()
	if err != nil {
		return nil, err
	}
	if basket.Frozen {
		return nil, errBasketFrozen
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
	if err := checkForExpunged(basket, position, assets); err != nil {
		return nil, err
	}
	prevCollateral := collateralSnapshot(position)

	for _, asset := range assets {
		if asset.Amount == nil || asset.Amount.Sign() <= 0 {
			return nil, errInvalidAmount
		}
		position, err = e.getPosition(owner, positionID)
		if err != nil {
			return nil, err
		}
		entry := position.CollateralFor(asset)
		if entry == nil || entry.Asset.Amount.Cmp(asset.Amount) < 0 {
			return nil, errInsufficientFunds
		}
		entry.Asset.Amount = new(big.Int).Sub(entry.Asset.Amount, asset.Amount)
		if entry.Asset.Amount.Sign() == 0 {
			removeCollateral(position, asset)
		}
		if err := e.putPosition(owner, position); err != nil {
			return nil, err
		}
	}

	position, err = e.getPosition(owner, positionID)
	if err != nil {
		return nil, err
	}
	if position.CreditAmount != nil && position.CreditAmount.Sign() > 0 {
		creditPrice, err := e.creditPrice(basket)
		if err != nil {
			return nil, err
		}
		res, err := e.insolvencyCheck(basket, position.Collateral, position.CreditAmount, creditPrice, ModeMaxBorrow)
		if err != nil {
			return nil, err
		}
		if res.Insolvent {
			return nil, errPositionInsolvent
		}
	}
	if len(position.Collateral) == 0 {
		if err := e.removePosition(owner, positionID); err != nil {
			return nil, err
		}
	}
	if err := e.updateTally(basket, assets, false); err != nil {
		return nil, err
	}

	recipient := strings.TrimSpace(sendTo)
	if recipient == "" {
		recipient = owner
	}
	record := &WithdrawPropagation{
		ReplyID:        uuid.NewString(),
		Owner:          owner,
		PositionID:     positionID,
		WithdrawAssets: cloneAssets(assets),
		PrevCollateral: prevCollateral,
		SendTo:         recipient,
	}
	if err := e.state.PutWithdrawPropagation(record); err != nil {
		return nil, err
	}
	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}
	return &WithdrawResult{
		ReplyID:      record.ReplyID,
		Instructions: []Instruction{BankSend{To: recipient, Assets: cloneAssets(assets)}},
	}, nil
}

// HandleWithdrawReply consumes the pending withdraw continuation once the
// bank send settles, cross-checking the reloaded position against the
// pre-withdrawal snapshot.
func (e *Engine) HandleWithdrawReply(replyID string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	record, err := e.state.GetWithdrawPropagation()
	if err != nil {
		return err
	}
	if record == nil {
		return errNoReplyPending
	}
	if record.ReplyID != replyID {
		return errReplyMismatch
	}
	position, err := e.findPosition(record.Owner, record.PositionID)
	if err != nil && err != errNoUserPositions {
		return err
	}
	key := func(a Asset) string { return string(a.Kind) + "/" + strings.ToLower(a.Denom) }
	totals := make(map[string]*big.Int, len(record.WithdrawAssets))
	for _, withdrawn := range record.WithdrawAssets {
		k := key(withdrawn)
		if prior, ok := totals[k]; ok {
			totals[k] = new(big.Int).Add(prior, withdrawn.Amount)
		} else {
			totals[k] = new(big.Int).Set(withdrawn.Amount)
		}
	}
	checked := make(map[string]bool, len(totals))
	for _, withdrawn := range record.WithdrawAssets {
		k := key(withdrawn)
		if checked[k] {
			continue
		}
		checked[k] = true
		var prev *big.Int
		for _, snap := range record.PrevCollateral {
			if snap.Equal(withdrawn) {
				prev = snap.Amount
				break
			}
		}
		if prev == nil {
			return errStateBroken
		}
		want := new(big.Int).Sub(prev, totals[k])
		var got *big.Int
		if position != nil {
			if entry := position.CollateralFor(withdrawn); entry != nil {
				got = entry.Asset.Amount
			}
		}
		if got == nil {
			got = big.NewInt(0)
		}
		if want.Cmp(got) != 0 {
			return errStateBroken
		}
	}
	return e.state.PutWithdrawPropagation(nil)
}

// Repay pays down a position's debt with credit asset. Overpayment is
// refunded as excess; a remainder valued below the basket minimum is rejected
// unless the registered router is repaying, since blocking slippage-driven
// over-repayment during liquidation would strand worse debt.
func (e *Engine) Repay(caller, owner string, positionID uint64, payment Asset, sendExcessTo string) ([]Instruction, error) {
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
	if !payment.Equal(basket.CreditAsset) || payment.Amount == nil || payment.Amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if strings.TrimSpace(owner) == "" {
		owner = caller
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
	prevDebt := new(big.Int).Set(position.CreditAmount)
	if prevDebt.Sign() == 0 {
		return nil, errInvalidAmount
	}

	repaid := new(big.Int).Set(payment.Amount)
	excess := big.NewInt(0)
	if repaid.Cmp(prevDebt) > 0 {
		excess = new(big.Int).Sub(repaid, prevDebt)
		repaid = new(big.Int).Set(prevDebt)
	}
	newDebt := new(big.Int).Sub(prevDebt, repaid)

	if newDebt.Sign() > 0 {
		creditPrice, err := e.creditPrice(basket)
		if err != nil {
			return nil, err
		}
		if belowMinimumDebt(newDebt, creditPrice, e.cfg.MinimumDebtValue) && !e.isRouter(caller) {
			return nil, errBelowMinimumDebt
		}
	}

	position.CreditAmount = newDebt
	if err := e.putPosition(owner, position); err != nil {
		return nil, err
	}

	reloaded, err := e.getPosition(owner, positionID)
	if err != nil {
		return nil, err
	}
	if reloaded.CreditAmount.Cmp(newDebt) != 0 {
		return nil, errStateBroken
	}
	if err := e.updateDebtTally(basket, repaid, false); err != nil {
		return nil, err
	}

	instructions := settleRepaid(basket, repaid)
	if excess.Sign() > 0 {
		refundTo := strings.TrimSpace(sendExcessTo)
		if refundTo == "" {
			refundTo = caller
		}
		refund := basket.CreditAsset.Clone()
		refund.Amount = excess
		instructions = append(instructions, BankSend{To: refundTo, Assets: []Asset{refund}})
	}
	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}
	return instructions, nil
}

// IncreaseDebt mints new credit against a position, either by an explicit
// amount or by solving for the amount that lifts the position to a target
// LTV. The borrow-time ceiling is enforced on the increased debt before the
// mint instruction is issued.
func (e *Engine) IncreaseDebt(owner string, positionID uint64, amount *big.Int, targetLTV *big.Rat, mintTo string) ([]Instruction, error) {
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
	if !basket.OracleSet {
		return nil, errOracleNotSet
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

	creditPrice, err := e.creditPrice(basket)
	if err != nil {
		return nil, err
	}
	ltv, err := e.avgLTV(basket, position.Collateral)
	if err != nil {
		return nil, err
	}

	if targetLTV != nil {
		amount, err = solveTargetDebt(position.CreditAmount, targetLTV, ltv, creditPrice)
		if err != nil {
			return nil, err
		}
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	newDebt := new(big.Int).Add(position.CreditAmount, amount)
	res, err := e.insolvencyCheck(basket, position.Collateral, newDebt, creditPrice, ModeMaxBorrow)
	if err != nil {
		return nil, err
	}
	if res.Insolvent {
		return nil, errPositionInsolvent
	}
	if belowMinimumDebt(newDebt, creditPrice, e.cfg.MinimumDebtValue) {
		return nil, errBelowMinimumDebt
	}

	position.CreditAmount = newDebt
	if err := e.putPosition(owner, position); err != nil {
		return nil, err
	}
	reloaded, err := e.getPosition(owner, positionID)
	if err != nil {
		return nil, err
	}
	if reloaded.CreditAmount.Cmp(newDebt) != 0 {
		return nil, errStateBroken
	}
	if err := e.updateDebtTally(basket, amount, true); err != nil {
		return nil, err
	}
	if err := e.state.PutBasket(basket); err != nil {
		return nil, err
	}

	recipient := strings.TrimSpace(mintTo)
	if recipient == "" {
		recipient = owner
	}
	minted := basket.CreditAsset.Clone()
	minted.Amount = new(big.Int).Set(amount)
	return []Instruction{Mint{To: recipient, Asset: minted}}, nil
}

// Position returns a copy of the owner's position.
func (e *Engine) Position(owner string, positionID uint64) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.getPosition(owner, positionID)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// Positions returns copies of all positions held by the owner.
func (e *Engine) Positions(owner string) ([]*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	positions, err := e.state.GetPositions(owner)
	if err != nil {
		return nil, err
	}
	out := make([]*Position, 0, len(positions))
	for _, position := range positions {
		out = append(out, position.Clone())
	}
	return out, nil
}

// Basket returns a copy of the basket configuration.
func (e *Engine) Basket() (*Basket, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	basket, err := e.loadBasket()
	if err != nil {
		return nil, err
	}
	return basket.Clone(), nil
}

func (e *Engine) loadBasket() (*Basket, error) {
	basket, err := e.state.GetBasket()
	if err != nil {
		return nil, err
	}
	if basket == nil {
		return nil, errBasketNotFound
	}
	if basket.PendingRevenue == nil {
		basket.PendingRevenue = big.NewInt(0)
	}
	if basket.CreditPrice == nil {
		basket.CreditPrice = new(big.Rat)
	}
	return basket, nil
}

func (e *Engine) getPosition(owner string, positionID uint64) (*Position, error) {
	position, err := e.findPosition(owner, positionID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, errPositionNotFound
	}
	if position.CreditAmount == nil {
		position.CreditAmount = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) findPosition(owner string, positionID uint64) (*Position, error) {
	positions, err := e.state.GetPositions(owner)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, errNoUserPositions
	}
	for _, position := range positions {
		if position.ID == positionID {
			return position, nil
		}
	}
	return nil, nil
}

func (e *Engine) putPosition(owner string, position *Position) error {
	positions, err := e.state.GetPositions(owner)
	if err != nil {
		return err
	}
	for i, entry := range positions {
		if entry.ID == position.ID {
			positions[i] = position
			return e.state.PutPositions(owner, positions)
		}
	}
	positions = append(positions, position)
	return e.state.PutPositions(owner, positions)
}

func (e *Engine) removePosition(owner string, positionID uint64) error {
	positions, err := e.state.GetPositions(owner)
	if err != nil {
		return err
	}
	kept := positions[:0]
	for _, entry := range positions {
		if entry.ID != positionID {
			kept = append(kept, entry)
		}
	}
	return e.state.PutPositions(owner, kept)
}

func (e *Engine) accrue(basket *Basket, position *Position) error {
	if e.accruer == nil {
		return nil
	}
	return e.accruer.Accrue(basket, position, e.now())
}

func (e *Engine) updateTally(basket *Basket, assets []Asset, add bool) error {
	if e.tally == nil {
		return nil
	}
	return e.tally.UpdateBasketTally(basket, assets, add)
}

func (e *Engine) updateDebtTally(basket *Basket, amount *big.Int, add bool) error {
	if e.tally == nil {
		return nil
	}
	return e.tally.UpdateBasketDebt(basket, amount, add)
}

func (e *Engine) isRouter(caller string) bool {
	router := strings.TrimSpace(e.cfg.Router)
	return router != "" && strings.EqualFold(strings.TrimSpace(caller), router)
}

// mergeDeposit folds one deposited asset into the position, inheriting the
// basket's risk parameters when the denomination is new to the position.
func mergeDeposit(basket *Basket, position *Position, asset Asset) {
	if entry := position.CollateralFor(asset); entry != nil {
		entry.Asset.Amount = new(big.Int).Add(entry.Asset.Amount, asset.Amount)
		return
	}
	registered := basket.CollateralType(asset)
	entry := registered.Clone()
	entry.Asset.Amount = new(big.Int).Set(asset.Amount)
	position.Collateral = append(position.Collateral, entry)
}

func removeCollateral(position *Position, asset Asset) {
	kept := position.Collateral[:0]
	for _, entry := range position.Collateral {
		if !entry.Asset.Equal(asset) {
			kept = append(kept, entry)
		}
	}
	position.Collateral = kept
}

func collateralSnapshot(position *Position) []Asset {
	snapshot := make([]Asset, 0, len(position.Collateral))
	for _, entry := range position.Collateral {
		snapshot = append(snapshot, entry.Asset.Clone())
	}
	return snapshot
}

func cloneAssets(assets []Asset) []Asset {
	out := make([]Asset, 0, len(assets))
	for _, asset := range assets {
		out = append(out, asset.Clone())
	}
	return out
}

// depositApplied verifies each deposited amount landed exactly once and no
// other holding moved.
func depositApplied(snapshot []Asset, deposited []Asset, position *Position) bool {
	expected := make(map[string]*big.Int, len(snapshot))
	key := func(a Asset) string { return string(a.Kind) + "/" + strings.ToLower(a.Denom) }
	for _, snap := range snapshot {
		expected[key(snap)] = new(big.Int).Set(snap.Amount)
	}
	for _, dep := range deposited {
		k := key(dep)
		if prior, ok := expected[k]; ok {
			expected[k] = new(big.Int).Add(prior, dep.Amount)
		} else {
			expected[k] = new(big.Int).Set(dep.Amount)
		}
	}
	if len(position.Collateral) != len(expected) {
		return false
	}
	for _, entry := range position.Collateral {
		want, ok := expected[key(entry.Asset)]
		if !ok || want.Cmp(entry.Asset.Amount) != 0 {
			return false
		}
	}
	return true
}

// checkForExpunged enforces the basket rule for zero-capped collateral: when
// the position holds an expunged denomination, the only permitted withdrawal
// is that single denomination, drained in full.
func checkForExpunged(basket *Basket, position *Position, requested []Asset) error {
	var expunged []*CollateralAsset
	for _, entry := range position.Collateral {
		cap := basket.SupplyCapFor(entry.Asset.Denom)
		if cap != nil && cap.CapRatio != nil && cap.CapRatio.Sign() == 0 {
			expunged = append(expunged, entry)
		}
	}
	if len(expunged) == 0 {
		return nil
	}
	if len(requested) != 1 {
		return errExpungedAsset
	}
	for _, entry := range expunged {
		if entry.Asset.Equal(requested[0]) {
			if requested[0].Amount == nil || requested[0].Amount.Cmp(entry.Asset.Amount) != 0 {
				return errExpungedAsset
			}
			return nil
		}
	}
	return errExpungedAsset
}

func belowMinimumDebt(debt *big.Int, creditPrice *big.Rat, minimum *big.Int) bool {
	if minimum == nil || minimum.Sign() == 0 {
		return false
	}
	value := new(big.Rat).Mul(new(big.Rat).SetInt(debt), creditPrice)
	return value.Cmp(new(big.Rat).SetInt(minimum)) < 0
}

// settleRepaid routes repaid principal through the burn and revenue split:
// up to the basket's pending revenue is deposited for stakers, the rest
// burned.
func settleRepaid(basket *Basket, repaid *big.Int) []Instruction {
	instructions := make([]Instruction, 0, 2)
	toRevenue := big.NewInt(0)
	if basket.RevToStakers && basket.PendingRevenue.Sign() > 0 {
		toRevenue = new(big.Int).Set(basket.PendingRevenue)
		if toRevenue.Cmp(repaid) > 0 {
			toRevenue = new(big.Int).Set(repaid)
		}
		basket.PendingRevenue = new(big.Int).Sub(basket.PendingRevenue, toRevenue)
	}
	toBurn := new(big.Int).Sub(repaid, toRevenue)
	if toBurn.Sign() > 0 {
		burned := basket.CreditAsset.Clone()
		burned.Amount = toBurn
		instructions = append(instructions, Burn{Asset: burned})
	}
	if toRevenue.Sign() > 0 {
		deposited := basket.CreditAsset.Clone()
		deposited.Amount = toRevenue
		instructions = append(instructions, RevenueDeposit{Asset: deposited})
	}
	return instructions
}

// solveTargetDebt converts a requested target LTV into the credit amount to
// mint on top of the current debt.
func solveTargetDebt(current *big.Int, target *big.Rat, ltv *AvgLTV, creditPrice *big.Rat) (*big.Int, error) {
	if target.Sign() <= 0 || target.Cmp(ltv.AvgBorrowLTV) > 0 {
		return nil, errTargetLTVOutOfRange
	}
	if creditPrice.Sign() == 0 {
		return nil, errOraclePriceInvalid
	}
	// debt' = target * totalValue / creditPrice
	desired := new(big.Rat).Mul(target, ltv.TotalValue)
	desired.Quo(desired, creditPrice)
	desiredInt := new(big.Int).Quo(desired.Num(), desired.Denom())
	if desiredInt.Cmp(current) <= 0 {
		return nil, errTargetLTVOutOfRange
	}
	return new(big.Int).Sub(desiredInt, current), nil
}
