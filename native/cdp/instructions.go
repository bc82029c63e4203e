package cdp

import "math/big"

// Instruction is an effect the engine asks its host to carry out. The engine
// never moves tokens itself: every transfer, mint, burn, swap and pool exit
// is surfaced as an instruction and executed by the surrounding runtime,
// which reports completion through the reply handlers.
type Instruction interface {
	instruction()
}

// BankSend transfers native assets to a recipient address.
type BankSend struct {
	To     string
	Assets []Asset
}

// Mint issues credit asset to the recipient.
type Mint struct {
	To    string
	Asset Asset
}

// Burn destroys repaid credit principal.
type Burn struct {
	Asset Asset
}

// RevenueDeposit diverts repaid credit into the staking revenue pool instead
// of burning it, up to the basket's pending revenue.
type RevenueDeposit struct {
	Asset Asset
}

// RepayHook is attached to router swaps so sale proceeds flow straight back
// into the originating position's debt.
type RepayHook struct {
	Owner        string
	PositionID   uint64
	SendExcessTo string
}

// RouterSwap sells collateral through the swap router. The hook message calls
// back into the engine's repay entry point with the proceeds.
type RouterSwap struct {
	Sell      Asset
	BuyDenom  string
	MaxSpread *big.Rat
	Hook      RepayHook
}

// PoolExit redeems an LP share amount for the pool's underlying assets ahead
// of routing each underlying individually.
type PoolExit struct {
	PoolID     uint64
	ShareAsset Asset
}

// Distribution forwards seized collateral to the stability pool after a
// liquidation repay settles.
type Distribution struct {
	To           string
	Assets       []Asset
	Owner        string
	PositionID   uint64
	CreditRepaid *big.Int
}

// QueueRegistration registers a collateral type with the liquidation queue,
// capping bid premiums below the stability pool's liquidation fee.
type QueueRegistration struct {
	Queue         string
	Asset         Asset
	MaxPremiumBps uint64
}

func (BankSend) instruction()          {}
func (Mint) instruction()              {}
func (Burn) instruction()              {}
func (RevenueDeposit) instruction()    {}
func (RouterSwap) instruction()        {}
func (PoolExit) instruction()          {}
func (Distribution) instruction()      {}
func (QueueRegistration) instruction() {}
