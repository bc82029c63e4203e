package cdp

import "errors"

var (
	errNilState            = errors.New("cdp engine: state not configured")
	errBasketNotFound      = errors.New("cdp engine: basket not initialised")
	errBasketExists        = errors.New("cdp engine: basket already created")
	errBasketFrozen        = errors.New("cdp engine: basket frozen")
	errPositionNotFound    = errors.New("cdp engine: position does not exist")
	errNoUserPositions     = errors.New("cdp engine: no positions for owner")
	errInvalidAmount       = errors.New("cdp engine: amount must be positive")
	errInvalidCollateral   = errors.New("cdp engine: collateral not accepted by basket")
	errInsufficientFunds   = errors.New("cdp engine: withdrawal exceeds held collateral")
	errPositionInsolvent   = errors.New("cdp engine: position insolvent")
	errPositionSolvent     = errors.New("cdp engine: position not liquidatable")
	errBelowMinimumDebt    = errors.New("cdp engine: remaining debt below basket minimum")
	errUnauthorized        = errors.New("cdp engine: unauthorized caller")
	errStateBroken         = errors.New("cdp engine: state mismatch after operation")
	errOracleNotSet        = errors.New("cdp engine: basket oracle not set")
	errOraclePriceInvalid  = errors.New("cdp engine: oracle price invalid")
	errPriceVolatility     = errors.New("cdp engine: price outside volatility band")
	errExpungedAsset       = errors.New("cdp engine: expunged collateral must be withdrawn alone and in full")
	errInvalidLTVOrdering  = errors.New("cdp engine: max borrow LTV must be below max LTV, both below 100%")
	errTargetLTVOutOfRange = errors.New("cdp engine: target LTV outside allowed range")
	errNoReplyPending      = errors.New("cdp engine: no continuation record pending")
	errReplyMismatch       = errors.New("cdp engine: reply does not match pending continuation record")
	errPoolAssetMissing    = errors.New("cdp engine: LP underlying asset not registered in basket")
	errZeroShareSupply     = errors.New("cdp engine: pool reports zero share supply")
)

// ErrorKind buckets engine failures so transport layers can map them to
// status codes without depending on individual sentinels.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindSolvency
	KindAuthorization
	KindOracle
	KindNotFound
	KindConflict
)

// Classify reports which failure bucket an engine error belongs to.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, errInvalidAmount),
		errors.Is(err, errInvalidCollateral),
		errors.Is(err, errInsufficientFunds),
		errors.Is(err, errExpungedAsset),
		errors.Is(err, errInvalidLTVOrdering),
		errors.Is(err, errTargetLTVOutOfRange),
		errors.Is(err, errZeroShareSupply),
		errors.Is(err, errPoolAssetMissing):
		return KindValidation
	case errors.Is(err, errPositionInsolvent),
		errors.Is(err, errPositionSolvent),
		errors.Is(err, errBelowMinimumDebt):
		return KindSolvency
	case errors.Is(err, errUnauthorized),
		errors.Is(err, errBasketFrozen):
		return KindAuthorization
	case errors.Is(err, errOracleNotSet),
		errors.Is(err, errOraclePriceInvalid),
		errors.Is(err, errPriceVolatility):
		return KindOracle
	case errors.Is(err, errBasketNotFound),
		errors.Is(err, errPositionNotFound),
		errors.Is(err, errNoUserPositions),
		errors.Is(err, errNoReplyPending):
		return KindNotFound
	case errors.Is(err, errBasketExists),
		errors.Is(err, errReplyMismatch):
		return KindConflict
	default:
		return KindInternal
	}
}
