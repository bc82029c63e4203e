package cdp

import "math/big"

// Config captures the runtime configuration for the cdp engine. Values are
// loaded from the daemon's TOML config and normalised through EnsureDefaults
// before the engine starts.
type Config struct {
	// Owner may create and edit the basket.
	Owner string `toml:"Owner"`
	// Router is the swap router allowed to over-repay past the debt minimum
	// during liquidation settlement.
	Router string `toml:"Router"`
	// StabilityPool is the sole address allowed to call LiqRepay.
	StabilityPool string `toml:"StabilityPool"`
	// LiquidationQueue receives collateral registrations at basket creation.
	LiquidationQueue string `toml:"LiquidationQueue"`

	// OracleTimeLimitSeconds bounds how stale a cached price may be before
	// an oracle outage fails the operation instead of falling back.
	OracleTimeLimitSeconds uint64 `toml:"OracleTimeLimitSeconds"`
	// CollateralTWAPMinutes is the oracle averaging window for collateral.
	CollateralTWAPMinutes uint64 `toml:"CollateralTWAPMinutes"`
	// CreditTWAPMinutes is the longer averaging window for the credit asset.
	CreditTWAPMinutes uint64 `toml:"CreditTWAPMinutes"`
	// VolatilityBandBps is the allowed move against the volatility limiter
	// reference before a quote is rejected outright.
	VolatilityBandBps uint64 `toml:"VolatilityBandBps"`
	// VolLimiterIntervalSeconds is the minimum age of the limiter reference
	// before it advances to the latest accepted price.
	VolLimiterIntervalSeconds uint64 `toml:"VolLimiterIntervalSeconds"`

	// MinimumDebtValue is the smallest permitted nonzero debt, valued in
	// credit price units.
	MinimumDebtValue *big.Int `toml:"MinimumDebtValue"`
	// DefaultLiqPremiumBps is the queue premium used when the derived
	// premium would underflow.
	DefaultLiqPremiumBps uint64 `toml:"DefaultLiqPremiumBps"`
}

const (
	defaultOracleTimeLimitSeconds    = 600
	defaultCollateralTWAPMinutes     = 20
	defaultCreditTWAPMinutes         = 60
	defaultVolatilityBandBps         = 2000
	defaultVolLimiterIntervalSeconds = 300
	defaultLiqPremiumBps             = 1000
)

// EnsureDefaults populates zero fields with the protocol defaults.
func (c *Config) EnsureDefaults() {
	if c.OracleTimeLimitSeconds == 0 {
		c.OracleTimeLimitSeconds = defaultOracleTimeLimitSeconds
	}
	if c.CollateralTWAPMinutes == 0 {
		c.CollateralTWAPMinutes = defaultCollateralTWAPMinutes
	}
	if c.CreditTWAPMinutes == 0 {
		c.CreditTWAPMinutes = defaultCreditTWAPMinutes
	}
	if c.VolatilityBandBps == 0 {
		c.VolatilityBandBps = defaultVolatilityBandBps
	}
	if c.VolLimiterIntervalSeconds == 0 {
		c.VolLimiterIntervalSeconds = defaultVolLimiterIntervalSeconds
	}
	if c.MinimumDebtValue == nil {
		c.MinimumDebtValue = big.NewInt(0)
	}
	if c.DefaultLiqPremiumBps == 0 {
		c.DefaultLiqPremiumBps = defaultLiqPremiumBps
	}
}
