package cdp

import (
	"math/big"
	"time"

	"basketd/observability"
)

// GetPrice resolves the asset's price through the oracle, guarded by the
// volatility circuit breaker and backed by the stored price cache.
//
// A fresh oracle quote is rejected outright when it moves 20% (configured)
// in either direction against the volatility limiter reference price: that
// is a manipulation or bug guard, so the move surfaces as a hard failure
// rather than being clamped. The limiter reference itself only advances once
// its configured interval has elapsed, decoupling price freshness from the
// volatility baseline. When the oracle query fails the cached price is
// served as long as it is within the oracle time limit; beyond that the
// whole calling operation fails.
func (e *Engine) GetPrice(denom string, window time.Duration) (*big.Rat, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.oracle == nil {
		return nil, errOraclePriceInvalid
	}
	now := e.now()
	stored, err := e.state.GetPrice(denom)
	if err != nil {
		return nil, err
	}

	quote, oracleErr := e.oracle.Price(denom, window)
	if oracleErr != nil {
		if stored != nil && now.Unix()-stored.LastUpdated <= int64(e.cfg.OracleTimeLimitSeconds) {
			observability.OracleMetrics().RecordCacheFallback(denom)
			return new(big.Rat).Set(stored.Price), nil
		}
		observability.OracleMetrics().RecordQuoteFailure(denom)
		return nil, errOraclePriceInvalid
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return nil, errOraclePriceInvalid
	}

	if stored != nil && stored.VolLimiter.Price != nil && stored.VolLimiter.Price.Sign() > 0 {
		if outsideVolatilityBand(quote.Rate, stored.VolLimiter.Price, e.cfg.VolatilityBandBps) {
			observability.OracleMetrics().RecordBreakerTrip(denom)
			return nil, errPriceVolatility
		}
	}

	fresh := &StoredPrice{
		Price:       new(big.Rat).Set(quote.Rate),
		LastUpdated: now.Unix(),
	}
	limiterAdvanced := true
	if stored != nil && stored.VolLimiter.Price != nil {
		age := now.Unix() - stored.VolLimiter.LastUpdated
		if age < int64(e.cfg.VolLimiterIntervalSeconds) {
			fresh.VolLimiter = VolLimiterPrice{
				Price:       new(big.Rat).Set(stored.VolLimiter.Price),
				LastUpdated: stored.VolLimiter.LastUpdated,
			}
			limiterAdvanced = false
		}
	}
	if limiterAdvanced {
		fresh.VolLimiter = VolLimiterPrice{
			Price:       new(big.Rat).Set(quote.Rate),
			LastUpdated: now.Unix(),
		}
	}
	if err := e.state.PutPrice(denom, fresh); err != nil {
		return nil, err
	}
	if e.audit != nil {
		observed := quote.Timestamp
		if observed.IsZero() {
			observed = now
		}
		e.audit.RecordAccepted(denom, quote.Rate, observed, limiterAdvanced)
	}
	return new(big.Rat).Set(quote.Rate), nil
}

// CachedPrice returns the stored price for the denomination, or nil when the
// cache has never been filled.
func (e *Engine) CachedPrice(denom string) (*StoredPrice, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	stored, err := e.state.GetPrice(denom)
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// outsideVolatilityBand reports whether next moved at least bandBps in
// either direction from the reference.
func outsideVolatilityBand(next, reference *big.Rat, bandBps uint64) bool {
	band := ratFromBps(bandBps)
	upper := new(big.Rat).Mul(reference, new(big.Rat).Add(ratOne, band))
	lower := new(big.Rat).Mul(reference, new(big.Rat).Sub(ratOne, band))
	return next.Cmp(upper) >= 0 || next.Cmp(lower) <= 0
}
