package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	minted     *prometheus.CounterVec
	repaid     *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *oracleMetrics
)

// EngineMetrics returns the lazily-initialised registry recording ledger
// operation activity.
func EngineMetrics() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basketd",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operation handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			minted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "engine",
				Name:      "credit_minted_total",
				Help:      "Credit units minted through increase-debt, by denomination.",
			}, []string{"denom"}),
			repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "engine",
				Name:      "credit_repaid_total",
				Help:      "Credit units repaid, by denomination and repayment path.",
			}, []string{"denom", "path"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.latency,
			engineRegistry.minted,
			engineRegistry.repaid,
		)
	})
	return engineRegistry
}

// Observe records an operation's outcome and duration.
func (m *engineMetrics) Observe(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMint counts credit minted for a denomination.
func (m *engineMetrics) RecordMint(denom string, units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.minted.WithLabelValues(normalizeLabel(denom)).Add(units)
}

// RecordRepay counts credit repaid through the given path ("repay" or
// "liquidation").
func (m *engineMetrics) RecordRepay(denom, path string, units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.repaid.WithLabelValues(normalizeLabel(denom), normalizeLabel(path)).Add(units)
}

type oracleMetrics struct {
	breakerTrips   *prometheus.CounterVec
	cacheFallbacks *prometheus.CounterVec
	quoteFailures  *prometheus.CounterVec
}

// OracleMetrics returns the registry tracking the price feed's circuit
// breaker and cache behaviour.
func OracleMetrics() *oracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &oracleMetrics{
			breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "oracle",
				Name:      "breaker_trips_total",
				Help:      "Oracle quotes rejected by the volatility circuit breaker.",
			}, []string{"denom"}),
			cacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "oracle",
				Name:      "cache_fallbacks_total",
				Help:      "Price reads served from the cache after an oracle failure.",
			}, []string{"denom"}),
			quoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "oracle",
				Name:      "quote_failures_total",
				Help:      "Oracle queries that failed with no usable cached price.",
			}, []string{"denom"}),
		}
		prometheus.MustRegister(
			oracleRegistry.breakerTrips,
			oracleRegistry.cacheFallbacks,
			oracleRegistry.quoteFailures,
		)
	})
	return oracleRegistry
}

// RecordBreakerTrip counts a quote rejected by the volatility band.
func (m *oracleMetrics) RecordBreakerTrip(denom string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(normalizeLabel(denom)).Inc()
}

// RecordCacheFallback counts a cached price substituted for a failed query.
func (m *oracleMetrics) RecordCacheFallback(denom string) {
	if m == nil {
		return
	}
	m.cacheFallbacks.WithLabelValues(normalizeLabel(denom)).Inc()
}

// RecordQuoteFailure counts a hard price failure.
func (m *oracleMetrics) RecordQuoteFailure(denom string) {
	if m == nil {
		return
	}
	m.quoteFailures.WithLabelValues(normalizeLabel(denom)).Inc()
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
