package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type instructionMetrics struct {
	issued *prometheus.CounterVec
}

var (
	instructionMetricsOnce sync.Once
	instructionRegistry    *instructionMetrics
)

// Instructions returns the metrics registry tracking effects handed to the
// host for execution.
func Instructions() *instructionMetrics {
	instructionMetricsOnce.Do(func() {
		instructionRegistry = &instructionMetrics{
			issued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "engine",
				Name:      "instructions_total",
				Help:      "Instructions issued to the host, segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(instructionRegistry.issued)
	})
	return instructionRegistry
}

// RecordIssued increments the instruction counter for the given kind.
func (m *instructionMetrics) RecordIssued(kind string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(kind))
	if normalized == "" {
		normalized = "unknown"
	}
	m.issued.WithLabelValues(normalized).Inc()
}
