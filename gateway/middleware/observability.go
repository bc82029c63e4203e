package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"basketd/observability/logging"
)

type requestMetrics struct {
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var (
	requestMetricsOnce sync.Once
	requestRegistry    *requestMetrics
)

func httpMetrics() *requestMetrics {
	requestMetricsOnce.Do(func() {
		requestRegistry = &requestMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basketd",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "HTTP requests processed, segmented by method and status.",
			}, []string{"method", "status"}),
			durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basketd",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(requestRegistry.requests, requestRegistry.durations)
	})
	return requestRegistry
}

// Observability instruments requests with latency and status metrics and an
// optional structured access log.
type Observability struct {
	logger      *slog.Logger
	logRequests bool
}

func NewObservability(logger *slog.Logger, logRequests bool) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observability{logger: logger, logRequests: logRequests}
}

func (o *Observability) Middleware() func(http.Handler) http.Handler {
	metrics := httpMetrics()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			elapsed := time.Since(start)
			metrics.requests.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
			metrics.durations.WithLabelValues(r.Method).Observe(elapsed.Seconds())
			if o != nil && o.logRequests {
				o.logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", recorder.status,
					"duration_ms", elapsed.Milliseconds(),
					logging.MaskField("api_key", r.Header.Get("X-API-Key")),
				)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
