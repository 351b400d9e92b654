// Package metrics provides Prometheus instrumentation for the protocol
// core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PriceSubmissions counts submissions by outcome ("accepted" or the
	// rejection reason).
	PriceSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthex_price_submissions_total",
		Help: "Price submissions by outcome",
	}, []string{"outcome"})

	// CurrentPrice mirrors the committed price in micro-units.
	CurrentPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthex_current_price_micros",
		Help: "Last committed price in micro-units",
	})

	// CircuitBreaker is 1 while the breaker is tripped.
	CircuitBreaker = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthex_circuit_breaker",
		Help: "Circuit breaker state (1 = tripped)",
	})

	// Liquidations counts executed liquidations.
	Liquidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synthex_liquidations_total",
		Help: "Executed liquidations",
	})

	// LiquidationPool mirrors the accumulated protocol fees.
	LiquidationPool = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthex_liquidation_pool_micros",
		Help: "Liquidation pool balance in micro-units",
	})

	// Rebalances counts executed rebalances.
	Rebalances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synthex_rebalances_total",
		Help: "Executed rebalances",
	})

	// YieldPool mirrors the accumulated yield.
	YieldPool = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthex_yield_pool_micros",
		Help: "Yield pool balance in micro-units",
	})

	// SystemHealth mirrors the controller-set health gauge in bps.
	SystemHealth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthex_system_health_bps",
		Help: "System health gauge in basis points",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synthex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is a fixed,
		// low-cardinality set of routes.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
