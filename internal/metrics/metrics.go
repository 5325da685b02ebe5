// Package metrics provides Prometheus instrumentation for the market engine.
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
	// BetsTotal counts accepted bets, partitioned by option.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chipcast_bets_total",
		Help: "Total number of bets accepted",
	}, []string{"option"})

	// BetVolume tracks cumulative staked CHIPS per option.
	BetVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chipcast_bet_volume_chips_total",
		Help: "Cumulative bet volume in CHIPS",
	}, []string{"option"})

	// MarketsResolved counts resolutions, partitioned by outcome.
	MarketsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chipcast_markets_resolved_total",
		Help: "Total number of markets resolved",
	}, []string{"outcome"})

	// MarketsClosed counts markets closed by the end-date sweeper.
	MarketsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chipcast_markets_closed_total",
		Help: "Markets closed after their end date",
	})

	// PayoutVolume tracks cumulative CHIPS credited to winners.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chipcast_payout_volume_chips_total",
		Help: "Cumulative payout volume in CHIPS",
	})

	// OpenMarkets tracks the number of markets accepting bets.
	OpenMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chipcast_open_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chipcast_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chipcast_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chipcast_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
