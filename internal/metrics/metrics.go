// Package metrics provides Prometheus instrumentation for the EOD engine.
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
	// RunsTotal counts EOD runs, partitioned by final status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eod_runs_total",
		Help: "Total number of EOD runs",
	}, []string{"status"})

	// RunDuration tracks end-to-end EOD run duration.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eod_run_duration_seconds",
		Help:    "EOD run duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// StepDuration tracks per-step duration within a run.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eod_step_duration_seconds",
		Help:    "EOD step duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"step"})

	// BalanceTradesTotal counts balance trades generated per currency pair.
	BalanceTradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eod_balance_trades_total",
		Help: "Balance trades generated by rebalancing",
	}, []string{"pair"})

	// MarginRowsTotal counts participant margin rows produced.
	MarginRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eod_participant_margin_rows_total",
		Help: "Participant margin rows produced",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eod_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eod_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eod_http_request_duration_seconds",
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
