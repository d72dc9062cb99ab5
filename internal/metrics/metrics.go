// Package metrics exposes Prometheus instrumentation and a health endpoint
// for the rotation service.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the rotation service.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram

	ExitsTotal   *prometheus.CounterVec // labels: action
	ExitFailures *prometheus.CounterVec // labels: action
	EntriesTotal prometheus.Counter

	RealizedPnL   prometheus.Gauge // cumulative net PnL, signed
	OpenPositions prometheus.Gauge
	Equity        prometheus.Gauge

	OrderRetries   prometheus.Counter
	BreakerTrips   *prometheus.CounterVec // labels: symbol
	SymbolsSkipped prometheus.Counter
}

// NewMetrics registers and returns all rotation service metrics on a fresh
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rotator_cycles_total",
			Help: "Total rotation cycles completed",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rotator_cycle_duration_seconds",
			Help:    "Wall-clock duration of one rotation cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotator_exits_total",
			Help: "Executed exits by action",
		}, []string{"action"}),
		ExitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotator_exit_failures_total",
			Help: "Exit attempts that failed after retries, by action",
		}, []string{"action"}),
		EntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rotator_entries_total",
			Help: "Executed entries",
		}),

		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotator_realized_pnl_quote",
			Help: "Cumulative realized net PnL in quote terms",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotator_open_positions",
			Help: "Open positions after the latest cycle",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotator_equity_quote",
			Help: "Portfolio equity (cash plus position value) in quote terms",
		}),

		OrderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rotator_order_retries_total",
			Help: "Order placements retried after a transient failure",
		}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotator_breaker_trips_total",
			Help: "Times a symbol's circuit breaker tripped open",
		}, []string{"symbol"}),
		SymbolsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rotator_symbols_skipped_total",
			Help: "Symbols skipped in a cycle due to bad data or open breakers",
		}),
	}

	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.ExitsTotal,
		m.ExitFailures,
		m.EntriesTotal,
		m.RealizedPnL,
		m.OpenPositions,
		m.Equity,
		m.OrderRetries,
		m.BreakerTrips,
		m.SymbolsSkipped,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	ExchangeOK  bool
	DBOK        bool
	LastCycleAt time.Time
	StartedAt   time.Time

	DBLatencyMs float64
	LastCheckAt time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetExchangeOK(v bool) {
	h.mu.Lock()
	h.ExchangeOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycleAt(t time.Time) {
	h.mu.Lock()
	h.LastCycleAt = t
	h.mu.Unlock()
}

// CheckDB pings the database and records latency and health.
func (h *HealthStatus) CheckDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DBOK = err == nil
	h.DBLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.ExchangeOK || !h.DBOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = time.Since(h.LastCycleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status      string  `json:"status"`
		Uptime      string  `json:"uptime"`
		ExchangeOK  bool    `json:"exchange_ok"`
		DBOK        bool    `json:"db_ok"`
		DBLatencyMs float64 `json:"db_latency_ms"`
		LastCycleAt string  `json:"last_cycle_at"`
		CycleAge    string  `json:"cycle_age"`
	}{
		Status:      overall,
		Uptime:      time.Since(h.StartedAt).Round(time.Second).String(),
		ExchangeOK:  h.ExchangeOK,
		DBOK:        h.DBOK,
		DBLatencyMs: h.DBLatencyMs,
		LastCycleAt: h.LastCycleAt.Format(time.RFC3339),
		CycleAge:    cycleAge,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the HTTP server in a goroutine. Errors other than a clean
// shutdown are reported through errFn.
func (s *Server) Start(errFn func(error)) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errFn != nil {
				errFn(err)
			}
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
