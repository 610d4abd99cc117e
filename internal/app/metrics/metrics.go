package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "savings_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savings_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "savings_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "savings_layer",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome. result is ok or the error code.",
		},
		[]string{"operation", "result"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "savings_layer",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger operations including storage.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation"},
	)

	treasuryTvl = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "savings_layer",
		Subsystem: "treasury",
		Name:      "total_tvl",
		Help:      "Total value locked in base units.",
	})

	treasuryTvlCap = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "savings_layer",
		Subsystem: "treasury",
		Name:      "tvl_cap",
		Help:      "Configured TVL cap in base units.",
	})

	treasuryFees = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "savings_layer",
		Subsystem: "treasury",
		Name:      "fees_collected_total",
		Help:      "Cumulative platform fees in base units.",
	})

	treasuryBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "savings_layer",
		Subsystem: "treasury",
		Name:      "vault_balance",
		Help:      "Current treasury vault balance in base units.",
	})

	treasuryPaused = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "savings_layer",
		Subsystem: "treasury",
		Name:      "paused",
		Help:      "1 when deposits are paused.",
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		ledgerDuration,
		treasuryTvl,
		treasuryTvlCap,
		treasuryFees,
		treasuryBalance,
		treasuryPaused,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Paths are reported as mux route templates so owner ids do not explode the
// label space.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := routePath(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOperation records the outcome of a ledger operation. code is empty on
// success.
func RecordOperation(operation, code string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	result := "ok"
	if code != "" {
		result = code
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	ledgerOperations.WithLabelValues(operation, result).Inc()
	ledgerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TreasurySnapshot is the set of values exported as treasury gauges.
type TreasurySnapshot struct {
	TotalTvl           uint64
	TvlCap             uint64
	TotalFeesCollected uint64
	VaultBalance       uint64
	Paused             bool
}

// SetTreasury refreshes the treasury gauges.
func SetTreasury(s TreasurySnapshot) {
	treasuryTvl.Set(float64(s.TotalTvl))
	treasuryTvlCap.Set(float64(s.TvlCap))
	treasuryFees.Set(float64(s.TotalFeesCollected))
	treasuryBalance.Set(float64(s.VaultBalance))
	if s.Paused {
		treasuryPaused.Set(1)
	} else {
		treasuryPaused.Set(0)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
