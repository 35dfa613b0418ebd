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

// 操作結果標籤
const (
	OutcomeCommitted    = "committed"
	OutcomeInsufficient = "insufficient_funds"
	OutcomeRejected     = "rejected"
	OutcomeTimeout      = "timeout"
	OutcomeFault        = "fault"
)

var (
	// Registry holds the ledger's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "engine",
			Name:      "transfers_total",
			Help:      "Total number of transfer attempts by outcome.",
		},
		[]string{"outcome"},
	)

	transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "engine",
			Name:      "transfer_duration_seconds",
			Help:      "Duration of transfer units of work, lock waits included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"outcome"},
	)

	deposits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "engine",
			Name:      "deposits_total",
			Help:      "Total number of deposit attempts by outcome.",
		},
		[]string{"outcome"},
	)

	depositDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "engine",
			Name:      "deposit_duration_seconds",
			Help:      "Duration of deposit units of work.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	totalBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "audit",
			Name:      "total_balance",
			Help:      "Sum of all account balances at the last audit.",
		},
	)

	negativeAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "audit",
			Name:      "negative_accounts",
			Help:      "Accounts with a negative balance at the last audit. Must stay 0.",
		},
	)

	auditViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "audit",
			Name:      "violations_total",
			Help:      "Invariant violations detected by the audit job.",
		},
		[]string{"invariant"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		transfers,
		transferDuration,
		deposits,
		depositDuration,
		totalBalance,
		negativeAccounts,
		auditViolations,
		httpInFlight,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordTransfer 記錄一次轉帳
func RecordTransfer(outcome string, d time.Duration) {
	transfers.WithLabelValues(outcome).Inc()
	transferDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordDeposit 記錄一次存款
func RecordDeposit(outcome string, d time.Duration) {
	deposits.WithLabelValues(outcome).Inc()
	depositDuration.Observe(d.Seconds())
}

// SetBalanceSummary 更新稽核 gauge
func SetBalanceSummary(total, negative int64) {
	totalBalance.Set(float64(total))
	negativeAccounts.Set(float64(negative))
}

// RecordAuditViolation 記錄一次不變量違反
func RecordAuditViolation(invariant string) {
	auditViolations.WithLabelValues(invariant).Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
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

		path := r.URL.Path
		// 用 route template 避免 /transactions/{id} 造成標籤爆量
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
