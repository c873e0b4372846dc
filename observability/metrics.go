package observability

import (
	"math"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type protocolMetrics struct {
	actions         *prometheus.CounterVec
	liquidations    *prometheus.CounterVec
	writeOffs       prometheus.Counter
	poolDeposits    *prometheus.GaugeVec
	poolBorrows     *prometheus.GaugeVec
	poolUtilisation *prometheus.GaugeVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	protocolMetricsOnce sync.Once
	protocolRegistry    *protocolMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record RPC
// activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total RPC requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total RPC errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "isolend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "ok"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// Throttle records a rate-limited request.
func (m *rpcMetrics) Throttle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(route).Inc()
}

// ProtocolMetrics returns the registry tracking lending activity.
func ProtocolMetrics() *protocolMetrics {
	protocolMetricsOnce.Do(func() {
		protocolRegistry = &protocolMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "protocol",
				Name:      "actions_total",
				Help:      "Count of processed position actions by operation and outcome.",
			}, []string{"op", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "protocol",
				Name:      "liquidations_total",
				Help:      "Count of liquidation attempts by outcome.",
			}, []string{"outcome"}),
			writeOffs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "protocol",
				Name:      "bad_debt_writeoffs_total",
				Help:      "Count of bad debt write-offs socialised to lenders.",
			}),
			poolDeposits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "isolend",
				Subsystem: "pool",
				Name:      "deposit_assets",
				Help:      "Deposit-side total assets per market.",
			}, []string{"market"}),
			poolBorrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "isolend",
				Subsystem: "pool",
				Name:      "borrow_assets",
				Help:      "Borrow-side total assets per market.",
			}, []string{"market"}),
			poolUtilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "isolend",
				Subsystem: "pool",
				Name:      "utilisation",
				Help:      "Borrowed over deposited per market.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			protocolRegistry.actions,
			protocolRegistry.liquidations,
			protocolRegistry.writeOffs,
			protocolRegistry.poolDeposits,
			protocolRegistry.poolBorrows,
			protocolRegistry.poolUtilisation,
		)
	})
	return protocolRegistry
}

// RecordAction counts one processed position action.
func (m *protocolMetrics) RecordAction(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.actions.WithLabelValues(op, outcome).Inc()
}

// RecordLiquidation counts one liquidation attempt.
func (m *protocolMetrics) RecordLiquidation(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.liquidations.WithLabelValues(outcome).Inc()
}

// RecordWriteOff counts one bad debt write-off.
func (m *protocolMetrics) RecordWriteOff() {
	if m == nil {
		return
	}
	m.writeOffs.Inc()
}

// RecordPool refreshes the per-market gauges.
func (m *protocolMetrics) RecordPool(market string, deposited, borrowed *big.Int) {
	if m == nil {
		return
	}
	dep := approxFloat(deposited)
	bor := approxFloat(borrowed)
	m.poolDeposits.WithLabelValues(market).Set(dep)
	m.poolBorrows.WithLabelValues(market).Set(bor)
	if dep > 0 {
		m.poolUtilisation.WithLabelValues(market).Set(bor / dep)
	} else {
		m.poolUtilisation.WithLabelValues(market).Set(0)
	}
}

func approxFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
