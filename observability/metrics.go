package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// LendingMetrics captures counters for the lending ledger.
type LendingMetrics struct {
	actions      *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	totalBorrows prometheus.Gauge
}

// NewLendingMetrics builds an unregistered metrics set. Most callers should use
// Lending, which registers the collectors with the default registry once.
func NewLendingMetrics() *LendingMetrics {
	return &LendingMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendledger",
			Subsystem: "lending",
			Name:      "actions_total",
			Help:      "Count of lending actions segmented by action and outcome.",
		}, []string{"action", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lendledger",
			Subsystem: "lending",
			Name:      "action_duration_seconds",
			Help:      "Latency distribution for lending actions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendledger",
			Subsystem: "lending",
			Name:      "liquidations_total",
			Help:      "Count of settled liquidations segmented by settlement path.",
		}, []string{"path"}),
		totalBorrows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lendledger",
			Subsystem: "lending",
			Name:      "total_borrows",
			Help:      "Outstanding stable principal across all accounts (float approximation).",
		}),
	}
}

// Collectors lists every collector so callers can register with a custom
// registry.
func (m *LendingMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.actions, m.latency, m.liquidations, m.totalBorrows}
}

// Lending returns the singleton metrics registry for the lending ledger.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = NewLendingMetrics()
		prometheus.MustRegister(lendingRegistry.Collectors()...)
	})
	return lendingRegistry
}

// ObserveAction records the outcome of a lending action. Outcomes should be
// stable strings such as "success" or "insufficient_balance".
func (m *LendingMetrics) ObserveAction(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		action = "unknown"
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordLiquidation increments the liquidation counter for the settlement path.
func (m *LendingMetrics) RecordLiquidation(path string) {
	if m == nil {
		return
	}
	if path = strings.TrimSpace(path); path == "" {
		path = "unknown"
	}
	m.liquidations.WithLabelValues(path).Inc()
}

// SetTotalBorrows publishes the outstanding borrow total.
func (m *LendingMetrics) SetTotalBorrows(total *big.Int) {
	if m == nil {
		return
	}
	if total == nil {
		m.totalBorrows.Set(0)
		return
	}
	value, _ := new(big.Float).SetInt(total).Float64()
	if math.IsInf(value, 0) {
		value = math.MaxFloat64
	}
	m.totalBorrows.Set(value)
}

// ActionCounter exposes the counter for one action/outcome pair.
func (m *LendingMetrics) ActionCounter(action, outcome string) prometheus.Counter {
	return m.actions.WithLabelValues(action, outcome)
}

// LiquidationCounter exposes the counter for one settlement path.
func (m *LendingMetrics) LiquidationCounter(path string) prometheus.Counter {
	return m.liquidations.WithLabelValues(path)
}

// TotalBorrowsGauge exposes the outstanding borrow gauge.
func (m *LendingMetrics) TotalBorrowsGauge() prometheus.Gauge {
	return m.totalBorrows
}
