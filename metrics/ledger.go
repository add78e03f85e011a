// Package metrics holds the Prometheus collectors for the ledger service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// LedgerMetrics records ledger operations. A nil *LedgerMetrics is valid and
// records nothing.
type LedgerMetrics struct {
	operations        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	consistencyAlerts prometheus.Counter
	snapshots         prometheus.Counter
	drift             prometheus.Gauge
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations by operation, transaction kind and outcome.",
	}, []string{"operation", "kind", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Latency of ledger operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	alerts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_consistency_alerts_total",
		Help: "Audit appends that failed after the balance mutation committed.",
	})
	snapshots := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_snapshots_written_total",
		Help: "Daily snapshots upserted by the aggregator.",
	})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_reconcile_drift_pairs",
		Help: "Balance pairs whose counters disagree with the audit trail at the last reconciliation.",
	})
	reg.MustRegister(operations, duration, alerts, snapshots, drift)
	return &LedgerMetrics{
		operations:        operations,
		duration:          duration,
		consistencyAlerts: alerts,
		snapshots:         snapshots,
		drift:             drift,
	}
}

func (m *LedgerMetrics) ObserveOperation(operation, kind, outcome string, d time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(kind), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}

func (m *LedgerMetrics) IncConsistencyAlert() {
	if m == nil || m.consistencyAlerts == nil {
		return
	}
	m.consistencyAlerts.Inc()
}

func (m *LedgerMetrics) AddSnapshots(n int) {
	if m == nil || m.snapshots == nil || n <= 0 {
		return
	}
	m.snapshots.Add(float64(n))
}

func (m *LedgerMetrics) SetDriftPairs(n int) {
	if m == nil || m.drift == nil {
		return
	}
	m.drift.Set(float64(n))
}
