// Package metrics exposes the Prometheus collectors the core records
// during gate evaluation, ledger writes, and chain verification.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/control-plane/governor/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors the core records against.
type Metrics struct {
	GatesEvaluatedTotal *prometheus.CounterVec
	GateFailuresTotal   *prometheus.CounterVec

	LedgerEntriesTotal   *prometheus.CounterVec
	LedgerSegmentsTotal  *prometheus.CounterVec
	LedgerSegmentBytes   prometheus.Gauge
	LedgerWriteDuration  *prometheus.HistogramVec

	ChainVerifyDuration *prometheus.HistogramVec
	ChainVerifyIssues   *prometheus.CounterVec

	ChainOpsTotal *prometheus.CounterVec

	ServiceInfo *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default
// Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry,
// allowing tests to avoid colliding with the global default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		GatesEvaluatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_gates_evaluated_total",
				Help: "Total number of gate evaluations by gate and result",
			},
			[]string{"service", "gate", "result"},
		),
		GateFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_gate_failures_total",
				Help: "Total number of failed gate evaluations by gate",
			},
			[]string{"service", "gate"},
		),
		LedgerEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_ledger_entries_total",
				Help: "Total number of ledger entries appended by event type",
			},
			[]string{"service", "event_type"},
		),
		LedgerSegmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_ledger_segments_rotated_total",
				Help: "Total number of ledger segment rotations by reason",
			},
			[]string{"service", "reason"},
		),
		LedgerSegmentBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "governor_ledger_active_segment_bytes",
				Help: "Size in bytes of the active ledger segment",
			},
		),
		LedgerWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governor_ledger_write_duration_seconds",
				Help:    "Ledger append duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service"},
		),
		ChainVerifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "governor_chain_verify_duration_seconds",
				Help:    "Chain verification pass duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"service"},
		),
		ChainVerifyIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_chain_verify_issues_total",
				Help: "Total number of issues found during chain verification by kind",
			},
			[]string{"service", "kind"},
		),
		ChainOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_chain_ops_total",
				Help: "Total number of chain operations (summarize-up/push-policy/apply-policy) by outcome",
			},
			[]string{"service", "op", "outcome"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "governor_service_info",
				Help: "Service build/environment information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.GatesEvaluatedTotal,
			m.GateFailuresTotal,
			m.LedgerEntriesTotal,
			m.LedgerSegmentsTotal,
			m.LedgerSegmentBytes,
			m.LedgerWriteDuration,
			m.ChainVerifyDuration,
			m.ChainVerifyIssues,
			m.ChainOpsTotal,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordGate records the outcome of one gate evaluation.
func (m *Metrics) RecordGate(service, gate string, passed bool) {
	result := "pass"
	if !passed {
		result = "fail"
		m.GateFailuresTotal.WithLabelValues(service, gate).Inc()
	}
	m.GatesEvaluatedTotal.WithLabelValues(service, gate, result).Inc()
}

// RecordLedgerEntry records a single ledger append and its duration.
func (m *Metrics) RecordLedgerEntry(service, eventType string, duration time.Duration) {
	m.LedgerEntriesTotal.WithLabelValues(service, eventType).Inc()
	m.LedgerWriteDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordSegmentRotation records a ledger segment rotation by reason
// ("bytes" or "day_boundary").
func (m *Metrics) RecordSegmentRotation(service, reason string) {
	m.LedgerSegmentsTotal.WithLabelValues(service, reason).Inc()
}

// SetActiveSegmentBytes reports the current size of the active segment.
func (m *Metrics) SetActiveSegmentBytes(size int64) {
	m.LedgerSegmentBytes.Set(float64(size))
}

// RecordChainVerify records the outcome of a chain verification pass.
func (m *Metrics) RecordChainVerify(service string, duration time.Duration, issuesByKind map[string]int) {
	m.ChainVerifyDuration.WithLabelValues(service).Observe(duration.Seconds())
	for kind, count := range issuesByKind {
		m.ChainVerifyIssues.WithLabelValues(service, kind).Add(float64(count))
	}
}

// RecordChainOp records a chain operation outcome ("written" or "deduped").
func (m *Metrics) RecordChainOp(service, op string, wrote bool) {
	outcome := "deduped"
	if wrote {
		outcome = "written"
	}
	m.ChainOpsTotal.WithLabelValues(service, op, outcome).Inc()
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be collected.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, initializing it on first use.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
