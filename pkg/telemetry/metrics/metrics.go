// Package metrics exposes Prometheus metrics for access decisions and
// the ledger.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains configuration for metric registration.
type Config struct {
	// Namespace is the metric namespace prefix.
	Namespace string
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() *Config {
	return &Config{Namespace: "portcullis"}
}

// AccessMetrics tracks metrics for access decision processing.
//
// Metrics:
//   - portcullis_access_decisions_total: Decisions by result and policy
//   - portcullis_access_decision_duration_seconds: End-to-end decision duration
type AccessMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
}

// NewAccessMetrics creates and registers access metrics with the provided registry.
func NewAccessMetrics(cfg *Config, registry *prometheus.Registry) *AccessMetrics {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	am := &AccessMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "access_decisions_total",
				Help:      "Total number of access decisions",
			},
			[]string{"result", "policy_id"},
		),

		decisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "access_decision_duration_seconds",
				Help:      "End-to-end duration of access decision processing in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
		),
	}

	registry.MustRegister(
		am.decisionsTotal,
		am.decisionDuration,
	)

	return am
}

// RecordDecision records one processed access decision.
func (am *AccessMetrics) RecordDecision(permitted bool, policyID string, duration time.Duration) {
	result := "permitted"
	if !permitted {
		result = "denied"
	}
	if policyID == "" {
		policyID = "none"
	}
	am.decisionsTotal.WithLabelValues(result, policyID).Inc()
	am.decisionDuration.Observe(duration.Seconds())
}

// LedgerMetrics tracks metrics for the event ledger.
//
// Metrics:
//   - portcullis_ledger_appends_total: Appended events by kind
//   - portcullis_ledger_chain_length: Current chain length
//   - portcullis_ledger_verifications_total: Verification runs by outcome
type LedgerMetrics struct {
	appendsTotal       *prometheus.CounterVec
	chainLength        prometheus.Gauge
	verificationsTotal *prometheus.CounterVec
}

// NewLedgerMetrics creates and registers ledger metrics with the provided registry.
func NewLedgerMetrics(cfg *Config, registry *prometheus.Registry) *LedgerMetrics {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	lm := &LedgerMetrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "ledger_appends_total",
				Help:      "Total number of events appended to the ledger",
			},
			[]string{"kind"},
		),

		chainLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "ledger_chain_length",
				Help:      "Number of events in the ledger chain",
			},
		),

		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "ledger_verifications_total",
				Help:      "Total number of chain verification runs",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		lm.appendsTotal,
		lm.chainLength,
		lm.verificationsTotal,
	)

	return lm
}

// RecordAppend records an appended event and the resulting chain length.
func (lm *LedgerMetrics) RecordAppend(kind string, chainLength int64) {
	lm.appendsTotal.WithLabelValues(kind).Inc()
	lm.chainLength.Set(float64(chainLength))
}

// RecordVerification records a completed verification run.
func (lm *LedgerMetrics) RecordVerification(intact bool) {
	outcome := "intact"
	if !intact {
		outcome = "corrupted"
	}
	lm.verificationsTotal.WithLabelValues(outcome).Inc()
}

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
