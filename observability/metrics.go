package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// relayMetrics captures per-message decision-loop outcomes: how many
// messages were decided, with what verdict, how long the decision loop
// took, and how many were throttled by the rate limiter.
type relayMetrics struct {
	decisions *prometheus.CounterVec
	denials   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	relayMetricsOnce sync.Once
	relayRegistry    *relayMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	admissionMetricsOnce sync.Once
	admissionRegistry    *admissionMetrics
)

// Relay returns the lazily-initialised relay metrics registry used to
// record per-message decision outcomes across both transports.
func Relay() *relayMetrics {
	relayMetricsOnce.Do(func() {
		relayRegistry = &relayMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "toolwarden",
				Subsystem: "relay",
				Name:      "decisions_total",
				Help:      "Total per-message decisions segmented by server, verdict, and transport.",
			}, []string{"server", "verdict", "transport"}),
			denials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "toolwarden",
				Subsystem: "relay",
				Name:      "denials_total",
				Help:      "Total tool calls denied, segmented by server and reason (policy or risk).",
			}, []string{"server", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "toolwarden",
				Subsystem: "relay",
				Name:      "decision_duration_seconds",
				Help:      "Latency distribution for the per-message decision loop.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"transport"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "toolwarden",
				Subsystem: "relay",
				Name:      "rate_limited_total",
				Help:      "Count of requests rejected by the admission rate limiter.",
			}, []string{"subject_type"}),
		}
		prometheus.MustRegister(
			relayRegistry.decisions,
			relayRegistry.denials,
			relayRegistry.latency,
			relayRegistry.throttles,
		)
	})
	return relayRegistry
}

// RecordDecision records the verdict reached for one message.
func (m *relayMetrics) RecordDecision(server, verdict, transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(labelOrUnknown(server), labelOrUnknown(verdict), labelOrUnknown(transport)).Inc()
	m.latency.WithLabelValues(labelOrUnknown(transport)).Observe(d.Seconds())
}

// RecordDenial increments the denial counter for server, tagged with why the
// call was denied ("policy" or "risk").
func (m *relayMetrics) RecordDenial(server, reason string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(labelOrUnknown(server), labelOrUnknown(reason)).Inc()
}

// RecordThrottle increments the rate-limit rejection counter for the given
// principal type ("session" or "api_key").
func (m *relayMetrics) RecordThrottle(subjectType string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOrUnknown(subjectType)).Inc()
}

// ledgerMetrics captures the health of the audit ledger's append path: how
// many appends succeeded or failed, and whether the ledger failure breaker
// is currently tripped.
type ledgerMetrics struct {
	failures *prometheus.CounterVec
	breaker  prometheus.Gauge
}

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "toolwarden",
				Subsystem: "ledger",
				Name:      "append_failures_total",
				Help:      "Count of failed audit ledger append attempts.",
			}, []string{"server"}),
			breaker: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "toolwarden",
				Subsystem: "ledger",
				Name:      "breaker_tripped",
				Help:      "1 when the ledger-failure breaker has fail-closed tool call admission, 0 otherwise.",
			}),
		}
		prometheus.MustRegister(ledgerRegistry.failures, ledgerRegistry.breaker)
	})
	return ledgerRegistry
}

// RecordAppendFailure increments the append-failure counter for server.
func (m *ledgerMetrics) RecordAppendFailure(server string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(labelOrUnknown(server)).Inc()
}

// SetBreakerTripped reflects the orchestrator's ledger failure breaker state.
func (m *ledgerMetrics) SetBreakerTripped(tripped bool) {
	if m == nil {
		return
	}
	if tripped {
		m.breaker.Set(1)
		return
	}
	m.breaker.Set(0)
}

// admissionMetrics captures bearer-credential and rate-limit outcomes at the
// admission layer.
type admissionMetrics struct {
	authOutcomes *prometheus.CounterVec
}

// Admission returns the lazily-initialised admission metrics registry.
func Admission() *admissionMetrics {
	admissionMetricsOnce.Do(func() {
		admissionRegistry = &admissionMetrics{
			authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "toolwarden",
				Subsystem: "admission",
				Name:      "authenticate_total",
				Help:      "Bearer authentication attempts segmented by outcome (session, api_key, rejected).",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(admissionRegistry.authOutcomes)
	})
	return admissionRegistry
}

// RecordAuthOutcome increments the authenticate counter for outcome, one of
// "session", "api_key", or "rejected".
func (m *admissionMetrics) RecordAuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

func labelOrUnknown(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
