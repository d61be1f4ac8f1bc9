package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

type relayMetrics struct {
	activeSessions prometheus.Gauge
	sessionTotal   prometheus.Counter
	authAttempts   *prometheus.CounterVec
	envelopes      *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	pending        prometheus.Gauge
	violations     *prometheus.CounterVec
}

func newRelayMetrics(reg prometheus.Registerer) *relayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &relayMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "talkrelay_sessions_active",
			Help: "Current number of authenticated sessions.",
		}),
		sessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talkrelay_sessions_total",
			Help: "Total number of sessions authenticated since start.",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talkrelay_auth_attempts_total",
			Help: "Registration attempts grouped by outcome.",
		}, []string{"result"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talkrelay_envelopes_received_total",
			Help: "Envelopes received from participants grouped by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talkrelay_deliveries_total",
			Help: "Routing outcomes grouped by status.",
		}, []string{"status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "talkrelay_pending_binaries",
			Help: "Binary payloads waiting for a confirmation response.",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talkrelay_protocol_violations_total",
			Help: "Unknown, misdirected or malformed envelopes.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionTotal,
		m.authAttempts,
		m.envelopes,
		m.deliveries,
		m.pending,
		m.violations,
	)
	return m
}

func (m *relayMetrics) incSession() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionTotal.Inc()
}

func (m *relayMetrics) decSession() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *relayMetrics) recordAuth(result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

func (m *relayMetrics) recordEnvelope(kind string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(kind).Inc()
}

func (m *relayMetrics) recordDelivery(status DeliveryStatus) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status.String()).Inc()
}

func (m *relayMetrics) addPending(n int) {
	if m == nil {
		return
	}
	m.pending.Add(float64(n))
}

func (m *relayMetrics) recordViolation(reason string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(reason).Inc()
}
