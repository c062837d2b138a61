// Package metrics exposes Prometheus collectors for the circuit and session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slproto"

// Metrics holds the collectors recorded by the circuit and the session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec
	resends         prometheus.Counter
	acksSent        prometheus.Counter
	pendingReliable prometheus.Gauge
	sessionState    prometheus.Gauge
	ackRTT          prometheus.Histogram
	logins          *prometheus.CounterVec
}

// New registers the collectors on reg. Passing nil uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "packets_sent_total",
			Help:      "Packets sent on the circuit by message name",
		}, []string{"message"}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "packets_received_total",
			Help:      "Packets received on the circuit by message name",
		}, []string{"message"}),

		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "packets_dropped_total",
			Help:      "Inbound packets dropped by reason",
		}, []string{"reason"}),

		resends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "resends_total",
			Help:      "Reliable packets retransmitted",
		}),

		acksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "acks_sent_total",
			Help:      "Sequence numbers acknowledged to the simulator",
		}),

		pendingReliable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "pending_reliable",
			Help:      "Reliable packets awaiting acknowledgement",
		}),

		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current handshake state ordinal",
		}),

		ackRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "circuit",
			Name:      "ack_rtt_seconds",
			Help:      "Time from reliable send to acknowledgement",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "attempts_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
	}
}

// PacketSent counts an outbound packet.
func (m *Metrics) PacketSent(message string) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(message).Inc()
}

// PacketReceived counts an inbound packet that decoded.
func (m *Metrics) PacketReceived(message string) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(message).Inc()
}

// PacketDropped counts an inbound packet that was discarded.
func (m *Metrics) PacketDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

// Resent counts a reliable retransmission.
func (m *Metrics) Resent() {
	if m == nil {
		return
	}
	m.resends.Inc()
}

// AcksSent counts acknowledged sequence numbers.
func (m *Metrics) AcksSent(n int) {
	if m == nil {
		return
	}
	m.acksSent.Add(float64(n))
}

// SetPending records the size of the unacknowledged table.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingReliable.Set(float64(n))
}

// SetState records the handshake state ordinal.
func (m *Metrics) SetState(ordinal int) {
	if m == nil {
		return
	}
	m.sessionState.Set(float64(ordinal))
}

// ObserveAckRTT records an acknowledgement round trip in seconds.
func (m *Metrics) ObserveAckRTT(seconds float64) {
	if m == nil {
		return
	}
	m.ackRTT.Observe(seconds)
}

// LoginAttempt counts a login by result ("success", "auth_failed", "error").
func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}
