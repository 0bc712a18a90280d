package metrics

import "github.com/prometheus/client_golang/prometheus"

// DepositMetrics counts lifecycle activity across deposits.
type DepositMetrics struct {
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
}

// NewDepositMetrics registers the deposit lifecycle metrics on the provided registerer.
func NewDepositMetrics(reg prometheus.Registerer) *DepositMetrics {
	if reg == nil {
		return &DepositMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_transitions_total",
		Help: "Deposit field transitions by field and target value.",
	}, []string{"field", "value"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_notifications_total",
		Help: "Notification attempts by type and final status.",
	}, []string{"type", "status"})
	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_calls_total",
		Help: "Payment gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	reg.MustRegister(transitions, notifications, gatewayCalls)
	return &DepositMetrics{
		transitions:   transitions,
		notifications: notifications,
		gatewayCalls:  gatewayCalls,
	}
}

// IncTransition counts a change of status or payment_status.
func (m *DepositMetrics) IncTransition(field, value string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(field), normalizeLabel(value)).Inc()
}

// IncNotification counts a finalized notification attempt.
func (m *DepositMetrics) IncNotification(kind, status string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Inc()
}

// IncGatewayCall counts a payment gateway round trip.
func (m *DepositMetrics) IncGatewayCall(operation string, err error) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(operation), outcome).Inc()
}
