package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "schedule_sync"

// Sides of the router a counter is recorded from.
const (
	SideServer = "server"
	SideClient = "client"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	Messages          *prometheus.CounterVec
	RouteErrors       *prometheus.CounterVec
	LockRequests      *prometheus.CounterVec
	LocksReleased     *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live collaboration sessions",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of connections attached to a session",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Frames routed, by side and message type",
		}, []string{"side", "type"}),
		RouteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_errors_total",
			Help:      "Frames dropped by the router, by side and reason",
		}, []string{"side", "reason"}),
		LockRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_requests_total",
			Help:      "Lock requests processed, by result",
		}, []string{"result"}),
		LocksReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_released_total",
			Help:      "Locks released, by reason",
		}, []string{"reason"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Client reconnect attempts, by outcome",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.ConnectionsActive,
			m.Messages,
			m.RouteErrors,
			m.LockRequests,
			m.LocksReleased,
			m.ReconnectAttempts,
		)
	}
	return m
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) ConnAttached() {
	if m != nil {
		m.ConnectionsActive.Inc()
	}
}

func (m *Metrics) ConnDetached() {
	if m != nil {
		m.ConnectionsActive.Dec()
	}
}

func (m *Metrics) Message(side, msgType string) {
	if m != nil {
		m.Messages.WithLabelValues(side, msgType).Inc()
	}
}

func (m *Metrics) RouteError(side, reason string) {
	if m != nil {
		m.RouteErrors.WithLabelValues(side, reason).Inc()
	}
}

func (m *Metrics) LockRequest(granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.LockRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) LockReleased(reason string) {
	if m != nil {
		m.LocksReleased.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ReconnectAttempt(outcome string) {
	if m != nil {
		m.ReconnectAttempts.WithLabelValues(outcome).Inc()
	}
}
