package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the hub connection collectors. A nil *Metrics records nothing.
type Metrics struct {
	state       prometheus.Gauge
	connects    *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	events      *prometheus.CounterVec
	invocations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aifshop",
			Subsystem: "hub",
			Name:      "connection_state",
			Help:      "Current hub connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=disconnecting).",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "hub",
			Name:      "connects_total",
			Help:      "Initial connection attempts by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "hub",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "hub",
			Name:      "events_total",
			Help:      "Inbound hub events dispatched to handlers.",
		}, []string{"event"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "hub",
			Name:      "invocations_total",
			Help:      "Hub method invocations by target and result.",
		}, []string{"target", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.connects, m.reconnects, m.events, m.invocations)
	}
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) connectResult(err error) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) reconnectResult(err error) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) eventDispatched(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) invocation(target string, err error) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(target, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
