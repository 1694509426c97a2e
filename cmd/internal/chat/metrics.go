package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the store collectors. A nil *Metrics records nothing.
type Metrics struct {
	polls      *prometheus.CounterVec
	merges     *prometheus.CounterVec
	duplicates prometheus.Counter
	stale      prometheus.Counter
	unreadHeld prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "chat",
			Name:      "polls_total",
			Help:      "Polling rounds by result.",
		}, []string{"result"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "chat",
			Name:      "message_merges_total",
			Help:      "Message list merges by source (push, poll, load, send).",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "chat",
			Name:      "duplicate_messages_total",
			Help:      "Messages dropped because their id was already present.",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "chat",
			Name:      "stale_results_total",
			Help:      "REST results discarded because the store was disabled meanwhile.",
		}),
		unreadHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aifshop",
			Subsystem: "chat",
			Name:      "unread_decreases_ignored_total",
			Help:      "Unread count decreases ignored because no read acknowledgment confirmed them.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.polls, m.merges, m.duplicates, m.stale, m.unreadHeld)
	}
	return m
}

func (m *Metrics) poll(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.polls.WithLabelValues(result).Inc()
}

func (m *Metrics) merged(source string, dups int) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(source).Inc()
	if dups > 0 {
		m.duplicates.Add(float64(dups))
	}
}

func (m *Metrics) staleResult() {
	if m == nil {
		return
	}
	m.stale.Inc()
}

func (m *Metrics) heldUnread() {
	if m == nil {
		return
	}
	m.unreadHeld.Inc()
}
