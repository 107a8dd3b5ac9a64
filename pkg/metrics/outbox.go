package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish results.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics counts relay results per topic.
type OutboxMetrics struct {
	events *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox rows handled by the publisher, by topic and result.",
		}, []string{"topic", "result"}),
	}
	reg.MustRegister(m.events)
	return m
}

func (m *OutboxMetrics) Inc(topic, result string) {
	if m == nil || m.events == nil {
		return
	}
	if topic == "" {
		topic = "unresolved"
	}
	m.events.WithLabelValues(topic, result).Inc()
}
