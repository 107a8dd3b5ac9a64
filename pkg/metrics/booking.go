package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ticketbooth"

// Reservation outcomes.
const (
	OutcomeReserved         = "reserved"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeWindowClosed     = "sales_window_closed"
	OutcomeRejected         = "rejected"
	OutcomeStoreFailure     = "store_failure"
)

// Webhook outcomes.
const (
	WebhookApplied          = "applied"
	WebhookNoop             = "noop"
	WebhookDuplicate        = "duplicate"
	WebhookIgnored          = "ignored"
	WebhookInvalidSignature = "invalid_signature"
	WebhookDataError        = "data_error"
	WebhookFailed           = "failed"
)

// BookingMetrics tracks the reservation and settlement flow.
type BookingMetrics struct {
	reservations      *prometheus.CounterVec
	reserveDuration   prometheus.Histogram
	webhookEvents     *prometheus.CounterVec
	compensatedUnits  prometheus.Counter
	integrityWarnings prometheus.Counter
	ticketsIssued     prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	if reg == nil {
		return &BookingMetrics{}
	}
	m := &BookingMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		}, []string{"outcome"}),
		reserveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_duration_seconds",
			Help:      "Time spent in the reservation transaction, lock waits included.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by normalized kind and outcome.",
		}, []string{"kind", "outcome"}),
		compensatedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensated_units_total",
			Help:      "Seats returned to tier inventory.",
		}),
		integrityWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_integrity_warnings_total",
			Help:      "Compensations that found sold_quantity lower than the seats being released.",
		}),
		ticketsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_issued_total",
			Help:      "Ticket codes minted.",
		}),
	}
	reg.MustRegister(m.reservations, m.reserveDuration, m.webhookEvents, m.compensatedUnits, m.integrityWarnings, m.ticketsIssued)
	return m
}

func (m *BookingMetrics) ObserveReservation(outcome string, took time.Duration) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.reserveDuration.Observe(took.Seconds())
}

func (m *BookingMetrics) IncWebhook(kind, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *BookingMetrics) AddCompensated(units int) {
	if m == nil || m.compensatedUnits == nil || units <= 0 {
		return
	}
	m.compensatedUnits.Add(float64(units))
}

func (m *BookingMetrics) IncIntegrityWarning() {
	if m == nil || m.integrityWarnings == nil {
		return
	}
	m.integrityWarnings.Inc()
}

func (m *BookingMetrics) AddIssued(n int) {
	if m == nil || m.ticketsIssued == nil || n <= 0 {
		return
	}
	m.ticketsIssued.Add(float64(n))
}
