package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsCountRunsAndRows(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "pending-order-sweep"

	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job)
	m.IncSuccess(job)
	m.IncFailure(job)
	m.AddRows(job, 4)
	m.AddRows(job, 0)
	m.IncSuccess("")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues(job, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(job, "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.affected.WithLabelValues(job)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	hist := histogramFor(t, reg, "ticketbooth_cron_job_duration_seconds", job)
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.InDelta(t, 0.25, hist.GetSampleSum(), 1e-9)
}

func histogramFor(t *testing.T, reg *prometheus.Registry, name, job string) *dto.Histogram {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetHistogram()
				}
			}
		}
	}
	t.Fatalf("histogram %s{job=%q} not found", name, job)
	return nil
}

func TestBookingMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveReservation(OutcomeReserved, 10*time.Millisecond)
	m.ObserveReservation(OutcomeCapacityExceeded, time.Millisecond)
	m.IncWebhook("checkout.session.completed", WebhookApplied)
	m.AddCompensated(3)
	m.AddIssued(2)
	m.AddIssued(-1)

	expected := `
# HELP ticketbooth_compensated_units_total Seats returned to tier inventory.
# TYPE ticketbooth_compensated_units_total counter
ticketbooth_compensated_units_total 3
# HELP ticketbooth_tickets_issued_total Ticket codes minted.
# TYPE ticketbooth_tickets_issued_total counter
ticketbooth_tickets_issued_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ticketbooth_compensated_units_total", "ticketbooth_tickets_issued_total"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues(OutcomeCapacityExceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("checkout.session.completed", WebhookApplied)))
}

func TestOutboxMetricsLabelUnresolvedTopic(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())
	m.Inc("", OutboxDeadLettered)
	m.Inc("orders", OutboxPublished)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("unresolved", OutboxDeadLettered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("orders", OutboxPublished)))
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewCronJobMetrics(nil).IncSuccess("job")
	NewBookingMetrics(nil).IncWebhook("succeeded", WebhookApplied)
	NewOutboxMetrics(nil).Inc("orders", OutboxRetried)
	var m *BookingMetrics
	m.AddCompensated(3)
	m.IncIntegrityWarning()
}
