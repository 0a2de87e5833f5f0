package reservation

import (
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts reservation outcomes for one leaf. A nil *Metrics is a
// no-op.
type Metrics struct {
	confirmed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	revenue   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		confirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservations_confirmed_total",
			Help: "Reservations confirmed for a booking.",
		}, []string{"leaf"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservations_failed_total",
			Help: "Reservations refused and reported as BookingFailed.",
		}, []string{"leaf"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservations_cancelled_total",
			Help: "Reservations cancelled by compensation.",
		}, []string{"leaf"}),
		revenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reservations_revenue_cents_total",
			Help: "Confirmed reservation value in cents.",
		}, []string{"leaf"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reservation_processing_duration_seconds",
			Help:    "Time to price and store a reservation.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"leaf", "outcome"}),
	}
	registerer.MustRegister(m.confirmed, m.failed, m.cancelled, m.revenue, m.duration)
	return m
}

func (m *Metrics) Confirmed(step events.StepType, price int64, took time.Duration) {
	if m == nil {
		return
	}
	m.confirmed.WithLabelValues(step.String()).Inc()
	m.revenue.WithLabelValues(step.String()).Add(float64(price))
	m.duration.WithLabelValues(step.String(), "confirmed").Observe(took.Seconds())
}

func (m *Metrics) Failed(step events.StepType, took time.Duration) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(step.String()).Inc()
	m.duration.WithLabelValues(step.String(), "failed").Observe(took.Seconds())
}

func (m *Metrics) Cancelled(step events.StepType) {
	if m == nil {
		return
	}
	m.cancelled.WithLabelValues(step.String()).Inc()
}
