// Package metrics holds the booking-service business instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/md-rashed-zaman/tripsaga/libs/events"
	"github.com/prometheus/client_golang/prometheus"
)

type Booking struct {
	created       *prometheus.CounterVec
	confirmed     prometheus.Counter
	failed        *prometheus.CounterVec
	cancelled     prometheus.Counter
	stepCompleted *prometheus.CounterVec
	compensations *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	revenue       prometheus.Counter
	inFlight      prometheus.Gauge
}

func New(registerer prometheus.Registerer) *Booking {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Booking{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookings_created_total",
			Help: "Bookings accepted, by requested steps.",
		}, []string{"flight", "hotel", "car"}),
		confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_confirmed_total",
			Help: "Bookings whose every requested step completed.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookings_failed_total",
			Help: "Bookings failed by a leaf refusal, by failing step.",
		}, []string{"step"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_cancelled_total",
			Help: "Bookings cancelled by the user.",
		}),
		stepCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_steps_completed_total",
			Help: "Leaf confirmations recorded on a booking.",
		}, []string{"step"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_compensations_requested_total",
			Help: "Compensation requests issued for completed steps.",
		}, []string{"step"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booking_saga_duration_seconds",
			Help:    "Time from booking creation to a final status.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"status"}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_revenue_cents_total",
			Help: "Total price of confirmed bookings in cents.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bookings_in_flight",
			Help: "Bookings created but not yet confirmed, failed or cancelled.",
		}),
	}
	registerer.MustRegister(
		m.created,
		m.confirmed,
		m.failed,
		m.cancelled,
		m.stepCompleted,
		m.compensations,
		m.duration,
		m.revenue,
		m.inFlight,
	)
	return m
}

func (m *Booking) Created(flight, hotel, car bool) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(strconv.FormatBool(flight), strconv.FormatBool(hotel), strconv.FormatBool(car)).Inc()
	m.inFlight.Inc()
}

func (m *Booking) StepCompleted(step events.StepType) {
	if m == nil {
		return
	}
	m.stepCompleted.WithLabelValues(step.String()).Inc()
}

func (m *Booking) Confirmed(totalPrice int64, took time.Duration) {
	if m == nil {
		return
	}
	m.confirmed.Inc()
	m.revenue.Add(float64(totalPrice))
	m.duration.WithLabelValues("confirmed").Observe(took.Seconds())
	m.inFlight.Dec()
}

func (m *Booking) Failed(step events.StepType, took time.Duration) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(step.String()).Inc()
	m.duration.WithLabelValues("failed").Observe(took.Seconds())
	m.inFlight.Dec()
}

// Cancelled counts a user cancellation. wasInFlight is false when the
// booking had already been confirmed.
func (m *Booking) Cancelled(wasInFlight bool) {
	if m == nil {
		return
	}
	m.cancelled.Inc()
	if wasInFlight {
		m.inFlight.Dec()
	}
}

func (m *Booking) CompensationRequested(step events.StepType) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(step.String()).Inc()
}
