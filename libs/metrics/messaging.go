// Package metrics holds the Prometheus instruments shared by every service's
// messaging layer. All methods are safe on a nil receiver.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Messaging struct {
	outboxEnqueued      *prometheus.CounterVec
	outboxPublished     *prometheus.CounterVec
	outboxPublishFailed *prometheus.CounterVec
	outboxPermanent     *prometheus.CounterVec
	outboxPublishTime   *prometheus.HistogramVec
	inboxConsumed       *prometheus.CounterVec
	inboxDuplicates     *prometheus.CounterVec
	inboxConsumeTime    *prometheus.HistogramVec
	deadLettered        *prometheus.CounterVec
}

func NewMessaging(registerer prometheus.Registerer, service string) *Messaging {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}
	constLabels := prometheus.Labels{"service": service}

	m := &Messaging{
		outboxEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "outbox_messages_enqueued_total",
			Help:        "Outbox rows staged inside a business transaction.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "outbox_messages_published_total",
			Help:        "Outbox rows delivered to the broker.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		outboxPublishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "outbox_publish_failures_total",
			Help:        "Broker publish attempts that failed and will be retried.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		outboxPermanent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "outbox_permanent_failures_total",
			Help:        "Outbox rows parked for operator inspection.",
			ConstLabels: constLabels,
		}, []string{"type", "reason"}),
		outboxPublishTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "outbox_publish_duration_seconds",
			Help:        "Broker publish latency per outbox row.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"type"}),
		inboxConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "inbox_messages_consumed_total",
			Help:        "Inbound messages processed by a consumer.",
			ConstLabels: constLabels,
		}, []string{"consumer"}),
		inboxDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "inbox_duplicates_skipped_total",
			Help:        "Redelivered messages suppressed by the inbox.",
			ConstLabels: constLabels,
		}, []string{"consumer"}),
		inboxConsumeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "inbox_consume_duration_seconds",
			Help:        "Handler latency including the inbox write.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"consumer"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "consumer_dead_lettered_total",
			Help:        "Messages moved to a dead-letter topic after exhausting retries.",
			ConstLabels: constLabels,
		}, []string{"topic"}),
	}
	registerer.MustRegister(
		m.outboxEnqueued,
		m.outboxPublished,
		m.outboxPublishFailed,
		m.outboxPermanent,
		m.outboxPublishTime,
		m.inboxConsumed,
		m.inboxDuplicates,
		m.inboxConsumeTime,
		m.deadLettered,
	)
	return m
}

func (m *Messaging) OutboxEnqueued(msgType string) {
	if m == nil {
		return
	}
	m.outboxEnqueued.WithLabelValues(msgType).Inc()
}

func (m *Messaging) OutboxPublished(msgType string, took time.Duration) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(msgType).Inc()
	m.outboxPublishTime.WithLabelValues(msgType).Observe(took.Seconds())
}

func (m *Messaging) OutboxPublishFailed(msgType string, took time.Duration) {
	if m == nil {
		return
	}
	m.outboxPublishFailed.WithLabelValues(msgType).Inc()
	m.outboxPublishTime.WithLabelValues(msgType).Observe(took.Seconds())
}

// OutboxPermanentFailure counts a parked row. reason is low cardinality:
// "unresolvable" or "retries_exhausted".
func (m *Messaging) OutboxPermanentFailure(msgType, reason string) {
	if m == nil {
		return
	}
	m.outboxPermanent.WithLabelValues(msgType, reason).Inc()
}

func (m *Messaging) InboxConsumed(consumer string, took time.Duration) {
	if m == nil {
		return
	}
	m.inboxConsumed.WithLabelValues(consumer).Inc()
	m.inboxConsumeTime.WithLabelValues(consumer).Observe(took.Seconds())
}

func (m *Messaging) InboxDuplicate(consumer string) {
	if m == nil {
		return
	}
	m.inboxDuplicates.WithLabelValues(consumer).Inc()
}

func (m *Messaging) DeadLettered(topic string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(topic).Inc()
}
